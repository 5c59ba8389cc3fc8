package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/ranking"
)

// Prompt templates for the oracle. Block labels and phrasing are part of the
// service contract: retrieval quality depends on the model seeing similarity
// and RFM annotations next to each memory.

func answerPrompt(input string, recent []cache.ChatRecord, semantic []RetrievedMemory, rfm []RetrievedMemory, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are an assistant with memory. Use the following memories and recent chat to respond.\n\n")

	b.WriteString("Recent Chat:\n")
	if len(recent) == 0 {
		b.WriteString("No recent messages.\n")
	}
	for _, c := range recent {
		fmt.Fprintf(&b, "[%s] User: %s\nBot: %s\n", ranking.TimeAgo(c.Timestamp, now), c.UserMessage, c.BotResponse)
	}

	if semantic != nil {
		b.WriteString("\nSemantically Relevant Memories:\n")
		if len(semantic) == 0 {
			b.WriteString("No relevant memories.\n")
		}
		for _, m := range semantic {
			fmt.Fprintf(&b, "- %s (similarity %.2f, from %s)\n", m.Text, m.Similarity, ranking.TimeAgo(m.LastUsed, now))
		}
	}

	if rfm != nil {
		b.WriteString("\nImportant Memories (ranked by RFM):\n")
		if len(rfm) == 0 {
			b.WriteString("No ranked memories.\n")
		}
		for _, m := range rfm {
			fmt.Fprintf(&b, "- %s (rfm_score %.2f)\n", m.Text, m.RFMScore)
		}
	}

	fmt.Fprintf(&b, "\nUser: %s\nBot:", input)
	return b.String()
}

func extractionPrompt(summary string, history []cache.ChatRecord, userMsg, botResp string) string {
	var b strings.Builder
	b.WriteString("You are a memory extraction engine.\n\n")
	fmt.Fprintf(&b, "Summary of what is known about the user:\n%s\n\n", summary)
	b.WriteString("Recent history:\n")
	for _, c := range history {
		fmt.Fprintf(&b, "User: %s\nBot: %s\n", c.UserMessage, c.BotResponse)
	}
	fmt.Fprintf(&b, "\nCurrent exchange:\nUser: %s\nBot: %s\n\n", userMsg, botResp)
	b.WriteString("Generate up to 2 distinct bullet-point memories about the user, " +
		"each about 15 words, written in third person, rich in concrete nouns and verbs " +
		"so they can be retrieved later. Only include durable facts worth remembering. " +
		"If there is nothing new, reply exactly 'None'.")
	return b.String()
}

func summaryPrompt(memories []string) string {
	var b strings.Builder
	b.WriteString("You are a memory summarizer.\n\nKnown memories:")
	for _, m := range memories {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	b.WriteString("\n\nSummarize the user's personality, interests, and preferences in 3-5 lines.")
	return b.String()
}

func decisionPrompt(candidate string, similar []cache.KNNResult) string {
	var b strings.Builder
	b.WriteString("You are a memory manager deciding how a new candidate memory relates to existing ones.\n\n")
	fmt.Fprintf(&b, "Candidate: %s\n\nExisting memories:\n", candidate)
	for i, s := range similar {
		fmt.Fprintf(&b, "[%d] %s (similarity %.2f)\n", i+1, s.MemoryText, s.Similarity)
	}
	b.WriteString("\nRespond with exactly one of:\n" +
		"'add' if the candidate is new information,\n" +
		"'merge: num,...' if it should be combined with the numbered memories,\n" +
		"'override: num,...' if it contradicts and replaces the numbered memories,\n" +
		"'none' if nothing should change.")
	return b.String()
}

func consolidationPrompt(existing, candidate string) string {
	return fmt.Sprintf("You are consolidating two memories about the same user into one.\n\n"+
		"Existing: %s\nNew: %s\n\n"+
		"Write a single merged memory of at most 20 words (no more than 2 sentences) "+
		"that preserves the keywords of both. Output only the merged sentence.",
		existing, candidate)
}

func magnitudePrompt(text string) string {
	return fmt.Sprintf(`You are an expert assistant evaluating how important a statement about a user is.

Rate the importance of the following on a scale from 0 (not important) to 5 (very important):

Focus on the user's point of view, not external facts.
Statements that are highly personal, emotionally significant, or reveal things the user would typically share only with someone close should score higher.
Statements that are informative about the user, such as their preferences, goals, values, or memories, also warrant a higher score.
General, casual, or non-personal statements should score lower.

Statement: "%s"

Only output a single number between 0 and 5.`, text)
}
