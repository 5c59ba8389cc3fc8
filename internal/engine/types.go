package engine

import "time"

// RetrievedMemory is one memory as surfaced to a chat turn, annotated with
// whichever score ranked it.
type RetrievedMemory struct {
	MemID      string    `json:"mem_id"`
	Text       string    `json:"text"`
	Similarity float64   `json:"similarity,omitempty"`
	RFMScore   float64   `json:"rfm_score,omitempty"`
	LastUsed   time.Time `json:"-"`
}

// Retrieved groups the memory blocks a turn pulled in. A nil slice means the
// mode did not run that retrieval; an empty one means it ran and found
// nothing.
type Retrieved struct {
	Semantic []RetrievedMemory `json:"semantic,omitempty"`
	RFM      []RetrievedMemory `json:"rfm,omitempty"`
}

// TurnResult is the structured outcome of one chat turn. The timing fields
// are observability, not semantic output.
type TurnResult struct {
	Answer        string    `json:"answer"`
	FetchTime     float64   `json:"fetch_time"`
	ResponseTime  float64   `json:"response_time"`
	EmbeddingTime float64   `json:"embedding_time,omitempty"`
	Retrieved     Retrieved `json:"memories_retrieved"`
}

// Decision outcomes of the write path.
const (
	OutcomeAdd      = "add"
	OutcomeMerge    = "merge"
	OutcomeOverride = "override"
	OutcomeNone     = "none"
	OutcomeInvalid  = "invalid"
)
