// Package pipeline is the asynchronous work tier: two families of durable
// per-user queues, a publisher on the chat hot path, dynamically discovered
// consumers, and a janitor that deletes idle queues.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Queue name families. One queue of each family per active user.
const (
	MemoryQueuePrefix = "memory_tasks_user_"
	LogQueuePrefix    = "message_logs_user_"
)

// MemoryQueue returns the memory-task queue name for a user.
func MemoryQueue(userID string) string { return MemoryQueuePrefix + userID }

// LogQueue returns the message-log queue name for a user.
func LogQueue(userID string) string { return LogQueuePrefix + userID }

// IsMemoryQueue reports whether a queue belongs to the memory-task family.
func IsMemoryQueue(name string) bool { return strings.HasPrefix(name, MemoryQueuePrefix) }

// IsLogQueue reports whether a queue belongs to the message-log family.
func IsLogQueue(name string) bool { return strings.HasPrefix(name, LogQueuePrefix) }

// IsUserQueue reports whether a queue belongs to either per-user family.
func IsUserQueue(name string) bool { return IsMemoryQueue(name) || IsLogQueue(name) }

// QueueMessage is one exchange as carried on the wire: UTF-8 JSON.
type QueueMessage struct {
	UserID      string `json:"user_id"`
	UserMessage string `json:"user_message"`
	BotResponse string `json:"bot_response"`
}

// ErrIncompleteMessage marks a parsed message missing a required field.
var ErrIncompleteMessage = errors.New("pipeline: message missing required fields")

// ParseMessage decodes and validates a queue message body.
func ParseMessage(body []byte) (QueueMessage, error) {
	var msg QueueMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return QueueMessage{}, fmt.Errorf("pipeline: malformed message: %w", err)
	}
	if msg.UserID == "" || msg.UserMessage == "" || msg.BotResponse == "" {
		return QueueMessage{}, ErrIncompleteMessage
	}
	return msg, nil
}
