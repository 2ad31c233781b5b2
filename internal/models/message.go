package models

import (
	"strings"
	"time"
)

// Sender identifies who produced a log entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderError     Sender = "error"
)

// NormalizeSender maps a role reported by the chat API onto a Sender.
// The API speaks of the persona as "model" (or "ai"); both become assistant.
func NormalizeSender(role string) (Sender, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return SenderUser, true
	case "assistant", "model", "ai":
		return SenderAssistant, true
	case "error":
		return SenderError, true
	default:
		return "", false
	}
}

// Message captures an individual conversational entry. Messages are never
// mutated once appended to a log.
type Message struct {
	ID         string    `json:"id"`
	Sender     Sender    `json:"sender"`
	Text       string    `json:"text"`
	RenderedAt time.Time `json:"rendered_at"`
}

// HistoryEntry is one stored turn as delivered by the profile fetch.
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"message"`
}
