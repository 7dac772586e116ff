package model

import "time"

// ChatMessage is a single conversation turn stored in Redis for the
// lifetime of one chat session.
type ChatMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
