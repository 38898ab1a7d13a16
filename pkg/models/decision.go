package models

import "time"

// DecisionEntry is one past analysis kept as conversational memory for a user.
type DecisionEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Prompt    string    `json:"prompt"`
	Analysis  string    `json:"analysis"`
	Timestamp time.Time `json:"timestamp"`
}

// Role identifies the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn sent to the reasoning engine.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
