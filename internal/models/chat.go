package models

import (
	"time"
)

// Conversation is a server-side conversation record as seen by the client. The ID is assigned by the
// backend and is unknown to the client until the backend reports it mid-stream on the first message of
// a new session.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"system_prompt"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// ConversationSummary is an entry of the conversation list. It carries only identification and
// labeling data, the message history must be fetched separately.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Message is a single entry of a conversation history. Messages are immutable once appended to a
// history, the client never edits past messages.
type Message struct {
	// ID is a client-side identifier, it is never sent to the backend.
	ID        string    `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the backend's model. Assistant messages are only
	// appended to a history once the stream that produced them is complete.
	RoleAssistant Role = "assistant"
	// RoleSystem may appear in histories returned by the backend, the client never creates it.
	RoleSystem Role = "system"
)

// DisplayTitle returns the conversation title, or a placeholder derived from the ID when the backend has not
// generated one yet.
func (c ConversationSummary) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "Untitled " + c.ID
}
