package models

// ChatRequest is the body of the streaming chat endpoint. ConversationID and SystemPrompt are sent as
// explicit nulls when absent, so the backend can tell "new conversation" from "empty id".
type ChatRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
	SystemPrompt   *string `json:"system_prompt"`
}

// SystemPromptRequest is the body of the system prompt update endpoint.
type SystemPromptRequest struct {
	SystemPrompt string `json:"system_prompt"`
}

// Ack is the acknowledgement returned by the delete and update endpoints.
type Ack struct {
	Status string `json:"status"`
}

const (
	// AckDeleted is returned when a conversation is deleted.
	AckDeleted = "deleted"
	// AckUpdated is returned when a conversation's system prompt is updated.
	AckUpdated = "updated"
)

// StreamRecord is the JSON payload carried by a data line of the chat stream. The fields are mutually
// exclusive in well-formed output.
type StreamRecord struct {
	ConversationID string  `json:"conversation_id,omitempty"`
	Content        *string `json:"content,omitempty"`
	Status         string  `json:"status,omitempty"`
}

// StatusComplete is the StreamRecord status that marks the end of a response.
const StatusComplete = "complete"

// OptionalString returns a pointer to s, or nil if s is empty.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
