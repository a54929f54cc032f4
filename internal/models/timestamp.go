package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layouts accepted for backend timestamps. The backend writes ISO-8601 and may omit the zone offset,
// in which case the time is UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp as sent by the backend. An empty string yields the zero
// time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// isoTime decodes a JSON timestamp into a time.Time in place.
type isoTime time.Time

func (t *isoTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = isoTime(parsed)
	return nil
}

// UnmarshalJSON accepts timestamps with or without a zone offset.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	type conversation Conversation
	aux := struct {
		*conversation
		CreatedAt *isoTime `json:"created_at"`
		UpdatedAt *isoTime `json:"updated_at"`
	}{
		conversation: (*conversation)(c),
		CreatedAt:    (*isoTime)(&c.CreatedAt),
		UpdatedAt:    (*isoTime)(&c.UpdatedAt),
	}
	return json.Unmarshal(data, &aux)
}

// UnmarshalJSON accepts timestamps with or without a zone offset.
func (c *ConversationSummary) UnmarshalJSON(data []byte) error {
	type summary ConversationSummary
	aux := struct {
		*summary
		CreatedAt *isoTime `json:"created_at"`
		UpdatedAt *isoTime `json:"updated_at"`
	}{
		summary:   (*summary)(c),
		CreatedAt: (*isoTime)(&c.CreatedAt),
		UpdatedAt: (*isoTime)(&c.UpdatedAt),
	}
	return json.Unmarshal(data, &aux)
}

// UnmarshalJSON accepts timestamps with or without a zone offset.
func (m *Message) UnmarshalJSON(data []byte) error {
	type message Message
	aux := struct {
		*message
		Timestamp *isoTime `json:"timestamp"`
	}{
		message:   (*message)(m),
		Timestamp: (*isoTime)(&m.Timestamp),
	}
	return json.Unmarshal(data, &aux)
}
