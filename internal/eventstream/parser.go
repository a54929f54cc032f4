package eventstream

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

// Kind identifies the semantic meaning of an Event.
type Kind int

const (
	// KindConversationID reports the server-assigned conversation identifier.
	KindConversationID Kind = iota + 1
	// KindChunk carries a fragment of assistant content. The fragment may be empty.
	KindChunk
	// KindComplete marks the end of the response.
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindConversationID:
		return "conversation_id"
	case KindChunk:
		return "chunk"
	case KindComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is one parsed data line of the chat stream.
type Event struct {
	Kind Kind

	// ConversationID would be filled if Kind is KindConversationID.
	ConversationID string
	// Content would be filled if Kind is KindChunk.
	Content string

	// Label is the value of the most recent "event:" line preceding the data line, if any. It is
	// informational only.
	Label string
}

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

// Parser classifies decoded lines into Events. It remembers the label of the last "event:" line and
// attaches it to the next emitted event; a blank line ends the record and forgets the label.
//
// The zero value is ready to use.
type Parser struct {
	Logger *slog.Logger

	label string
}

// Parse classifies a single line. It returns false when the line carries no event: "event:" lines,
// blank or unrecognized lines, empty data payloads, malformed JSON, and records without a known field.
// Malformed payloads are never an error, since keep-alives and garbage fragments may appear in a
// healthy stream.
func (p *Parser) Parse(line string) (Event, bool) {
	switch {
	case line == "":
		p.label = ""
		return Event{}, false
	case strings.HasPrefix(line, eventPrefix):
		p.label = strings.TrimSpace(line[len(eventPrefix):])
		return Event{}, false
	case strings.HasPrefix(line, dataPrefix):
	default:
		return Event{}, false
	}

	data := strings.TrimSpace(line[len(dataPrefix):])
	if data == "" {
		return Event{}, false
	}

	var rec models.StreamRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		if p.Logger != nil {
			p.Logger.Debug("Discarding malformed data line",
				slog.String("data", data),
				slog.String("error", err.Error()))
		}
		return Event{}, false
	}

	ev, ok := classify(rec)
	if !ok {
		return Event{}, false
	}
	ev.Label = p.label
	return ev, true
}

// ParseLine classifies a single line without any record context.
func ParseLine(line string) (Event, bool) {
	var p Parser
	return p.Parse(line)
}

func classify(rec models.StreamRecord) (Event, bool) {
	switch {
	case rec.ConversationID != "":
		return Event{Kind: KindConversationID, ConversationID: rec.ConversationID}, true
	case rec.Content != nil:
		return Event{Kind: KindChunk, Content: *rec.Content}, true
	case rec.Status == models.StatusComplete:
		return Event{Kind: KindComplete}, true
	default:
		return Event{}, false
	}
}
