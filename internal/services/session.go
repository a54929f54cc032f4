package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatstream/internal/eventstream"
	"github.com/MegaGrindStone/chatstream/internal/models"
)

// ErrIncompleteStream is reported when the response body ends before the backend sent the completion
// record.
var ErrIncompleteStream = errors.New("stream ended without completion")

// Callbacks receives the events of one streaming session. All callbacks are invoked synchronously on
// the goroutine that called Session.Run, in arrival order. Exactly one of OnComplete and OnError is
// invoked, exactly once. Nil callbacks are skipped.
type Callbacks struct {
	OnChunk          func(content string)
	OnConversationID func(id string)
	OnComplete       func()
	OnError          func(err error)
}

// Session drives the streaming chat endpoint: it sends one message and feeds the decoded response to
// the caller. Session holds no per-request state, each Run builds a fresh decoder.
type Session struct {
	backend Backend

	logger *slog.Logger
}

// NewSession creates a Session that sends its requests through backend.
func NewSession(backend Backend, logger *slog.Logger) Session {
	return Session{
		backend: backend,
		logger:  logger.With(slog.String("module", "session")),
	}
}

// Run sends req and blocks until the session is terminal. A transport failure, a non-2xx status, a
// read failure, a cancelled ctx, or a body that ends without completion are all reported through
// OnError; nothing is retried. After the completion record, any remaining body is not read.
func (s Session) Run(ctx context.Context, req models.ChatRequest, cb Callbacks) {
	for ev, err := range s.Events(ctx, req) {
		if err != nil {
			s.logger.Debug("Streaming session failed", slog.String(errLoggerKey, err.Error()))
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return
		}

		switch ev.Kind {
		case eventstream.KindConversationID:
			if cb.OnConversationID != nil {
				cb.OnConversationID(ev.ConversationID)
			}
		case eventstream.KindChunk:
			if cb.OnChunk != nil {
				cb.OnChunk(ev.Content)
			}
		case eventstream.KindComplete:
			if cb.OnComplete != nil {
				cb.OnComplete()
			}
			return
		}
	}
}

// Events sends req and returns an iterator over the parsed response events. The iterator ends after
// the completion event. Any failure is yielded once as the final element; a body that ends without
// completion yields ErrIncompleteStream.
func (s Session) Events(ctx context.Context, req models.ChatRequest) iter.Seq2[eventstream.Event, error] {
	return func(yield func(eventstream.Event, error) bool) {
		resp, err := s.backend.doRequest(ctx, http.MethodPost, "/chat", req, "text/event-stream")
		if err != nil {
			yield(eventstream.Event{}, fmt.Errorf("failed to send message: %w", err))
			return
		}
		defer resp.Body.Close()

		parser := eventstream.Parser{Logger: s.logger}
		for line, err := range eventstream.Lines(resp.Body) {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield(eventstream.Event{}, fmt.Errorf("error reading response: %w", err))
				return
			}

			ev, ok := parser.Parse(line)
			if !ok {
				continue
			}

			s.logger.Debug("Received event",
				slog.String("kind", ev.Kind.String()),
				slog.String("label", ev.Label))

			if !yield(ev, nil) {
				return
			}
			if ev.Kind == eventstream.KindComplete {
				return
			}
		}

		yield(eventstream.Event{}, ErrIncompleteStream)
	}
}
