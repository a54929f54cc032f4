package fakebackend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/tmaxmax/go-sse"
)

// Event types written on the chat stream. Clients treat them as informational.
var (
	conversationIDSSEType = sse.Type("conversation_id")
	messageSSEType        = sse.Type("message")
	doneSSEType           = sse.Type("done")
)

// HandleChat accepts a user message and streams the assistant reply.
//
// If the request carries no conversation_id, a new conversation is created with the requested system
// prompt. The stream starts with the conversation ID, continues with one record per reply fragment and
// ends with the completion record. The assistant message is stored before the completion record is
// written, so a client that refreshes its conversation list on completion sees it.
func (s *Server) HandleChat(c echo.Context) error {
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Message is required")
	}

	var requestedPrompt string
	if req.SystemPrompt != nil {
		requestedPrompt = *req.SystemPrompt
	}

	var convID string
	if req.ConversationID != nil && *req.ConversationID != "" {
		convID = *req.ConversationID
	} else {
		convID = s.newConversation(requestedPrompt)
	}

	ctx := c.Request().Context()

	conv, ok := s.addMessage(convID, models.RoleUser, req.Message)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}
	if conv.Title == "" {
		s.setTitle(convID, s.title(ctx, req.Message))
	}

	systemPrompt := requestedPrompt
	if systemPrompt == "" {
		systemPrompt = conv.SystemPrompt
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	if err := writeRecord(res, conversationIDSSEType, models.StreamRecord{ConversationID: convID}); err != nil {
		s.logger.Error("Failed to write conversation id", slog.String(errLoggerKey, err.Error()))
		return nil
	}

	var (
		full  strings.Builder
		count int
	)
	for chunk, err := range s.opts.Reply(ctx, systemPrompt, conv.Messages) {
		if err != nil {
			// The failure becomes part of the reply, the stream still completes.
			s.logger.Error("Failed to generate reply",
				slog.String("conversationID", convID),
				slog.String(errLoggerKey, err.Error()))
			chunk = fmt.Sprintf("[Error: %s]", err)
		}
		if count > 0 && s.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.opts.ChunkDelay):
			}
		}
		count++

		full.WriteString(chunk)
		if werr := writeRecord(res, messageSSEType, models.StreamRecord{Content: &chunk}); werr != nil {
			s.logger.Error("Failed to write chunk",
				slog.String("conversationID", convID),
				slog.String(errLoggerKey, werr.Error()))
			return nil
		}
		if err != nil {
			break
		}
	}

	s.addMessage(convID, models.RoleAssistant, full.String())

	if err := writeRecord(res, doneSSEType, models.StreamRecord{Status: models.StatusComplete}); err != nil {
		s.logger.Error("Failed to write completion", slog.String(errLoggerKey, err.Error()))
	}
	return nil
}

func writeRecord(res *echo.Response, typ sse.EventType, rec models.StreamRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	msg := sse.Message{Type: typ}
	msg.AppendData(string(data))
	if _, err := msg.WriteTo(res); err != nil {
		return err
	}
	res.Flush()
	return nil
}
