package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

const errLoggerKey = "error"

// Backend is a client of the remote chat backend's conversation resources. Every call maps to exactly
// one HTTP request; there are no retries and no caching.
type Backend struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

// StatusError is returned when the backend answers with a non-2xx status. The body is kept for
// diagnostics only, it is not parsed.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.Code)
}

// NewBackend creates a Backend for the API rooted at baseURL, e.g. "http://localhost:8000/api". If
// client is nil, http.DefaultClient is used.
func NewBackend(baseURL string, client *http.Client, logger *slog.Logger) Backend {
	if client == nil {
		client = http.DefaultClient
	}
	return Backend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("module", "backend")),
	}
}

// Conversations lists the conversations known to the backend.
func (b Backend) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var convs []models.ConversationSummary
	if err := b.doJSON(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// Conversation fetches the full record of the conversation with the given ID.
func (b Backend) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	if err := b.doJSON(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conv, nil
}

// DeleteConversation deletes the conversation with the given ID.
func (b Backend) DeleteConversation(ctx context.Context, id string) (models.Ack, error) {
	var ack models.Ack
	if err := b.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, &ack); err != nil {
		return models.Ack{}, fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return ack, nil
}

// UpdateSystemPrompt replaces the system prompt of the conversation with the given ID.
func (b Backend) UpdateSystemPrompt(ctx context.Context, id, prompt string) (models.Ack, error) {
	var ack models.Ack
	body := models.SystemPromptRequest{SystemPrompt: prompt}
	path := "/conversations/" + url.PathEscape(id) + "/system-prompt"
	if err := b.doJSON(ctx, http.MethodPut, path, body, &ack); err != nil {
		return models.Ack{}, fmt.Errorf("failed to update system prompt of %s: %w", id, err)
	}
	return ack, nil
}

func (b Backend) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	resp, err := b.doRequest(ctx, method, path, reqBody, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// doRequest sends a request and checks the response status. On success the caller owns the response
// body.
func (b Backend) doRequest(
	ctx context.Context,
	method, path string,
	reqBody any,
	accept string,
) (*http.Response, error) {
	var body io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("error marshaling request: %w", err)
		}
		b.logger.Debug("Request Body", slog.String("path", path), slog.String("body", string(jsonBody)))
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		b.logger.Debug("Unexpected status",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(respBody)))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	return resp, nil
}
