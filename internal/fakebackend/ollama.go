package fakebackend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama generates replies and titles with a local Ollama server.
type Ollama struct {
	model string

	client *api.Client
}

var errReplyStopped = errors.New("reply stopped")

// NewOllama creates an Ollama client for the server at host, e.g. "http://localhost:11434".
func NewOllama(host, model string) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return Ollama{
		model:  model,
		client: api.NewClient(u, &http.Client{}),
	}, nil
}

// Reply streams a chat response for history. It implements ReplyFunc.
func (o Ollama) Reply(
	ctx context.Context,
	systemPrompt string,
	history []models.Message,
) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]api.Message, 0, len(history)+1)
		if systemPrompt != "" {
			msgs = append(msgs, api.Message{Role: "system", Content: systemPrompt})
		}
		for _, msg := range history {
			msgs = append(msgs, api.Message{Role: string(msg.Role), Content: msg.Content})
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				return errReplyStopped
			}
			return nil
		})
		if err == nil || errors.Is(err, errReplyStopped) || errors.Is(err, context.Canceled) {
			return
		}
		yield("", fmt.Errorf("error sending request: %w", err))
	}
}

// GenerateTitle names a conversation after its first message. It implements TitleFunc.
func (o Ollama) GenerateTitle(ctx context.Context, message string) (string, error) {
	f := false
	req := api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{Role: "system", Content: titlePrompt},
			{Role: "user", Content: message},
		},
		Stream: &f,
	}

	var title string
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		title = res.Message.Content
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	return title, nil
}
