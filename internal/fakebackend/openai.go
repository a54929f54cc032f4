package fakebackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/chatstream/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

const titlePrompt = "Write a title of at most five words for a conversation that starts with the user's " +
	"message. Reply with the title only."

// OpenAI generates replies and titles with the OpenAI chat completion API, or any API compatible with
// it.
type OpenAI struct {
	model      string
	titleModel string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates an OpenAI client. An empty baseURL uses the public OpenAI endpoint, and an empty
// titleModel uses model for titles too.
func NewOpenAI(apiKey, baseURL, model, titleModel string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if titleModel == "" {
		titleModel = model
	}
	return OpenAI{
		model:      model,
		titleModel: titleModel,
		client:     goopenai.NewClientWithConfig(cfg),
		logger:     logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(systemPrompt string, history []models.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range history {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return msgs
}

// Reply streams a chat completion for history. It implements ReplyFunc.
func (o OpenAI) Reply(
	ctx context.Context,
	systemPrompt string,
	history []models.Message,
) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req := goopenai.ChatCompletionRequest{
			Model:    o.model,
			Messages: openAIMessages(systemPrompt, history),
			Stream:   true,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			content := response.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if !yield(content, nil) {
				return
			}
		}
	}
}

// GenerateTitle names a conversation after its first message. It implements TitleFunc.
func (o OpenAI) GenerateTitle(ctx context.Context, message string) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: o.titleModel,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: titlePrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: message},
		},
		MaxTokens: 50,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response")
	}
	o.logger.Debug("Generated title", slog.String("title", resp.Choices[0].Message.Content))
	return resp.Choices[0].Message.Content, nil
}
