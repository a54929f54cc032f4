// Package fakebackend is an in-memory implementation of the chat backend's HTTP API. It speaks the same
// wire protocol as the real service: conversations are created on the first message, the streaming
// endpoint reports the conversation ID first, then content fragments, then the completion record.
//
// It exists for local development of clients and for tests; nothing is persisted.
package fakebackend

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ReplyFunc streams the assistant reply for the latest user message as a sequence of fragments. The
// history includes the latest user message. An error ends the reply.
type ReplyFunc func(ctx context.Context, systemPrompt string, history []models.Message) iter.Seq2[string, error]

// TitleFunc names a conversation after its first user message.
type TitleFunc func(ctx context.Context, firstMessage string) (string, error)

// Options configures a Server. The zero value is usable.
type Options struct {
	// DefaultSystemPrompt is used for conversations created without a system prompt.
	DefaultSystemPrompt string
	// Reply generates assistant replies. Defaults to EchoReply.
	Reply ReplyFunc
	// Title generates conversation titles. If nil, or if it fails, the title is cut from the first
	// message.
	Title TitleFunc
	// ChunkDelay is slept between streamed fragments.
	ChunkDelay time.Duration
}

// Server is the in-memory backend. All methods are safe for concurrent use.
type Server struct {
	opts Options

	mu            sync.Mutex
	conversations map[string]*models.Conversation

	echo *echo.Echo

	logger *slog.Logger
}

const errLoggerKey = "error"

const titleMaxRunes = 30

// New creates a Server with its routes mounted under prefix, e.g. "/api".
func New(prefix string, opts Options, logger *slog.Logger) *Server {
	if opts.Reply == nil {
		opts.Reply = EchoReply
	}

	s := &Server{
		opts:          opts,
		conversations: make(map[string]*models.Conversation),
		echo:          echo.New(),
		logger:        logger.With(slog.String("module", "fakebackend")),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.registerRoutes(s.echo.Group(prefix))
	return s
}

func (s *Server) registerRoutes(g *echo.Group) {
	g.POST("/chat", s.HandleChat)
	g.GET("/conversations", s.HandleConversations)
	g.GET("/conversations/:id", s.HandleConversation)
	g.DELETE("/conversations/:id", s.HandleDeleteConversation)
	g.PUT("/conversations/:id/system-prompt", s.HandleUpdateSystemPrompt)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// HandleConversations lists conversation summaries, most recently updated first.
func (s *Server) HandleConversations(c echo.Context) error {
	s.mu.Lock()
	summaries := make([]models.ConversationSummary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summaries = append(summaries, models.ConversationSummary{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	s.mu.Unlock()

	slices.SortStableFunc(summaries, func(a, b models.ConversationSummary) int {
		if n := b.UpdatedAt.Compare(a.UpdatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return c.JSON(http.StatusOK, summaries)
}

// HandleConversation returns the full record of one conversation.
func (s *Server) HandleConversation(c echo.Context) error {
	conv, ok := s.Conversation(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}
	return c.JSON(http.StatusOK, conv)
}

// HandleDeleteConversation deletes one conversation.
func (s *Server) HandleDeleteConversation(c echo.Context) error {
	id := c.Param("id")

	s.mu.Lock()
	_, ok := s.conversations[id]
	delete(s.conversations, id)
	s.mu.Unlock()

	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}
	return c.JSON(http.StatusOK, models.Ack{Status: models.AckDeleted})
}

// HandleUpdateSystemPrompt replaces the system prompt of one conversation.
func (s *Server) HandleUpdateSystemPrompt(c echo.Context) error {
	var req models.SystemPromptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.mu.Lock()
	conv, ok := s.conversations[c.Param("id")]
	if ok {
		conv.SystemPrompt = req.SystemPrompt
		conv.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}
	return c.JSON(http.StatusOK, models.Ack{Status: models.AckUpdated})
}

// Conversation returns a copy of the conversation with the given ID.
func (s *Server) Conversation(id string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	cp := *conv
	cp.Messages = slices.Clone(conv.Messages)
	return cp, true
}

func (s *Server) newConversation(systemPrompt string) string {
	if systemPrompt == "" {
		systemPrompt = s.opts.DefaultSystemPrompt
	}
	now := time.Now()
	conv := &models.Conversation{
		ID:           uuid.New().String(),
		Messages:     []models.Message{},
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	return conv.ID
}

// addMessage appends a message and returns a snapshot of the updated conversation.
func (s *Server) addMessage(id string, role models.Role, content string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	conv.Messages = append(conv.Messages, models.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	conv.UpdatedAt = time.Now()

	cp := *conv
	cp.Messages = slices.Clone(conv.Messages)
	return cp, true
}

func (s *Server) setTitle(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[id]; ok {
		conv.Title = title
	}
}

// title names a conversation after message, falling back to a cut of the message itself.
func (s *Server) title(ctx context.Context, message string) string {
	if s.opts.Title == nil {
		return cutTitle(message)
	}
	title, err := s.opts.Title(ctx, message)
	title = strings.TrimSpace(title)
	if err != nil || title == "" {
		if err != nil {
			s.logger.Warn("Failed to generate title", slog.String(errLoggerKey, err.Error()))
		}
		return cutTitle(message)
	}
	return title
}

func cutTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= titleMaxRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleMaxRunes]) + "…"
}

// EchoReply answers by repeating the latest user message word by word.
func EchoReply(_ context.Context, _ string, history []models.Message) iter.Seq2[string, error] {
	if len(history) == 0 {
		return Fragments()
	}
	words := strings.Fields(history[len(history)-1].Content)
	chunks := make([]string, 0, len(words)+1)
	chunks = append(chunks, "You said:")
	for _, w := range words {
		chunks = append(chunks, " "+w)
	}
	return Fragments(chunks...)
}

// Fragments returns a reply made of the given fragments.
func Fragments(chunks ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, chunk := range chunks {
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
