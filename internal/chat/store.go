// Package chat holds the client-side conversation state and drives the streaming chat session against
// the backend.
package chat

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/services"
	"github.com/google/uuid"
)

// Backend defines the conversation resources of the remote chat backend.
type Backend interface {
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) (models.Ack, error)
	UpdateSystemPrompt(ctx context.Context, id, prompt string) (models.Ack, error)
}

// Streamer runs one streaming chat session. Run must block until the session is terminal and invoke
// the callbacks on the calling goroutine.
type Streamer interface {
	Run(ctx context.Context, req models.ChatRequest, cb services.Callbacks)
}

// Archive keeps local snapshots of settled conversations. It is optional.
type Archive interface {
	SaveConversation(ctx context.Context, conv models.Conversation) error
	DeleteConversation(ctx context.Context, id string) error
}

// Snapshot is a copy of the Store state at one point in time.
type Snapshot struct {
	Conversations  []models.ConversationSummary
	ConversationID string
	Messages       []models.Message
	SystemPrompt   string
	// StreamingText is the assistant content received so far in the active session. It is empty when
	// no session is active.
	StreamingText string
	IsStreaming   bool
	IsLoading     bool
	// Err is the latest error message, empty if the last operation succeeded.
	Err string
}

// Store is the single owner of the client's conversation state: the conversation list, the active
// conversation's history and system prompt, the streaming buffer and the loading and streaming flags.
// At most one streaming session is active at a time.
//
// All methods are safe for concurrent use. Consumers read state through Snapshot or Subscribe.
type Store struct {
	backend  Backend
	streamer Streamer
	archive  Archive

	mu             sync.Mutex
	conversations  []models.ConversationSummary
	conversationID string
	messages       []models.Message
	systemPrompt   string
	streaming      strings.Builder
	isStreaming    bool
	isLoading      bool
	err            string

	subscribers map[int]chan Snapshot
	nextSubID   int

	logger *slog.Logger
}

const errLoggerKey = "error"

// NewStore creates a Store in the new-conversation state. archive may be nil.
func NewStore(backend Backend, streamer Streamer, archive Archive, logger *slog.Logger) *Store {
	return &Store{
		backend:     backend,
		streamer:    streamer,
		archive:     archive,
		subscribers: make(map[int]chan Snapshot),
		logger:      logger.With(slog.String("module", "store")),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Conversations:  slices.Clone(s.conversations),
		ConversationID: s.conversationID,
		Messages:       slices.Clone(s.messages),
		SystemPrompt:   s.systemPrompt,
		StreamingText:  s.streaming.String(),
		IsStreaming:    s.isStreaming,
		IsLoading:      s.isLoading,
		Err:            s.err,
	}
}

// CurrentConversation returns the list entry of the active conversation. The boolean result is false
// if no conversation is active or the list does not contain it yet.
func (s *Store) CurrentConversation() (models.ConversationSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.conversations, func(c models.ConversationSummary) bool {
		return c.ID == s.conversationID
	})
	if s.conversationID == "" || idx < 0 {
		return models.ConversationSummary{}, false
	}
	return s.conversations[idx], true
}

// HasMessages reports whether the active history is non-empty.
func (s *Store) HasMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages) > 0
}

// Subscribe returns a channel that receives a Snapshot after every state change, and a function that
// cancels the subscription. The channel holds only the latest snapshot; a slow reader skips
// intermediate states rather than blocking the Store.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// notifyLocked publishes the current state to subscribers. The caller must hold s.mu.
func (s *Store) notifyLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		// Drop the stale snapshot, if any, so the newest one always fits.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// update runs fn with the lock held and notifies subscribers afterwards.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.notifyLocked()
}

func (s *Store) setError(msg string, err error) {
	s.logger.Error(msg, slog.String(errLoggerKey, err.Error()))
	s.update(func() { s.err = err.Error() })
}

// FetchConversations replaces the conversation list with the backend's. On failure the previous list
// is kept and the error is recorded.
func (s *Store) FetchConversations(ctx context.Context) error {
	s.update(func() { s.err = "" })

	convs, err := s.backend.Conversations(ctx)
	if err != nil {
		s.setError("Failed to fetch conversations", err)
		return err
	}

	s.update(func() { s.conversations = convs })
	return nil
}

// LoadConversation makes the conversation with the given ID active, replacing the active history and
// system prompt with the backend's record. On failure the previous state is kept and the error is
// recorded. The loading flag is set for the duration of the call.
func (s *Store) LoadConversation(ctx context.Context, id string) error {
	s.update(func() {
		s.err = ""
		s.isLoading = true
	})
	defer s.update(func() { s.isLoading = false })

	conv, err := s.backend.Conversation(ctx, id)
	if err != nil {
		s.setError("Failed to load conversation", err)
		return err
	}

	messages := make([]models.Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		messages[i] = msg
	}

	s.update(func() {
		s.conversationID = id
		s.messages = messages
		s.systemPrompt = conv.SystemPrompt
	})

	conv.ID = id
	s.archiveConversation(ctx, conv)
	return nil
}

// StartNewConversation resets the active conversation so the next message starts a new one on the
// backend. The system prompt is kept.
func (s *Store) StartNewConversation() {
	s.update(s.resetLocked)
}

func (s *Store) resetLocked() {
	s.conversationID = ""
	s.messages = nil
	s.streaming.Reset()
	s.err = ""
}

// SendMessage sends content in the active conversation, or starts a new conversation if none is
// active, and blocks until the response is complete or failed.
//
// The call is ignored if content is blank or a session is already streaming. Otherwise the user
// message is appended immediately; the assistant message is appended only once the backend signals
// completion, after which the conversation list is refreshed. On failure the partial reply is
// discarded and the error is recorded and returned.
func (s *Store) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var (
		req     models.ChatRequest
		started bool
	)
	s.update(func() {
		if s.isStreaming {
			return
		}
		started = true
		s.messages = append(s.messages, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleUser,
			Content:   content,
			Timestamp: time.Now().UTC(),
		})
		s.isStreaming = true
		s.streaming.Reset()
		s.err = ""
		req = models.ChatRequest{
			Message:        content,
			ConversationID: models.OptionalString(s.conversationID),
			SystemPrompt:   models.OptionalString(s.systemPrompt),
		}
	})
	if !started {
		s.logger.Debug("Ignoring message while streaming")
		return nil
	}

	var (
		completed bool
		sendErr   error
	)
	s.streamer.Run(ctx, req, services.Callbacks{
		OnChunk: func(chunk string) {
			s.update(func() { s.streaming.WriteString(chunk) })
		},
		OnConversationID: func(id string) {
			s.update(func() { s.conversationID = id })
		},
		OnComplete: func() {
			completed = true
			s.update(func() {
				s.messages = append(s.messages, models.Message{
					ID:        uuid.New().String(),
					Role:      models.RoleAssistant,
					Content:   s.streaming.String(),
					Timestamp: time.Now().UTC(),
				})
				s.streaming.Reset()
				s.isStreaming = false
			})
		},
		OnError: func(err error) {
			sendErr = err
			s.logger.Error("Failed to send message", slog.String(errLoggerKey, err.Error()))
			s.update(func() {
				s.streaming.Reset()
				s.isStreaming = false
				s.err = err.Error()
			})
		},
	})

	if !completed && sendErr == nil {
		// The streamer returned without a terminal callback.
		sendErr = services.ErrIncompleteStream
		s.setError("Failed to send message", sendErr)
		s.update(func() {
			s.streaming.Reset()
			s.isStreaming = false
		})
	}
	if sendErr != nil {
		return sendErr
	}

	// A failed refresh is recorded by FetchConversations, the message itself went through.
	_ = s.FetchConversations(ctx)
	s.archiveActive(ctx)
	return nil
}

// DeleteConversation deletes the conversation on the backend, then from the local list. Deleting the
// active conversation resets to the new-conversation state. On failure the list is kept and the error
// is recorded.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.update(func() { s.err = "" })

	if _, err := s.backend.DeleteConversation(ctx, id); err != nil {
		s.setError("Failed to delete conversation", err)
		return err
	}

	s.update(func() {
		s.conversations = slices.DeleteFunc(s.conversations, func(c models.ConversationSummary) bool {
			return c.ID == id
		})
		if s.conversationID == id {
			s.resetLocked()
		}
	})

	if s.archive != nil {
		if err := s.archive.DeleteConversation(ctx, id); err != nil {
			s.logger.Warn("Failed to delete archived conversation",
				slog.String("conversationID", id),
				slog.String(errLoggerKey, err.Error()))
		}
	}
	return nil
}

// UpdateSystemPrompt sets the system prompt used for the next messages. If a conversation is active the
// prompt is also persisted on the backend. A persistence failure is logged and returned, but the local
// value is kept and the Store error is left untouched.
func (s *Store) UpdateSystemPrompt(ctx context.Context, prompt string) error {
	var id string
	s.update(func() {
		s.systemPrompt = prompt
		id = s.conversationID
	})
	if id == "" {
		return nil
	}

	if _, err := s.backend.UpdateSystemPrompt(ctx, id, prompt); err != nil {
		s.logger.Warn("Failed to update system prompt",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		return err
	}
	return nil
}

func (s *Store) archiveActive(ctx context.Context) {
	if s.archive == nil {
		return
	}

	s.mu.Lock()
	conv := models.Conversation{
		ID:           s.conversationID,
		Messages:     slices.Clone(s.messages),
		SystemPrompt: s.systemPrompt,
		UpdatedAt:    time.Now(),
	}
	if idx := slices.IndexFunc(s.conversations, func(c models.ConversationSummary) bool {
		return c.ID == s.conversationID
	}); idx >= 0 {
		conv.Title = s.conversations[idx].Title
		conv.CreatedAt = s.conversations[idx].CreatedAt
	}
	s.mu.Unlock()

	s.archiveConversation(ctx, conv)
}

func (s *Store) archiveConversation(ctx context.Context, conv models.Conversation) {
	if s.archive == nil || conv.ID == "" {
		return
	}
	if err := s.archive.SaveConversation(ctx, conv); err != nil {
		s.logger.Warn("Failed to archive conversation",
			slog.String("conversationID", conv.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}
