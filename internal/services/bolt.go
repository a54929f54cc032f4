package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB is a local archive of settled conversations backed by a BoltDB file. It keeps the last known
// snapshot of every conversation the client has loaded or completed a message in, so transcripts stay
// readable while the backend is unreachable. It is never consulted by the CRUD client.
type BoltDB struct {
	db *bolt.DB
}

var conversationsBucket = []byte("conversations")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with the required bucket and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return BoltDB{}, fmt.Errorf("failed to create bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("conversation-%s", conversationID))
}

// SaveConversation stores a snapshot of conv, replacing any previous snapshot with the same ID. The
// messages are kept in their own bucket in history order.
func (b BoltDB) SaveConversation(_ context.Context, conv models.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(conversationsBucket)

		v, err := json.Marshal(archivedConversation{
			ID:           conv.ID,
			Title:        conv.Title,
			SystemPrompt: conv.SystemPrompt,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		if err := cb.Put([]byte(conv.ID), v); err != nil {
			return err
		}

		name := messageBucketName(conv.ID)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to reset message bucket: %w", err)
			}
		}
		mb, err := tx.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		for _, msg := range conv.Messages {
			seq, err := mb.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to get next sequence: %w", err)
			}
			v, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := mb.Put(sequenceKey(seq), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Conversations lists the archived conversations, most recently updated first.
func (b BoltDB) Conversations(context.Context) ([]models.ConversationSummary, error) {
	var convs []models.ConversationSummary
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(_, v []byte) error {
			var ac archivedConversation
			if err := json.Unmarshal(v, &ac); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			convs = append(convs, models.ConversationSummary{
				ID:        ac.ID,
				Title:     ac.Title,
				CreatedAt: ac.CreatedAt,
				UpdatedAt: ac.UpdatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(convs, func(a, b models.ConversationSummary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return convs, nil
}

// Conversation returns the archived snapshot of the conversation with the given ID. The boolean result
// is false if nothing is archived under that ID.
func (b BoltDB) Conversation(_ context.Context, id string) (models.Conversation, bool, error) {
	var (
		conv  models.Conversation
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationsBucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true

		var ac archivedConversation
		if err := json.Unmarshal(v, &ac); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
		conv = models.Conversation{
			ID:           ac.ID,
			Title:        ac.Title,
			SystemPrompt: ac.SystemPrompt,
			CreatedAt:    ac.CreatedAt,
			UpdatedAt:    ac.UpdatedAt,
		}

		mb := tx.Bucket(messageBucketName(id))
		if mb == nil {
			return nil
		}
		return mb.ForEach(func(_, v []byte) error {
			var msg models.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			conv.Messages = append(conv.Messages, msg)
			return nil
		})
	})
	if err != nil {
		return models.Conversation{}, false, err
	}
	return conv, found, nil
}

// DeleteConversation removes the archived snapshot with the given ID. Deleting an unknown ID is not an
// error.
func (b BoltDB) DeleteConversation(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(conversationsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		name := messageBucketName(id)
		if tx.Bucket(name) == nil {
			return nil
		}
		return tx.DeleteBucket(name)
	})
}

type archivedConversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SystemPrompt string    `json:"system_prompt"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// sequenceKey zero-pads seq so ForEach walks messages in insertion order.
func sequenceKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
