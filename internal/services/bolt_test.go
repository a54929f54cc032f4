package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltDB(t *testing.T) services.BoltDB {
	t.Helper()
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBoltDBSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	db := newTestBoltDB(t)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conv := models.Conversation{
		ID:           "c1",
		Title:        "Trip",
		SystemPrompt: "Be brief",
		UpdatedAt:    ts,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "one", Timestamp: ts},
			{Role: models.RoleAssistant, Content: "two", Timestamp: ts},
		},
	}
	require.NoError(t, db.SaveConversation(ctx, conv))

	got, found, err := db.Conversation(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, conv, got)

	// Saving again replaces the history rather than appending to it.
	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleUser, Content: "three", Timestamp: ts})
	require.NoError(t, db.SaveConversation(ctx, conv))

	got, _, err = db.Conversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "three", got.Messages[2].Content)
}

func TestBoltDBConversationsOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestBoltDB(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveConversation(ctx, models.Conversation{ID: "old", UpdatedAt: base}))
	require.NoError(t, db.SaveConversation(ctx, models.Conversation{ID: "new", UpdatedAt: base.Add(time.Hour)}))

	convs, err := db.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "new", convs[0].ID)
	assert.Equal(t, "old", convs[1].ID)
}

func TestBoltDBDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestBoltDB(t)

	require.NoError(t, db.SaveConversation(ctx, models.Conversation{
		ID:       "c1",
		Messages: []models.Message{{Role: models.RoleUser, Content: "x"}},
	}))
	require.NoError(t, db.DeleteConversation(ctx, "c1"))
	require.NoError(t, db.DeleteConversation(ctx, "missing"))

	_, found, err := db.Conversation(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltDBRequiresID(t *testing.T) {
	db := newTestBoltDB(t)
	assert.Error(t, db.SaveConversation(context.Background(), models.Conversation{}))
}
