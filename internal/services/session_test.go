package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) callbacks() services.Callbacks {
	return services.Callbacks{
		OnChunk:          func(s string) { r.calls = append(r.calls, "chunk:"+s) },
		OnConversationID: func(id string) { r.calls = append(r.calls, "id:"+id) },
		OnComplete:       func() { r.calls = append(r.calls, "complete") },
		OnError: func(err error) {
			r.calls = append(r.calls, "error")
			r.err = err
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// streamServer writes each chunk as a separate flushed write.
func streamServer(t *testing.T, chunks ...string) (*httptest.Server, *models.ChatRequest) {
	t.Helper()
	var got models.ChatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(ts.Close)
	return ts, &got
}

func newTestSession(url string) services.Session {
	return services.NewSession(services.NewBackend(url, nil, testLogger()), testLogger())
}

func TestSessionRunHappyPath(t *testing.T) {
	ts, got := streamServer(t,
		"event: conversation_id\ndata: {\"conversation_id\": \"c1\"}\n\n",
		"data: {\"content\":\"Hel\"}\n",
		"data: {\"content\":\"lo\"}\n",
		"data: {\"status\":\"complete\"}\n",
	)

	var rec recorder
	prompt := "be nice"
	newTestSession(ts.URL).Run(context.Background(), models.ChatRequest{
		Message:      "hi",
		SystemPrompt: &prompt,
	}, rec.callbacks())

	assert.Equal(t, []string{"id:c1", "chunk:Hel", "chunk:lo", "complete"}, rec.calls)
	assert.Equal(t, "hi", got.Message)
	assert.Nil(t, got.ConversationID)
	require.NotNil(t, got.SystemPrompt)
	assert.Equal(t, "be nice", *got.SystemPrompt)
}

func TestSessionRunSplitChunks(t *testing.T) {
	body := "data: {\"content\":\"Grüße 👋\"}\ndata: {\"status\":\"complete\"}\n"
	var chunks []string
	for i := 0; i < len(body); i += 3 {
		chunks = append(chunks, body[i:min(i+3, len(body))])
	}
	ts, _ := streamServer(t, chunks...)

	var rec recorder
	newTestSession(ts.URL).Run(context.Background(), models.ChatRequest{Message: "hi"}, rec.callbacks())

	assert.Equal(t, []string{"chunk:Grüße 👋", "complete"}, rec.calls)
}

func TestSessionRunStopsAfterComplete(t *testing.T) {
	ts, _ := streamServer(t,
		"data: {\"content\":\"a\"}\n",
		"data: {\"status\":\"complete\"}\n",
		"data: {\"content\":\"late\"}\n",
		"data: {\"status\":\"complete\"}\n",
	)

	var rec recorder
	newTestSession(ts.URL).Run(context.Background(), models.ChatRequest{Message: "hi"}, rec.callbacks())

	assert.Equal(t, []string{"chunk:a", "complete"}, rec.calls)
}

func TestSessionRunIgnoresGarbage(t *testing.T) {
	ts, _ := streamServer(t,
		": keep-alive\n",
		"data: {not json\n",
		"data:\n",
		"data: {\"content\":\"\"}\n",
		"data: {\"unknown\":true}\n",
		"data: {\"status\":\"complete\"}\n",
	)

	var rec recorder
	newTestSession(ts.URL).Run(context.Background(), models.ChatRequest{Message: "hi"}, rec.callbacks())

	assert.Equal(t, []string{"chunk:", "complete"}, rec.calls)
}

func TestSessionRunLastConversationIDWins(t *testing.T) {
	ts, _ := streamServer(t,
		"data: {\"conversation_id\":\"c1\"}\n",
		"data: {\"conversation_id\":\"c2\"}\n",
		"data: {\"status\":\"complete\"}\n",
	)

	var (
		rec    recorder
		lastID string
	)
	cb := rec.callbacks()
	cb.OnConversationID = func(id string) { lastID = id }
	newTestSession(ts.URL).Run(context.Background(), models.ChatRequest{Message: "hi"}, cb)

	assert.Equal(t, "c2", lastID)
}

func TestSessionRunIncompleteStream(t *testing.T) {
	ts, _ := streamServer(t,
		"data: {\"content\":\"Hel\"}\n",
		"data: {\"status\":\"compl",
	)

	var rec recorder
	newTestSession(ts.URL).Run(context.Background(), models.ChatRequest{Message: "hi"}, rec.callbacks())

	assert.Equal(t, []string{"chunk:Hel", "error"}, rec.calls)
	assert.ErrorIs(t, rec.err, services.ErrIncompleteStream)
}

func TestSessionRunStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	var rec recorder
	newTestSession(ts.URL).Run(context.Background(), models.ChatRequest{Message: "hi"}, rec.callbacks())

	assert.Equal(t, []string{"error"}, rec.calls)
	var statusErr *services.StatusError
	require.True(t, errors.As(rec.err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Contains(t, rec.err.Error(), "status: 500")
}

func TestSessionRunTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	var rec recorder
	newTestSession(url).Run(context.Background(), models.ChatRequest{Message: "hi"}, rec.callbacks())

	assert.Equal(t, []string{"error"}, rec.calls)
	assert.Error(t, rec.err)
}

func TestSessionRunCancelled(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "data: {\"content\":\"a\"}\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		ts.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	var rec recorder
	cb := rec.callbacks()
	cb.OnChunk = func(string) { cancel() }
	newTestSession(ts.URL).Run(ctx, models.ChatRequest{Message: "hi"}, cb)

	assert.Equal(t, []string{"error"}, rec.calls)
	assert.ErrorIs(t, rec.err, context.Canceled)
}

func TestSessionEvents(t *testing.T) {
	ts, _ := streamServer(t,
		"data: {\"conversation_id\":\"c1\"}\n",
		"data: {\"content\":\"x\"}\n",
		"data: {\"status\":\"complete\"}\n",
	)

	var kinds []string
	for ev, err := range newTestSession(ts.URL).Events(context.Background(), models.ChatRequest{Message: "hi"}) {
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind.String())
	}

	assert.Equal(t, []string{"conversation_id", "chunk", "complete"}, kinds)
}

func TestSessionSendsConversationID(t *testing.T) {
	ts, got := streamServer(t, "data: {\"status\":\"complete\"}\n")

	id := "c9"
	var rec recorder
	newTestSession(ts.URL).Run(context.Background(), models.ChatRequest{Message: "hi", ConversationID: &id}, rec.callbacks())

	require.NotNil(t, got.ConversationID)
	assert.Equal(t, "c9", *got.ConversationID)
	assert.True(t, strings.HasSuffix(rec.calls[len(rec.calls)-1], "complete"))
}
