package fakebackend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/chatstream/internal/fakebackend"
	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"
)

func newTestServer(t *testing.T, opts fakebackend.Options) (*fakebackend.Server, *httptest.Server) {
	t.Helper()
	srv := fakebackend.New("/api", opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postChat(t *testing.T, url string, req models.ChatRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(url+"/api/chat", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleChatNewConversation(t *testing.T) {
	srv, ts := newTestServer(t, fakebackend.Options{DefaultSystemPrompt: "default"})

	resp := postChat(t, ts.URL, models.ChatRequest{Message: "hello there"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var (
		types   []string
		records []models.StreamRecord
	)
	for ev, err := range sse.Read(resp.Body, nil) {
		require.NoError(t, err)
		var rec models.StreamRecord
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &rec))
		types = append(types, ev.Type)
		records = append(records, rec)
	}

	require.Equal(t, []string{"conversation_id", "message", "message", "message", "done"}, types)
	convID := records[0].ConversationID
	require.NotEmpty(t, convID)

	var reply strings.Builder
	for _, rec := range records[1:4] {
		require.NotNil(t, rec.Content)
		reply.WriteString(*rec.Content)
	}
	assert.Equal(t, "You said: hello there", reply.String())
	assert.Equal(t, models.StatusComplete, records[4].Status)

	conv, ok := srv.Conversation(convID)
	require.True(t, ok)
	assert.Equal(t, "hello there", conv.Title)
	assert.Equal(t, "default", conv.SystemPrompt)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "You said: hello there", conv.Messages[1].Content)
}

func TestHandleChatRequestedSystemPrompt(t *testing.T) {
	var gotPrompt string
	srv, ts := newTestServer(t, fakebackend.Options{
		DefaultSystemPrompt: "default",
		Reply: func(_ context.Context, systemPrompt string, _ []models.Message) iter.Seq2[string, error] {
			gotPrompt = systemPrompt
			return fakebackend.Fragments("ok")
		},
	})

	prompt := "pirate"
	resp := postChat(t, ts.URL, models.ChatRequest{Message: "hi", SystemPrompt: &prompt})
	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "pirate", gotPrompt)

	var summaries []models.ConversationSummary
	getJSON(t, ts.URL+"/api/conversations", &summaries)
	require.Len(t, summaries, 1)
	conv, _ := srv.Conversation(summaries[0].ID)
	assert.Equal(t, "pirate", conv.SystemPrompt)
}

func TestHandleChatUnknownConversation(t *testing.T) {
	_, ts := newTestServer(t, fakebackend.Options{})

	id := "missing"
	resp := postChat(t, ts.URL, models.ChatRequest{Message: "hi", ConversationID: &id})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleChatEmptyMessage(t *testing.T) {
	_, ts := newTestServer(t, fakebackend.Options{})

	resp := postChat(t, ts.URL, models.ChatRequest{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConversationResources(t *testing.T) {
	srv, ts := newTestServer(t, fakebackend.Options{})

	resp := postChat(t, ts.URL, models.ChatRequest{Message: "a very long first message that needs a shorter title"})
	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var summaries []models.ConversationSummary
	getJSON(t, ts.URL+"/api/conversations", &summaries)
	require.Len(t, summaries, 1)
	id := summaries[0].ID
	assert.Equal(t, "a very long first message that…", summaries[0].Title)

	var conv models.Conversation
	getJSON(t, ts.URL+"/api/conversations/"+id, &conv)
	assert.Equal(t, id, conv.ID)
	assert.Len(t, conv.Messages, 2)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/conversations/"+id+"/system-prompt",
		strings.NewReader(`{"system_prompt":"terse"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	var ack models.Ack
	doJSON(t, req, http.StatusOK, &ack)
	assert.Equal(t, models.AckUpdated, ack.Status)
	stored, _ := srv.Conversation(id)
	assert.Equal(t, "terse", stored.SystemPrompt)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/conversations/"+id, nil)
	require.NoError(t, err)
	doJSON(t, req, http.StatusOK, &ack)
	assert.Equal(t, models.AckDeleted, ack.Status)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/conversations/"+id, nil)
	require.NoError(t, err)
	doJSON(t, req, http.StatusNotFound, nil)

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/api/conversations/"+id, nil)
	require.NoError(t, err)
	doJSON(t, req, http.StatusNotFound, nil)
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	doJSON(t, req, http.StatusOK, out)
}

func doJSON(t *testing.T, req *http.Request, wantStatus int, out any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func TestHandleChatGeneratedTitle(t *testing.T) {
	var gotMessage string
	srv, ts := newTestServer(t, fakebackend.Options{
		Title: func(_ context.Context, firstMessage string) (string, error) {
			gotMessage = firstMessage
			return " Weather chat\n", nil
		},
	})

	resp := postChat(t, ts.URL, models.ChatRequest{Message: "what is the weather"})
	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "what is the weather", gotMessage)

	var summaries []models.ConversationSummary
	getJSON(t, ts.URL+"/api/conversations", &summaries)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Weather chat", summaries[0].Title)

	// Later messages keep the title.
	id := summaries[0].ID
	resp = postChat(t, ts.URL, models.ChatRequest{Message: "and tomorrow", ConversationID: &id})
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	conv, _ := srv.Conversation(id)
	assert.Equal(t, "Weather chat", conv.Title)
}

func TestHandleChatTitleFallback(t *testing.T) {
	_, ts := newTestServer(t, fakebackend.Options{
		Title: func(context.Context, string) (string, error) {
			return "", errors.New("model unavailable")
		},
	})

	resp := postChat(t, ts.URL, models.ChatRequest{Message: "hello there"})
	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var summaries []models.ConversationSummary
	getJSON(t, ts.URL+"/api/conversations", &summaries)
	require.Len(t, summaries, 1)
	assert.Equal(t, "hello there", summaries[0].Title)
}

func TestHandleChatReplyError(t *testing.T) {
	srv, ts := newTestServer(t, fakebackend.Options{
		Reply: func(context.Context, string, []models.Message) iter.Seq2[string, error] {
			return func(yield func(string, error) bool) {
				if !yield("partial ", nil) {
					return
				}
				yield("", errors.New("quota exceeded"))
			}
		},
	})

	resp := postChat(t, ts.URL, models.ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var (
		convID string
		reply  strings.Builder
		done   bool
	)
	for ev, err := range sse.Read(resp.Body, nil) {
		require.NoError(t, err)
		var rec models.StreamRecord
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &rec))
		switch {
		case rec.ConversationID != "":
			convID = rec.ConversationID
		case rec.Content != nil:
			reply.WriteString(*rec.Content)
		case rec.Status == models.StatusComplete:
			done = true
		}
	}

	assert.True(t, done)
	assert.Equal(t, "partial [Error: quota exceeded]", reply.String())
	conv, ok := srv.Conversation(convID)
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "partial [Error: quota exceeded]", conv.Messages[1].Content)
}
