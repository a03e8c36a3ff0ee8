package notifier_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/notifier"
)

const testToken = "12345:TESTTOKEN"

// apiServer fakes the Bot API: it records the JSON payload of each method
// call and replies with a configurable envelope per method.
type apiServer struct {
	mu       sync.Mutex
	payloads map[string][]map[string]any
	results  map[string]string
	fail     map[string]string
	files    map[string][]byte
}

func newAPIServer() *apiServer {
	return &apiServer{
		payloads: make(map[string][]map[string]any),
		results:  make(map[string]string),
		fail:     make(map[string]string),
		files:    make(map[string][]byte),
	}
}

func (s *apiServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(fmt.Sprintf("/file/bot%s/", testToken), func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		content, ok := s.files[r.URL.Path]
		s.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Write(content)
	})

	mux.HandleFunc(fmt.Sprintf("/bot%s/", testToken), func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[len(fmt.Sprintf("/bot%s/", testToken)):]

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		s.mu.Lock()
		s.payloads[method] = append(s.payloads[method], payload)
		desc, failed := s.fail[method]
		result, hasResult := s.results[method]
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		if failed {
			fmt.Fprintf(w, `{"ok":false,"description":%q}`, desc)

			return
		}

		if !hasResult {
			result = "true"
		}

		fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
	})

	return mux
}

func (s *apiServer) lastPayload(method string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	calls := s.payloads[method]
	if len(calls) == 0 {
		return nil
	}

	return calls[len(calls)-1]
}

func newTestClient(t *testing.T) (*notifier.Telegram, *apiServer) {
	srv := newAPIServer()

	ts := httptest.NewServer(srv.handler(t))
	t.Cleanup(ts.Close)

	return notifier.NewTelegram(testToken, notifier.WithBaseURL(ts.URL)), srv
}

func TestTelegram_Send(t *testing.T) {
	tg, srv := newTestClient(t)
	srv.results["sendMessage"] = `{"message_id":99,"chat":{"id":7}}`

	kb := notifier.Keyboard{
		{{Text: "⏸ Pause", Data: "pause:abc"}},
	}

	messageID, err := tg.Send(context.Background(), 7, "hello *world*", kb)
	require.NoError(t, err)
	assert.Equal(t, int64(99), messageID)

	payload := srv.lastPayload("sendMessage")
	require.NotNil(t, payload)
	assert.Equal(t, float64(7), payload["chat_id"])
	assert.Equal(t, "hello *world*", payload["text"])
	assert.Equal(t, "Markdown", payload["parse_mode"])

	markup, ok := payload["reply_markup"].(map[string]any)
	require.True(t, ok)

	rows, ok := markup["inline_keyboard"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)

	button := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "⏸ Pause", button["text"])
	assert.Equal(t, "pause:abc", button["callback_data"])
}

func TestTelegram_Send_NoKeyboard(t *testing.T) {
	tg, srv := newTestClient(t)
	srv.results["sendMessage"] = `{"message_id":99,"chat":{"id":7}}`

	_, err := tg.Send(context.Background(), 7, "hello", nil)
	require.NoError(t, err)

	payload := srv.lastPayload("sendMessage")
	require.NotNil(t, payload)
	assert.NotContains(t, payload, "reply_markup")
}

func TestTelegram_Send_APIError(t *testing.T) {
	tg, srv := newTestClient(t)
	srv.fail["sendMessage"] = "Bad Request: chat not found"

	_, err := tg.Send(context.Background(), 7, "hello", nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "chat not found")
}

func TestTelegram_Edit(t *testing.T) {
	tg, srv := newTestClient(t)

	err := tg.Edit(context.Background(), 7, 99, "updated", nil)
	require.NoError(t, err)

	payload := srv.lastPayload("editMessageText")
	require.NotNil(t, payload)
	assert.Equal(t, float64(7), payload["chat_id"])
	assert.Equal(t, float64(99), payload["message_id"])
	assert.Equal(t, "updated", payload["text"])
}

func TestTelegram_AnswerCallback(t *testing.T) {
	tg, srv := newTestClient(t)

	err := tg.AnswerCallback(context.Background(), "cb123", "Paused", true)
	require.NoError(t, err)

	payload := srv.lastPayload("answerCallbackQuery")
	require.NotNil(t, payload)
	assert.Equal(t, "cb123", payload["callback_query_id"])
	assert.Equal(t, "Paused", payload["text"])
	assert.Equal(t, true, payload["show_alert"])
}

func TestTelegram_Resolve(t *testing.T) {
	tg, srv := newTestClient(t)

	srv.results["getFile"] = `{"file_id":"f1","file_path":"documents/ubuntu.torrent"}`
	srv.files[fmt.Sprintf("/file/bot%s/documents/ubuntu.torrent", testToken)] = []byte("d8:announce0:e")

	content, err := tg.Resolve(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("d8:announce0:e"), content)

	payload := srv.lastPayload("getFile")
	require.NotNil(t, payload)
	assert.Equal(t, "f1", payload["file_id"])
}

func TestTelegram_Resolve_NoFilePath(t *testing.T) {
	tg, srv := newTestClient(t)
	srv.results["getFile"] = `{"file_id":"f1"}`

	_, err := tg.Resolve(context.Background(), "f1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "no file path")
}

func TestTelegram_Resolve_DownloadFails(t *testing.T) {
	tg, srv := newTestClient(t)
	srv.results["getFile"] = `{"file_id":"f1","file_path":"documents/missing.torrent"}`

	_, err := tg.Resolve(context.Background(), "f1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to download file")
}

func TestTelegram_GetUpdates(t *testing.T) {
	tg, srv := newTestClient(t)

	srv.results["getUpdates"] = `[
		{"update_id":10,"message":{"message_id":1,"from":{"id":500},"chat":{"id":7},"text":"/start"}},
		{"update_id":11,"callback_query":{"id":"cb1","from":{"id":500},"data":"pause:abc","message":{"message_id":2,"chat":{"id":7}}}}
	]`

	updates, err := tg.GetUpdates(context.Background(), 10, 30)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, int64(10), updates[0].UpdateID)
	require.NotNil(t, updates[0].Message)
	assert.Equal(t, "/start", updates[0].Message.Text)
	assert.Equal(t, int64(500), updates[0].Message.From.ID)

	require.NotNil(t, updates[1].CallbackQuery)
	assert.Equal(t, "pause:abc", updates[1].CallbackQuery.Data)
	assert.Equal(t, int64(7), updates[1].CallbackQuery.Message.Chat.ID)

	payload := srv.lastPayload("getUpdates")
	require.NotNil(t, payload)
	assert.Equal(t, float64(10), payload["offset"])
	assert.Equal(t, float64(30), payload["timeout"])
}

func TestTelegram_SetMyCommands(t *testing.T) {
	tg, srv := newTestClient(t)

	err := tg.SetMyCommands(context.Background(), []notifier.BotCommand{
		{Command: "start", Description: "Show help"},
	})
	require.NoError(t, err)

	payload := srv.lastPayload("setMyCommands")
	require.NotNil(t, payload)

	commands, ok := payload["commands"].([]any)
	require.True(t, ok)
	require.Len(t, commands, 1)

	cmd := commands[0].(map[string]any)
	assert.Equal(t, "start", cmd["command"])
	assert.Equal(t, "Show help", cmd["description"])
}
