package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "123456:SECRET-token"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, testToken, time.Second, zap.NewNop())
	c.httpClient.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	return c
}

func TestClient_GetUpdates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/getUpdates", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req getUpdatesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(42), req.Offset)
		assert.Equal(t, 1, req.Timeout)
		assert.Equal(t, []string{"message"}, req.AllowedUpdates)

		writeJSON(w, http.StatusOK, map[string]any{
			"ok": true,
			"result": []map[string]any{
				{"update_id": 42, "message": map[string]any{"message_id": 7, "chat": map[string]any{"id": 1001, "type": "private"}, "text": "Add patient"}},
				{"update_id": 43},
			},
		})
	})

	updates, err := c.GetUpdates(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, int64(42), updates[0].UpdateID)
	require.NotNil(t, updates[0].Message)
	assert.Equal(t, int64(1001), updates[0].Message.Chat.ID)
	assert.Equal(t, "1001", updates[0].Message.Chat.ConversationID())
	assert.Equal(t, "Add patient", updates[0].Message.Text)
	assert.Nil(t, updates[1].Message)
}

func TestClient_SendMessageWithKeyboard(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/sendMessage"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": map[string]any{"message_id": 1}})
	})

	markup := &ReplyMarkup{
		Keyboard:        [][]KeyboardButton{{{Text: "Veneers"}}},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
	require.NoError(t, c.SendMessage(context.Background(), 1001, "Choose a service:", markup))

	assert.Equal(t, float64(1001), got["chat_id"])
	assert.Equal(t, "Choose a service:", got["text"])
	rm, ok := got["reply_markup"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, rm["one_time_keyboard"])
	assert.NotContains(t, rm, "remove_keyboard")
}

func TestClient_SendMessageRemoveKeyboard(t *testing.T) {
	var raw []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	require.NoError(t, c.SendMessage(context.Background(), 1, "Enter the patient's name:", &ReplyMarkup{RemoveKeyboard: true}))
	assert.JSONEq(t, `{"chat_id":1,"text":"Enter the patient's name:","reply_markup":{"remove_keyboard":true}}`, string(raw))
}

func TestClient_SendDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients_export.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("xlsx-bytes"), 0o600))

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/sendDocument"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "1001", r.FormValue("chat_id"))

		f, hdr, err := r.FormFile("document")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "patients_export.xlsx", hdr.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "xlsx-bytes", string(body))

		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	require.NoError(t, c.SendDocument(context.Background(), 1001, path, ""))
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"})
	})

	err := c.SendMessage(context.Background(), 1, "hi", nil)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.Equal(t, "sendMessage", apiErr.Method)
	assert.Contains(t, apiErr.Description, "chat not found")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error_code": 502, "description": "Bad Gateway"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	require.NoError(t, c.SendMessage(context.Background(), 1, "hi", nil))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, testToken, time.Second, zap.NewNop())
	c.httpClient.SetRetryCount(0)

	_, err := c.GetUpdates(context.Background(), 0)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
	assert.Contains(t, err.Error(), "<token>")
}
