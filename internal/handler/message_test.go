package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linkora/realtime/internal/middleware"
)

// Валидация происходит до любых обращений к хранилищу, поэтому nil-репозитории
// в этих тестах не достигаются.
func newValidationHandler() *MessageHandler {
	return NewMessageHandler(nil, nil, nil, nil, nil)
}

func postJSON(target, body, userID string) *http.Request {
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func TestSendMessageValidation(t *testing.T) {
	h := newValidationHandler()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed json", body: `{`, want: "invalid request body"},
		{name: "no target", body: `{"text":"hi"}`, want: "exactly one of to or group_id required"},
		{name: "both targets", body: `{"to":"bob","group_id":"g1","text":"hi"}`, want: "exactly one of to or group_id required"},
		{name: "unknown kind", body: `{"to":"bob","kind":"hologram","text":"hi"}`, want: "unknown message kind"},
		{name: "empty payload", body: `{"to":"bob","text":"   "}`, want: "empty message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.SendMessage(rec, postJSON("/api/messages", tt.body, "alice"))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestMarkAsReadValidation(t *testing.T) {
	h := newValidationHandler()
	rec := httptest.NewRecorder()
	h.MarkAsRead(rec, postJSON("/api/messages/read", `{}`, "alice"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "from or group_id required")
}

func TestQueryTime(t *testing.T) {
	cursor := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	req := httptest.NewRequest("GET", "/api/messages/conversation/bob?before="+cursor.Format(time.RFC3339), nil)
	assert.Equal(t, cursor, queryTime(req, "before"))

	req = httptest.NewRequest("GET", "/api/messages/conversation/bob", nil)
	assert.True(t, queryTime(req, "before").IsZero())

	req = httptest.NewRequest("GET", "/api/messages/conversation/bob?before=yesterday", nil)
	assert.True(t, queryTime(req, "before").IsZero())
}

func TestQueryLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{query: "", want: 50},
		{query: "?limit=20", want: 20},
		{query: "?limit=500", want: 100},
		{query: "?limit=0", want: 50},
		{query: "?limit=ten", want: 50},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/messages/conversation/bob"+tt.query, nil)
		assert.Equal(t, tt.want, queryLimit(req, 50, 100), tt.query)
	}
}
