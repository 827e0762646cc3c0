package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"groupkeeper-bot/internal/config"
)

type sink struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
	err     error
}

func (s *sink) Enqueue(_ context.Context, u tgbotapi.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates = append(s.updates, u)
	return nil
}

type checker struct{ err error }

func (c checker) Ping(context.Context) error { return c.err }

func testConfig() config.HTTP {
	return config.HTTP{Addr: "127.0.0.1:0", WebhookPath: "/telegram/webhook", WebhookSecret: "s3cr3t"}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook(t *testing.T) {
	s := &sink{}
	srv := New(testConfig(), s, nil, zaptest.NewLogger(t))

	rec := do(t, srv.Handler(), http.MethodPost, "/telegram/webhook/s3cr3t",
		`{"update_id":7,"message":{"message_id":1,"chat":{"id":5,"type":"private"},"text":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.updates, 1)
	assert.Equal(t, 7, s.updates[0].UpdateID)
	assert.Equal(t, "hi", s.updates[0].Message.Text)

	rec = do(t, srv.Handler(), http.MethodPost, "/telegram/webhook/s3cr3t", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/telegram/webhook/wrong", `{"update_id":8}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, s.updates, 1)
}

func TestWebhookBackpressure(t *testing.T) {
	srv := New(testConfig(), &sink{err: errors.New("stopped")}, nil, zaptest.NewLogger(t))

	rec := do(t, srv.Handler(), http.MethodPost, "/telegram/webhook/s3cr3t", `{"update_id":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNoWebhookInPollingMode(t *testing.T) {
	srv := New(testConfig(), nil, nil, zaptest.NewLogger(t))

	rec := do(t, srv.Handler(), http.MethodPost, "/telegram/webhook/s3cr3t", `{"update_id":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProbes(t *testing.T) {
	checks := map[string]Checker{"database": checker{}, "redis": checker{}}
	srv := New(testConfig(), nil, checks, zaptest.NewLogger(t))

	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	checks["redis"] = checker{err: errors.New("connection refused")}
	srv = New(testConfig(), nil, checks, zaptest.NewLogger(t))
	rec = do(t, srv.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Checks)
}

func TestStartAndShutdown(t *testing.T) {
	srv := New(testConfig(), nil, nil, zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Shutdown(context.Background()))
}
