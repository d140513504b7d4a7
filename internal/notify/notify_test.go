package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeletionClient_PostsBlobName(t *testing.T) {
	var (
		gotBody    map[string]string
		gotHeaders http.Header
		gotMethod  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewDeletionClient(DeletionConfig{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	require.NoError(t, c.RequestDeletion(context.Background(), "ev-001.json"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, map[string]string{"blobname": "ev-001.json"}, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "no-cache", gotHeaders.Get("Cache-Control"))
	assert.Equal(t, "secret", gotHeaders.Get(DefaultAPIKeyHeader))
}

func TestDeletionClient_CustomHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewDeletionClient(DeletionConfig{URL: srv.URL, APIKey: "k", APIKeyHeader: "X-API-Key"})
	require.NoError(t, err)
	require.NoError(t, c.RequestDeletion(context.Background(), "b"))
	assert.Equal(t, "k", got)
}

func TestDeletionClient_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewDeletionClient(DeletionConfig{URL: srv.URL})
	require.NoError(t, err)
	err = c.RequestDeletion(context.Background(), "ev.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestDeletionClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewDeletionClient(DeletionConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Error(t, c.RequestDeletion(context.Background(), "ev.json"))
}

func TestNewDeletionClient_RequiresURL(t *testing.T) {
	_, err := NewDeletionClient(DeletionConfig{})
	assert.Error(t, err)
}

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventSinkFailed}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventSinkFailed, "sink", "down"))
	require.NoError(t, n.Notify(context.Background(), EventDeleteFailed, "delete", "down"))

	assert.Equal(t, []string{"sink"}, s.titles)
}

func TestNotifier_ContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("nope")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventMalformedEvent, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: nope")
	assert.Equal(t, []string{"t"}, good.titles)
}

func TestWebhookSender_Posts(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL).Send(context.Background(), "Sink failed", "redis down"))
	assert.Equal(t, "Sink failed", body["title"])
	assert.Contains(t, body["text"], "redis down")
}
