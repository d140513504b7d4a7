package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	key     string
	payload []byte
}

type fakeSink struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSink) Send(_ context.Context, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{key: key, payload: payload})
	return nil
}

func (f *fakeSink) Name() string { return "fake" }
func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeDeleter struct {
	mu        sync.Mutex
	requested []string
	err       error
}

func (f *fakeDeleter) RequestDeletion(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, name)
	return f.err
}

func (f *fakeDeleter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.requested...)
	sort.Strings(out)
	return out
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// fakeBlobs is an in-memory BlobReader and BlobDeleter.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func newFakeBlobs(objs map[string]string) *fakeBlobs {
	m := make(map[string][]byte, len(objs))
	for k, v := range objs {
		m[k] = []byte(v)
	}
	return &fakeBlobs{objects: m}
}

func (f *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok, nil
}

func (f *fakeBlobs) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	return nil
}

func (f *fakeBlobs) put(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = []byte(body)
}

func (f *fakeBlobs) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var errUnavailable = errors.New("connection refused")
