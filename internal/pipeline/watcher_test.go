package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deltafeed/internal/cache/memory"
	"github.com/alanyoungcy/deltafeed/internal/delta"
	"github.com/alanyoungcy/deltafeed/internal/domain"
)

const prefix = "symboleventsin/"

func newIngestFixture(blobs *fakeBlobs) (*Ingester, *memory.Store, *fakeSink) {
	store := memory.New()
	sink := &fakeSink{}
	d := NewDispatcher(delta.NewEngine(store, discardLogger()), sink, NewDirectDeleter(blobs, prefix), discardLogger())
	return NewIngester(blobs, d, prefix, discardLogger()), store, sink
}

func TestIngester_IngestDeletesBlob(t *testing.T) {
	blobs := newFakeBlobs(map[string]string{
		prefix + "ev-1.json": `{"symbol":"AAPL","value":"150"}`,
	})
	ing, store, sink := newIngestFixture(blobs)

	rec, err := ing.Ingest(context.Background(), prefix+"ev-1.json")
	require.NoError(t, err)
	assert.Equal(t, "ev-1.json", rec.OrigOrder)
	assert.Equal(t, map[string]string{"AAPL": "150"}, store.Snapshot())
	assert.Len(t, sink.messages(), 1)
	assert.Empty(t, blobs.keys())
}

func TestIngester_MalformedBlobIsKept(t *testing.T) {
	blobs := newFakeBlobs(map[string]string{prefix + "bad.json": `not json`})
	ing, _, sink := newIngestFixture(blobs)

	_, err := ing.Ingest(context.Background(), prefix+"bad.json")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	assert.Empty(t, sink.messages())
	assert.Equal(t, []string{prefix + "bad.json"}, blobs.keys())
}

func TestIngester_OversizedBlob(t *testing.T) {
	big := `{"symbol":"A","value":"` + strings.Repeat("1", MaxEventSize) + `"}`
	blobs := newFakeBlobs(map[string]string{prefix + "big.json": big})
	ing, _, _ := newIngestFixture(blobs)

	_, err := ing.Ingest(context.Background(), prefix+"big.json")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestIngester_BlobPaths(t *testing.T) {
	ing, _, _ := newIngestFixture(newFakeBlobs(nil))
	assert.Equal(t, prefix+"a.json", ing.BlobPath("a.json"))
	assert.Equal(t, prefix+"a.json", ing.BlobPath(prefix+"a.json"))
	assert.Equal(t, "a.json", ing.BlobName(prefix+"a.json"))
}

func TestWatcher_SweepProcessesAll(t *testing.T) {
	blobs := newFakeBlobs(map[string]string{
		prefix + "1.json": `{"symbol":"AAPL","value":"150"}`,
		prefix + "2.json": `{"symbol":"MSFT","value":"300"}`,
		prefix + "3.json": `{"symbol":"GOOG","value":"90"}`,
		"other/x.json":    `{"symbol":"IGN","value":"1"}`,
	})
	ing, store, sink := newIngestFixture(blobs)
	w := NewWatcher(blobs, ing, memory.NewLockManager(), WatcherConfig{Workers: 2}, discardLogger())

	stats, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Listed: 3, Processed: 3}, stats)
	assert.Len(t, sink.messages(), 3)
	assert.Equal(t, map[string]string{"AAPL": "150", "MSFT": "300", "GOOG": "90"}, store.Snapshot())
	assert.Equal(t, []string{"other/x.json"}, blobs.keys())
}

func TestWatcher_SkipsClaimedBlobs(t *testing.T) {
	blobs := newFakeBlobs(map[string]string{
		prefix + "1.json": `{"symbol":"AAPL","value":"150"}`,
	})
	ing, _, sink := newIngestFixture(blobs)
	locks := memory.NewLockManager()
	_, err := locks.Acquire(context.Background(), "blob:"+prefix+"1.json", time.Minute)
	require.NoError(t, err)

	w := NewWatcher(blobs, ing, locks, WatcherConfig{}, discardLogger())
	stats, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, sink.messages())
}

func TestWatcher_ClaimHandling(t *testing.T) {
	blobs := newFakeBlobs(map[string]string{prefix + "bad.json": `{"symbol":"A"}`})
	ing, _, _ := newIngestFixture(blobs)
	locks := memory.NewLockManager()
	w := NewWatcher(blobs, ing, locks, WatcherConfig{}, discardLogger())

	stats, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// A malformed blob keeps its claim, so the next sweep skips it.
	stats, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	// A read failure releases the claim for retry.
	blobs2 := newFakeBlobs(map[string]string{prefix + "ok.json": `{"symbol":"A","value":"1"}`})
	blobs2.getErr = errUnavailable
	ing2, _, _ := newIngestFixture(blobs2)
	w2 := NewWatcher(blobs2, ing2, locks, WatcherConfig{}, discardLogger())

	stats, err = w2.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	blobs2.getErr = nil
	stats, err = w2.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
}

func TestWatcher_RunLoopStopsOnCancel(t *testing.T) {
	blobs := newFakeBlobs(map[string]string{prefix + "1.json": `{"symbol":"A","value":"1"}`})
	ing, _, sink := newIngestFixture(blobs)
	w := NewWatcher(blobs, ing, nil, WatcherConfig{}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.RunLoop(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sink.messages(), 1)
}

// newFailingDeleteWatcher wires a watcher whose deletion requests always fail,
// so every ingested blob stays in the bucket.
func newFailingDeleteWatcher(blobs *fakeBlobs, opts ...WatcherOption) (*Watcher, *memory.Store, *fakeSink, *fakeDeleter) {
	store := memory.New()
	sink := &fakeSink{}
	deleter := &fakeDeleter{err: errUnavailable}
	d := NewDispatcher(delta.NewEngine(store, discardLogger()), sink, deleter, discardLogger())
	ing := NewIngester(blobs, d, prefix, discardLogger())
	w := NewWatcher(blobs, ing, memory.NewLockManager(), WatcherConfig{ClaimTTL: 10 * time.Millisecond}, discardLogger(), opts...)
	return w, store, sink, deleter
}

func TestWatcher_UndeletedBlobIsNotIngestedAgain(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs(map[string]string{
		prefix + "1.json": `{"symbol":"AAPL","value":"150"}`,
	})
	w, store, sink, deleter := newFailingDeleteWatcher(blobs)

	stats, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Listed: 1, Processed: 1}, stats)

	blobs.put(prefix+"2.json", `{"symbol":"AAPL","value":"155"}`)
	rec, err := w.Process(ctx, prefix+"2.json")
	require.NoError(t, err)
	assert.Equal(t, "5", rec.DeltaOrEmpty())

	// Both claims expire; the blobs are still in the bucket.
	time.Sleep(30 * time.Millisecond)
	for i := 0; i < 2; i++ {
		stats, err = w.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, SweepStats{Listed: 2, Skipped: 2}, stats)
	}

	assert.Len(t, sink.messages(), 2)
	assert.Equal(t, map[string]string{"AAPL": "155"}, store.Snapshot())
	assert.Equal(t, []string{"1.json", "2.json"}, deleter.names())
	assert.Equal(t, []string{prefix + "1.json", prefix + "2.json"}, blobs.keys())
}

func TestWatcher_ReuploadedBlobIsIngested(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs(map[string]string{
		prefix + "1.json": `{"symbol":"AAPL","value":"150"}`,
	})
	w, store, sink, _ := newFailingDeleteWatcher(blobs)

	_, err := w.Sweep(ctx)
	require.NoError(t, err)

	blobs.put(prefix+"1.json", `{"symbol":"AAPL","value":"1600"}`)
	time.Sleep(30 * time.Millisecond)
	stats, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Len(t, sink.messages(), 2)
	assert.Equal(t, map[string]string{"AAPL": "1600"}, store.Snapshot())
}

func TestWatcher_ForgetsDeletedBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs(map[string]string{
		prefix + "1.json": `{"symbol":"AAPL","value":"150"}`,
	})
	ing, _, sink := newIngestFixture(blobs)
	idx := memory.NewProcessedIndex()
	w := NewWatcher(blobs, ing, memory.NewLockManager(), WatcherConfig{}, discardLogger(), WithProcessedIndex(idx))

	_, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, blobs.keys())
	assert.Equal(t, 1, idx.Len())

	_, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Len(t, sink.messages(), 1)
}

func TestWatcher_MalformedBlobIsNotRetried(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs(map[string]string{prefix + "bad.json": `{"symbol":"A"}`})
	w, _, sink, deleter := newFailingDeleteWatcher(blobs)

	stats, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	time.Sleep(30 * time.Millisecond)
	stats, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, sink.messages())
	assert.Empty(t, deleter.names())
}
