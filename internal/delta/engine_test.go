package delta_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deltafeed/internal/cache/memory"
	"github.com/alanyoungcy/deltafeed/internal/delta"
	"github.com/alanyoungcy/deltafeed/internal/domain"
)

func newEngine(t *testing.T, store domain.ValueStore) *delta.Engine {
	t.Helper()
	return delta.NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCompute_FirstSight(t *testing.T) {
	store := memory.New()
	eng := newEngine(t, store)

	res, err := eng.Compute(context.Background(), "AAPL", "150")
	require.NoError(t, err)
	assert.Nil(t, res.Delta)
	assert.False(t, res.Reset)
	assert.Equal(t, map[string]string{"AAPL": "150"}, store.Snapshot())
}

func TestCompute_Delta(t *testing.T) {
	cases := []struct {
		name  string
		prev  string
		cur   string
		delta string
	}{
		{"increase", "150", "155", "5"},
		{"decrease", "155", "150", "-5"},
		{"unchanged", "42", "42", "0"},
		{"negative prior", "-10", "5", "15"},
		{"explicit sign", "+7", "-3", "-10"},
		{"beyond int64", "9223372036854775807", "-9223372036854775808", "-18446744073709551615"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.New()
			require.NoError(t, store.Set(context.Background(), "SYM", tc.prev))
			eng := newEngine(t, store)

			res, err := eng.Compute(context.Background(), "SYM", tc.cur)
			require.NoError(t, err)
			require.NotNil(t, res.Delta)
			assert.Equal(t, tc.delta, *res.Delta)

			got, err := store.Get(context.Background(), "SYM")
			require.NoError(t, err)
			assert.Equal(t, tc.cur, got)
		})
	}
}

func TestCompute_EmptyCachedValueIsFirstSight(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Set(context.Background(), "AAPL", ""))
	eng := newEngine(t, store)

	res, err := eng.Compute(context.Background(), "AAPL", "150")
	require.NoError(t, err)
	assert.Nil(t, res.Delta)
	assert.Equal(t, "150", store.Snapshot()["AAPL"])
}

func TestCompute_ResetFlushesEverySymbol(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Set(ctx, "AAPL", "150"))
	require.NoError(t, store.Set(ctx, "MSFT", "300"))
	eng := newEngine(t, store)

	res, err := eng.Compute(ctx, "AAPL", "0")
	require.NoError(t, err)
	require.NotNil(t, res.Delta)
	assert.Equal(t, "0", *res.Delta)
	assert.True(t, res.Reset)
	assert.Empty(t, store.Snapshot())

	_, err = store.Get(ctx, "AAPL")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompute_ResetOnUnknownSymbol(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Set(context.Background(), "MSFT", "300"))
	eng := newEngine(t, store)

	res, err := eng.Compute(context.Background(), "NEW", "0")
	require.NoError(t, err)
	assert.Equal(t, "0", *res.Delta)
	assert.Empty(t, store.Snapshot())
}

func TestCompute_MalformedValueWithPrior(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Set(context.Background(), "AAPL", "150"))
	eng := newEngine(t, store)

	_, err := eng.Compute(context.Background(), "AAPL", "15x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	assert.Equal(t, "150", store.Snapshot()["AAPL"], "cache must not be written")
}

func TestCompute_MalformedCachedValue(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Set(context.Background(), "AAPL", "abc"))
	eng := newEngine(t, store)

	_, err := eng.Compute(context.Background(), "AAPL", "10")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	assert.Equal(t, "abc", store.Snapshot()["AAPL"])
}

func TestCompute_EmptySymbol(t *testing.T) {
	store := memory.New()
	eng := newEngine(t, store)

	_, err := eng.Compute(context.Background(), "", "10")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	assert.Empty(t, store.Snapshot())
}

type failingStore struct {
	*memory.Store
	err error
}

func (f *failingStore) Update(context.Context, string, domain.UpdateFunc) error { return f.err }
func (f *failingStore) FlushAll(context.Context) error                        { return f.err }

func TestCompute_StoreFailurePropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	eng := newEngine(t, &failingStore{Store: memory.New(), err: storeErr})

	_, err := eng.Compute(context.Background(), "AAPL", "150")
	assert.ErrorIs(t, err, storeErr)

	_, err = eng.Compute(context.Background(), "AAPL", "0")
	assert.ErrorIs(t, err, storeErr)
}

// The sum of all returned deltas must equal final minus initial value, which
// only holds when no read/compute/write cycle interleaves with another.
func TestCompute_ConcurrentSameSymbol(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Set(ctx, "AAPL", "0"))
	eng := newEngine(t, store)

	const n = 200
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			res, err := eng.Compute(ctx, "AAPL", strconv.Itoa(v))
			if !assert.NoError(t, err) || !assert.NotNil(t, res.Delta) {
				return
			}
			d, err := strconv.ParseInt(*res.Delta, 10, 64)
			assert.NoError(t, err)
			mu.Lock()
			total += d
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	final, err := strconv.ParseInt(store.Snapshot()["AAPL"], 10, 64)
	require.NoError(t, err)
	assert.Equal(t, final, total)
}

func TestReset_ExcludesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	eng := newEngine(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := eng.Compute(ctx, "S"+strconv.Itoa(i), strconv.Itoa(i+1))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			assert.NoError(t, eng.Reset(ctx))
		}()
	}
	wg.Wait()

	require.NoError(t, eng.Reset(ctx))
	assert.Empty(t, store.Snapshot())
}

func TestDiff(t *testing.T) {
	d, err := delta.Diff("100", "250")
	require.NoError(t, err)
	assert.Equal(t, "150", d)

	_, err = delta.Diff("1.5", "2")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = delta.Diff("1", " 2")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}
