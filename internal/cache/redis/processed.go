package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// ProcessedIndex implements domain.ProcessedIndex as one hash with a field per
// blob path. Values are "<unix ms> <version>" and never expire; Prune removes
// them once the blob is gone.
type ProcessedIndex struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

// NewProcessedIndex creates a ProcessedIndex whose hash is named
// "<namespace>:processed".
func NewProcessedIndex(c *Client, namespace string) *ProcessedIndex {
	key := "processed"
	if namespace != "" {
		key = namespace + ":" + key
	}
	return &ProcessedIndex{rdb: c.Underlying(), key: key, now: time.Now}
}

// Lookup returns the version recorded for path.
func (p *ProcessedIndex) Lookup(ctx context.Context, path string) (string, bool, error) {
	v, err := p.rdb.HGet(ctx, p.key, path).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: lookup processed %s: %w", path, unavailable(err))
	}
	_, version, _ := parseMarker(v)
	return version, true, nil
}

// Mark records version as ingested for path.
func (p *ProcessedIndex) Mark(ctx context.Context, path, version string) error {
	v := strconv.FormatInt(p.now().UnixMilli(), 10) + " " + version
	if err := p.rdb.HSet(ctx, p.key, path, v).Err(); err != nil {
		return fmt.Errorf("redis: mark processed %s: %w", path, unavailable(err))
	}
	return nil
}

// Prune drops stale markers under prefix.
func (p *ProcessedIndex) Prune(ctx context.Context, prefix string, keep map[string]struct{}, cutoff time.Time) (int, error) {
	var stale []string
	iter := p.rdb.HScan(ctx, p.key, 0, "", 500).Iterator()
	for iter.Next(ctx) {
		path := iter.Val()
		if !iter.Next(ctx) {
			break
		}
		at, _, ok := parseMarker(iter.Val())
		if !strings.HasPrefix(path, prefix) || (ok && at.After(cutoff)) {
			continue
		}
		if _, listed := keep[path]; listed {
			continue
		}
		stale = append(stale, path)
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis: scan processed: %w", unavailable(err))
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := p.rdb.HDel(ctx, p.key, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: prune processed: %w", unavailable(err))
	}
	return int(n), nil
}

func parseMarker(v string) (time.Time, string, bool) {
	ms, version, found := strings.Cut(v, " ")
	n, err := strconv.ParseInt(ms, 10, 64)
	if !found || err != nil {
		return time.Time{}, v, false
	}
	return time.UnixMilli(n), version, true
}

// Compile-time interface check.
var _ domain.ProcessedIndex = (*ProcessedIndex)(nil)
