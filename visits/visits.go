// Package visits keeps, per thread, the times of the most recent visits and
// forgets threads that have not been visited for a while.
package visits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"reddit-highlighter/storage"
)

// MaxVisits is the number of visit times retained per thread.
const MaxVisits = 5

// DefaultExpiration is how long a thread's history survives without a visit.
const DefaultExpiration = 30 * 7 * 24 * time.Hour

// ErrCorrupt is returned when a stored record cannot be decoded.
var ErrCorrupt = errors.New("corrupt visit record")

// KV is the persistent key-value collaborator.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// History records visits in a KV. Updates and purges of the same thread are
// serialized within one process.
type History struct {
	kv     KV
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sync.Mutex
	refs int
}

// New creates a History backed by kv.
func New(kv KV, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{kv: kv, logger: logger, locks: make(map[string]*threadLock)}
}

// lock holds the per-thread lock for threadID until the returned func is called.
func (h *History) lock(threadID string) (unlock func()) {
	h.mu.Lock()
	l, ok := h.locks[threadID]
	if !ok {
		l = &threadLock{}
		h.locks[threadID] = l
	}
	l.refs++
	h.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		h.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.locks, threadID)
		}
		h.mu.Unlock()
	}
}

// Load returns the stored visit times for threadID in ascending order. A
// missing record yields an empty history.
func (h *History) Load(ctx context.Context, threadID string) ([]int64, error) {
	data, err := h.kv.Get(ctx, threadID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load visits: %w", err)
	}
	times, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load visits for %s: %w", threadID, err)
	}
	return times, nil
}

// RecordVisit appends now to the thread's history, keeps the newest
// MaxVisits entries and persists the result. lastVisit is the visit before
// this one, or now on a first visit.
func (h *History) RecordVisit(ctx context.Context, threadID string, now int64) (history []int64, lastVisit int64, err error) {
	unlock := h.lock(threadID)
	defer unlock()

	history, err = h.Load(ctx, threadID)
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return nil, 0, err
		}
		h.logger.Warn("Discarding corrupt visit record", "thread_id", threadID, "error", err)
		history = nil
	}

	history = append(history, now)
	slices.Sort(history)
	if len(history) > MaxVisits {
		history = history[len(history)-MaxVisits:]
	}

	data, err := json.Marshal(history)
	if err != nil {
		return nil, 0, fmt.Errorf("encode visits: %w", err)
	}
	if err := h.kv.Put(ctx, threadID, data); err != nil {
		return nil, 0, fmt.Errorf("save visits: %w", err)
	}

	lastVisit = now
	if len(history) > 1 {
		lastVisit = history[len(history)-2]
	}
	h.logger.Debug("Visit recorded", "thread_id", threadID, "visits", len(history), "last_visit", lastVisit)
	return history, lastVisit, nil
}

// PurgeExpired deletes every thread whose newest visit is more than
// expiration before now. Records that cannot be read are skipped. It
// returns the number of deleted threads.
func (h *History) PurgeExpired(ctx context.Context, now int64, expiration time.Duration) (int, error) {
	keys, err := h.kv.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list threads: %w", err)
	}

	window := expiration.Milliseconds()
	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		deleted, err := h.purgeThread(ctx, key, now, window)
		if err != nil {
			h.logger.Warn("Skipping visit record", "thread_id", key, "error", err)
			continue
		}
		if deleted {
			removed++
		}
	}

	if removed > 0 {
		h.logger.Info("Purged expired visit records", "count", removed)
	}
	return removed, nil
}

// purgeThread deletes threadID if its newest visit is older than window.
// The check and the delete happen under the thread's lock.
func (h *History) purgeThread(ctx context.Context, threadID string, now, window int64) (bool, error) {
	unlock := h.lock(threadID)
	defer unlock()

	history, err := h.Load(ctx, threadID)
	if err != nil {
		return false, err
	}
	if len(history) == 0 || history[len(history)-1]+window >= now {
		return false, nil
	}
	if err := h.kv.Delete(ctx, threadID); err != nil {
		return false, fmt.Errorf("delete expired visits: %w", err)
	}
	return true, nil
}

// Decode parses a stored record. Besides a JSON array of times it accepts the
// legacy forms: a bare integer, and a JSON string holding either of them.
// The result is sorted ascending.
func Decode(data []byte) ([]int64, error) {
	var times []int64
	if err := json.Unmarshal(data, &times); err == nil {
		slices.Sort(times)
		return times, nil
	}

	var single int64
	if err := json.Unmarshal(data, &single); err == nil {
		return []int64{single}, nil
	}

	var wrapped string
	if err := json.Unmarshal(data, &wrapped); err == nil {
		wrapped = strings.TrimSpace(wrapped)
		if n, err := strconv.ParseInt(wrapped, 10, 64); err == nil {
			return []int64{n}, nil
		}
		if err := json.Unmarshal([]byte(wrapped), &times); err == nil {
			slices.Sort(times)
			return times, nil
		}
	}

	return nil, fmt.Errorf("%w: %.40q", ErrCorrupt, data)
}
