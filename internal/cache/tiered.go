package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// Tiered fronts a shared Provider with the in-process RecencyCache. Lookups hit the LRU first
// and fall back to the provider; provider hits are promoted into the LRU. Provider failures
// degrade to misses. Tiered is safe for concurrent use.
type Tiered struct {
	mu     sync.Mutex
	local  *RecencyCache
	shared Provider
	ttl    time.Duration
	logger *slog.Logger
}

// NewTiered wraps local with an optional shared provider. A nil provider keeps the cache local.
func NewTiered(local *RecencyCache, shared Provider, ttl time.Duration, logger *slog.Logger) *Tiered {
	if shared == nil {
		shared = NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{local: local, shared: shared, ttl: ttl, logger: logger}
}

// Lookup returns the remembered verdict for line.
func (t *Tiered) Lookup(ctx context.Context, line string) (models.Verdict, bool) {
	key := LineKey(line)

	t.mu.Lock()
	verdict, ok := t.local.Get(key)
	t.mu.Unlock()
	if ok {
		return verdict, true
	}

	raw, err := t.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			t.logger.Debug("shared verdict cache read failed", slog.Any("error", err))
		}
		return models.Verdict{}, false
	}
	if err := json.Unmarshal(raw, &verdict); err != nil {
		t.logger.Warn("discarding undecodable shared verdict", slog.String("key", key), slog.Any("error", err))
		return models.Verdict{}, false
	}

	t.mu.Lock()
	t.local.Put(key, verdict)
	t.mu.Unlock()
	return verdict, true
}

// Remember stores verdict for line in both tiers.
func (t *Tiered) Remember(ctx context.Context, line string, verdict models.Verdict) {
	key := LineKey(line)

	t.mu.Lock()
	t.local.Put(key, verdict)
	t.mu.Unlock()

	raw, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	if err := t.shared.Set(ctx, key, raw, t.ttl); err != nil {
		t.logger.Debug("shared verdict cache write failed", slog.Any("error", err))
	}
}

// Len reports the number of entries in the local tier.
func (t *Tiered) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local.Len()
}

// Close releases the shared provider.
func (t *Tiered) Close() error {
	return t.shared.Close()
}
