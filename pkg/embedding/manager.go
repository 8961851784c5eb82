package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/internal/util"
	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
)

const (
	defaultCacheSize     = 1000
	defaultCacheTTL      = time.Hour
	defaultMaxConcurrent = 5
)

// Params configures a Manager. Zero values fall back to the defaults.
type Params struct {
	CacheSize     int
	CacheTTL      time.Duration
	MaxConcurrent int64
}

type cacheEntry struct {
	vec      []float32
	storedAt time.Time
}

// Manager wraps an ai.Client with an in-memory embedding cache and a
// concurrency bound. Identical texts embed once per TTL window; saturated
// callers queue on the semaphore instead of failing.
type Manager struct {
	client ai.Client
	cache  *lru.Cache[string, cacheEntry]
	ttl    time.Duration
	sem    *semaphore.Weighted

	now func() time.Time
}

// NewManager creates a Manager around the given client.
func NewManager(client ai.Client, params Params) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding manager requires an ai client")
	}
	if params.CacheSize <= 0 {
		params.CacheSize = defaultCacheSize
	}
	if params.CacheTTL <= 0 {
		params.CacheTTL = defaultCacheTTL
	}
	if params.MaxConcurrent <= 0 {
		params.MaxConcurrent = defaultMaxConcurrent
	}

	cache, err := lru.New[string, cacheEntry](params.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		client: client,
		cache:  cache,
		ttl:    params.CacheTTL,
		sem:    semaphore.NewWeighted(params.MaxConcurrent),
		now:    time.Now,
	}, nil
}

// GetEmbedding returns the embedding for text, serving repeats from the
// cache. Blank text yields a nil vector without a provider call.
func (m *Manager) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil, nil
	}

	key := cacheKey(normalized)
	if vec, ok := m.lookup(key); ok {
		return vec, nil
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	vec, err := m.client.GenerateEmbedding(ctx, []byte(normalized))
	if err != nil {
		return nil, err
	}
	if vec != nil {
		m.cache.Add(key, cacheEntry{vec: vec, storedAt: m.now()})
	}
	return vec, nil
}

// GetEmbeddingBatch returns embeddings for texts in input order. Cached
// entries are served directly; the residue goes to the provider as one batch.
// Blank inputs and provider misses come back as nil vectors.
func (m *Manager) GetEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		normalized := normalizeText(text)
		if normalized == "" {
			continue
		}
		keys[i] = cacheKey(normalized)
		if vec, ok := m.lookup(keys[i]); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, normalized)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	vecs, err := m.client.GenerateEmbeddingBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding batch size mismatch: got %d want %d", len(vecs), len(missTexts))
	}

	storedAt := m.now()
	for i, vec := range vecs {
		idx := missIdx[i]
		out[idx] = vec
		if vec != nil {
			m.cache.Add(keys[idx], cacheEntry{vec: vec, storedAt: storedAt})
		}
	}
	return out, nil
}

// CacheLen reports the number of live cache entries, expired or not.
func (m *Manager) CacheLen() int {
	return m.cache.Len()
}

// lookup returns a cached vector when present and fresh. Expired entries are
// evicted and treated as misses.
func (m *Manager) lookup(key string) ([]float32, bool) {
	entry, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	if m.now().Sub(entry.storedAt) > m.ttl {
		m.cache.Remove(key)
		return nil, false
	}
	return entry.vec, true
}

func normalizeText(text string) string {
	return util.CollapseWhitespace(strings.TrimSpace(text))
}

func cacheKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
