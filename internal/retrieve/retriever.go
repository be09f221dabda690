// Package retrieve assembles query context from the embeddings index and
// the graph: vector hits ranked by similarity, enriched with each hit's
// 1-hop neighborhood, behind a TTL cache.
package retrieve

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/embeddings"
	"github.com/praxis-labs/agent-memory-go/internal/graph"
	"github.com/praxis-labs/agent-memory-go/internal/llm"
	"github.com/praxis-labs/agent-memory-go/internal/metrics"
)

// Config bounds the retriever and its cache. MaxContextLength zero is an
// explicit bound: every context comes back empty (and flagged truncated
// when results existed). Pass a negative value to get the default.
type Config struct {
	MaxResults       int
	MaxContextLength int
	CacheTTL         time.Duration
	CacheSize        int
}

// DefaultConfig returns the standard retrieval bounds.
func DefaultConfig() Config {
	return Config{
		MaxResults:       5,
		MaxContextLength: 2000,
		CacheTTL:         300 * time.Second,
		CacheSize:        100,
	}
}

type cacheEntry struct {
	key          string
	context      string
	results      int
	truncated    bool
	hits         int
	storedAt     time.Time
	lastAccessed time.Time
}

// Retriever serves context queries. It holds borrowed references to the
// graph and index and never blocks on background work: it reads whatever
// graph state exists at call time.
type Retriever struct {
	client llm.Client
	graph  *graph.Store
	index  *embeddings.Index
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
	now     func() time.Time
}

// New builds a Retriever.
func New(client llm.Client, store *graph.Store, index *embeddings.Index, cfg Config, logger zerolog.Logger) *Retriever {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.MaxContextLength < 0 {
		cfg.MaxContextLength = 2000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 300 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	return &Retriever{
		client:  client,
		graph:   store,
		index:   index,
		cfg:     cfg,
		logger:  logger.With().Str("component", "retriever").Logger(),
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// Retrieve answers one query. maxResults <= 0 falls back to the configured
// default. A cache hit returns the identical context string.
func (r *Retriever) Retrieve(ctx context.Context, query string, maxResults int) (apptype.RetrievalResult, error) {
	start := r.now()
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResults
	}
	key := cacheKey(normalizeQuery(query), maxResults)

	if res, ok := r.lookup(key); ok {
		metrics.Default().IncCacheLookup(true)
		res.Query = query
		res.TookMS = float64(r.now().Sub(start).Microseconds()) / 1000
		return res, nil
	}
	metrics.Default().IncCacheLookup(false)

	vec, err := r.client.Embed(ctx, query)
	if err != nil {
		return apptype.RetrievalResult{}, fmt.Errorf("failed to embed query: %w", err)
	}
	hits := r.index.Search(vec, maxResults, embeddings.Filter{Source: apptype.SourceGraphEntity})

	contextStr, results := r.format(hits)
	contextStr, truncated := clampContext(contextStr, r.cfg.MaxContextLength)
	r.store(key, contextStr, results, truncated)

	return apptype.RetrievalResult{
		Context:   contextStr,
		Query:     query,
		Results:   results,
		CacheHit:  false,
		Truncated: truncated,
		TookMS:    float64(r.now().Sub(start).Microseconds()) / 1000,
	}, nil
}

// format renders ranked hits with their 1-hop neighborhoods. Hits whose
// node has vanished from the graph are skipped.
func (r *Retriever) format(hits []apptype.SearchHit) (string, int) {
	var b strings.Builder
	n := 0
	for _, h := range hits {
		node, ok := r.graph.GetNode(h.Metadata.NodeID)
		if !ok {
			r.logger.Debug().Str("node_id", h.Metadata.NodeID).Msg("skipping hit for missing node")
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s (%s): %s [relevance: %.2f]\n", n, node.Name, node.Type, node.Description, h.Score)

		neighbors, edges, err := r.graph.Neighbors(node.ID, 1)
		if err != nil {
			continue
		}
		names := make(map[string]string, len(neighbors))
		for _, nb := range neighbors {
			names[nb.ID] = nb.Name
		}
		for _, e := range edges {
			other := e.ToNodeID
			if other == node.ID {
				other = e.FromNodeID
			}
			if name, ok := names[other]; ok {
				fmt.Fprintf(&b, "   related: %s %s %s\n", node.Name, e.Relationship, name)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), n
}

func (r *Retriever) lookup(key string) (apptype.RetrievalResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return apptype.RetrievalResult{}, false
	}
	if r.now().Sub(e.storedAt) > r.cfg.CacheTTL {
		delete(r.entries, key)
		return apptype.RetrievalResult{}, false
	}
	e.hits++
	e.lastAccessed = r.now()
	return apptype.RetrievalResult{
		Context:   e.context,
		Results:   e.results,
		CacheHit:  true,
		Truncated: e.truncated,
	}, true
}

func (r *Retriever) store(key, contextStr string, results int, truncated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.entries[key] = &cacheEntry{
		key:          key,
		context:      contextStr,
		results:      results,
		truncated:    truncated,
		storedAt:     now,
		lastAccessed: now,
	}
	for len(r.entries) > r.cfg.CacheSize {
		r.evictLocked()
	}
}

// evictLocked drops the least recently accessed entry.
func (r *Retriever) evictLocked() {
	var victim string
	var oldest time.Time
	for k, e := range r.entries {
		if victim == "" || e.lastAccessed.Before(oldest) {
			victim = k
			oldest = e.lastAccessed
		}
	}
	if victim != "" {
		delete(r.entries, victim)
	}
}

// ClearCache drops every cached context.
func (r *Retriever) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*cacheEntry)
}

// InvalidateCache drops entries whose context contains the substring.
// Returns the number of entries dropped.
func (r *Retriever) InvalidateCache(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for k, e := range r.entries {
		if strings.Contains(e.context, substr) {
			delete(r.entries, k)
			dropped++
		}
	}
	return dropped
}

// OptimizeCache drops expired entries and returns the survivors ordered by
// (hit count, last accessed) descending.
func (r *Retriever) OptimizeCache() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	kept := make([]*cacheEntry, 0, len(r.entries))
	for k, e := range r.entries {
		if now.Sub(e.storedAt) > r.cfg.CacheTTL {
			delete(r.entries, k)
			continue
		}
		kept = append(kept, e)
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].hits != kept[j].hits {
			return kept[i].hits > kept[j].hits
		}
		return kept[i].lastAccessed.After(kept[j].lastAccessed)
	})
	keys := make([]string, len(kept))
	for i, e := range kept {
		keys[i] = e.key
	}
	return keys
}

// CacheLen reports the number of live cache entries.
func (r *Retriever) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// clampContext bounds the context to max bytes, cutting on a rune
// boundary so the result stays valid UTF-8. When the ellipsis fits it
// marks the cut; either way the result never exceeds max.
func clampContext(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	if max <= 0 {
		return "", true
	}
	cut := max
	if max > 3 {
		cut = max - 3
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if max > 3 {
		return s[:cut] + "...", true
	}
	return s[:cut], true
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func cacheKey(normalized string, maxResults int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d", normalized, maxResults)
	return fmt.Sprintf("%x", h.Sum64())
}
