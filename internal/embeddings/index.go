// Package embeddings maintains the flat vector index over entity
// descriptions: one JSONL record per embedded string, cosine search,
// upsert keyed by node ID for graph-entity records.
package embeddings

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
)

// Filter narrows a search to records whose metadata matches the non-empty
// fields.
type Filter struct {
	Source     string
	EntityType string
}

func (f Filter) matches(m apptype.EmbeddingMetadata) bool {
	if f.Source != "" && m.Source != f.Source {
		return false
	}
	if f.EntityType != "" && m.EntityType != f.EntityType {
		return false
	}
	return true
}

// Index is the in-memory vector index backed by a JSONL file.
type Index struct {
	mu       sync.RWMutex
	path     string
	records  []apptype.EmbeddingRecord
	byNodeID map[string]int
	logger   zerolog.Logger
}

// NewIndex loads (or creates) the index at path. Corrupt lines are skipped
// with a warning; a partial trailing line never fails the load.
func NewIndex(path string, logger zerolog.Logger) (*Index, error) {
	ix := &Index{
		path:     path,
		byNodeID: make(map[string]int),
		logger:   logger.With().Str("component", "embeddings").Logger(),
	}
	if err := ix.load(); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *Index) load() error {
	f, err := os.Open(ix.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open embeddings file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec apptype.EmbeddingRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			ix.logger.Warn().Int("line", lineNo).Err(err).Msg("skipping corrupt embeddings record")
			continue
		}
		ix.append(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read embeddings file: %w", err)
	}
	return nil
}

// append adds a record in memory, maintaining the node ID index.
func (ix *Index) append(rec apptype.EmbeddingRecord) {
	if rec.Metadata.Source == apptype.SourceGraphEntity && rec.Metadata.NodeID != "" {
		if i, ok := ix.byNodeID[rec.Metadata.NodeID]; ok {
			ix.records[i] = rec
			return
		}
		ix.byNodeID[rec.Metadata.NodeID] = len(ix.records)
	}
	ix.records = append(ix.records, rec)
}

// Upsert inserts the record, replacing any prior graph-entity record with
// the same node ID, and persists the index.
func (ix *Index) Upsert(rec apptype.EmbeddingRecord) error {
	if len(rec.Vector) == 0 {
		return fmt.Errorf("embedding record must carry a non-empty vector")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.append(rec)
	return ix.persist()
}

// persist rewrites the whole JSONL file. Callers hold the write lock.
func (ix *Index) persist() error {
	tmp := ix.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create embeddings temp file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range ix.records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode embeddings record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush embeddings file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close embeddings file: %w", err)
	}
	if err := os.Rename(tmp, ix.path); err != nil {
		return fmt.Errorf("failed to replace embeddings file: %w", err)
	}
	return nil
}

// Search returns the top-k records by cosine similarity to the query
// vector, filtered by metadata. Every hit carries its score.
func (ix *Index) Search(query []float32, k int, filter Filter) []apptype.SearchHit {
	if len(query) == 0 || k <= 0 {
		return []apptype.SearchHit{}
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]apptype.SearchHit, 0, k)
	for _, rec := range ix.records {
		if !filter.matches(rec.Metadata) {
			continue
		}
		hits = append(hits, apptype.SearchHit{
			Score:    Cosine(query, rec.Vector),
			Text:     rec.Text,
			Metadata: rec.Metadata,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Get returns the graph-entity record for a node ID, if present.
func (ix *Index) Get(nodeID string) (apptype.EmbeddingRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.byNodeID[nodeID]
	if !ok {
		return apptype.EmbeddingRecord{}, false
	}
	return ix.records[i], true
}

// Len returns the number of records in the index.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// DefaultPath returns the embeddings file path under a storage directory.
func DefaultPath(storageDir string) string {
	return filepath.Join(storageDir, "embeddings.jsonl")
}
