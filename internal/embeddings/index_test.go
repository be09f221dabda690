package embeddings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewIndex(filepath.Join(t.TempDir(), "embeddings.jsonl"), zerolog.Nop())
	require.NoError(t, err)
	return ix
}

func entityRec(nodeID, name, etype string, vec []float32) apptype.EmbeddingRecord {
	return apptype.EmbeddingRecord{
		Vector: vec,
		Text:   name + " description",
		Metadata: apptype.EmbeddingMetadata{
			Source:     apptype.SourceGraphEntity,
			NodeID:     nodeID,
			EntityName: name,
			EntityType: etype,
		},
	}
}

func TestUpsertReplacesByNodeID(t *testing.T) {
	ix := testIndex(t)

	require.NoError(t, ix.Upsert(entityRec("character:elena", "Elena", "character", []float32{1, 0, 0})))
	require.NoError(t, ix.Upsert(entityRec("character:elena", "Elena", "character", []float32{0, 1, 0})))

	assert.Equal(t, 1, ix.Len())
	rec, ok := ix.Get("character:elena")
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1, 0}, rec.Vector)
}

func TestSearchRanksByCosine(t *testing.T) {
	ix := testIndex(t)
	require.NoError(t, ix.Upsert(entityRec("character:elena", "Elena", "character", []float32{1, 0, 0})))
	require.NoError(t, ix.Upsert(entityRec("location:haven", "Haven", "location", []float32{0, 1, 0})))
	require.NoError(t, ix.Upsert(entityRec("character:borin", "Borin", "character", []float32{0.9, 0.1, 0})))

	hits := ix.Search([]float32{1, 0, 0}, 2, Filter{Source: apptype.SourceGraphEntity})
	require.Len(t, hits, 2)
	assert.Equal(t, "character:elena", hits[0].Metadata.NodeID)
	assert.Equal(t, "character:borin", hits[1].Metadata.NodeID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchFiltersByEntityType(t *testing.T) {
	ix := testIndex(t)
	require.NoError(t, ix.Upsert(entityRec("character:elena", "Elena", "character", []float32{1, 0, 0})))
	require.NoError(t, ix.Upsert(entityRec("location:haven", "Haven", "location", []float32{1, 0, 0})))

	hits := ix.Search([]float32{1, 0, 0}, 5, Filter{Source: apptype.SourceGraphEntity, EntityType: "location"})
	require.Len(t, hits, 1)
	assert.Equal(t, "location:haven", hits[0].Metadata.NodeID)
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.jsonl")

	ix, err := NewIndex(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, ix.Upsert(entityRec("character:elena", "Elena", "character", []float32{1, 0, 0})))
	require.NoError(t, ix.Upsert(entityRec("location:haven", "Haven", "location", []float32{0, 1, 0})))

	reloaded, err := NewIndex(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Len())
	_, ok := reloaded.Get("character:elena")
	assert.True(t, ok)
}

func TestLoadSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.jsonl")
	content := `{"vector":[1,0],"text":"ok","metadata":{"source":"graph_entity","node_id":"a:b"}}
not json at all
{"vector":[0,1],"text":"also ok","metadata":{"source":"graph_entity","node_id":"c:d"}}
{"vector":[0.5,`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ix, err := NewIndex(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}
