package domain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinConfigs(t *testing.T) {
	for _, name := range []string{"dnd", "d&d", "assistant", "general"} {
		cfg, err := Builtin(name)
		require.NoError(t, err, name)
		require.NoError(t, cfg.Validate(), name)
		assert.True(t, cfg.GraphMemory.Enabled, name)
	}

	_, err := Builtin("unknown")
	assert.Error(t, err)
}

func TestVocabularyLookups(t *testing.T) {
	cfg, err := Builtin("dnd")
	require.NoError(t, err)

	assert.True(t, cfg.HasEntityType("character"))
	assert.False(t, cfg.HasEntityType("spaceship"))
	assert.True(t, cfg.HasRelationshipType("located_in"))
	assert.False(t, cfg.HasRelationshipType("orbits"))
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domain.yaml")
	data := `
domain_name: scifi
graph_memory_config:
  enabled: true
  entity_types: [character, ship, planet]
  relationship_types: [crew_of, orbits]
  similarity_threshold: 0.75
topic_taxonomy:
  space: [ship, planet]
topic_normalizations:
  ships: ship
digest_instructions: Track ships and crews.
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "scifi", cfg.DomainName)
	assert.Equal(t, 0.75, cfg.GraphMemory.SimilarityThreshold)
	assert.True(t, cfg.HasEntityType("ship"))
	assert.Equal(t, "Track ships and crews.", cfg.DigestInstructions)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domain.yaml")
	data := `
domain_name: broken
graph_memory_config:
  enabled: true
  entity_types: []
  relationship_types: [knows]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{DomainName: "x"}
	assert.NoError(t, cfg.Validate())

	cfg.GraphMemory.SimilarityThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	assert.Error(t, cfg.Validate())
}

func TestTaxonomyNormalize(t *testing.T) {
	cfg, err := Builtin("dnd")
	require.NoError(t, err)
	tax := cfg.Taxonomy()

	got := tax.Normalize([]string{"NPCs", "geography", "ANCIENT RUINS"})
	assert.Equal(t, []string{"Npc", "Location", "Archaeology"}, got)
}

func TestTaxonomyNormalizeDedupes(t *testing.T) {
	cfg, err := Builtin("dnd")
	require.NoError(t, err)
	tax := cfg.Taxonomy()

	got := tax.Normalize([]string{"ruins", "Ancient Ruins", "  ", "magic", "Spells"})
	assert.Equal(t, []string{"Archaeology", "Magic"}, got)
}

func TestTaxonomyNormalizePassesUnknownTopics(t *testing.T) {
	cfg, err := Builtin("assistant")
	require.NoError(t, err)
	tax := cfg.Taxonomy()

	got := tax.Normalize([]string{"quantum flux"})
	assert.Equal(t, []string{"Quantum Flux"}, got)
	assert.Empty(t, tax.Normalize(nil))
}
