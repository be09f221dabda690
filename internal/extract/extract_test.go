package extract

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/domain"
	"github.com/praxis-labs/agent-memory-go/internal/llm/llmtest"
)

func dndConfig(t *testing.T) *domain.Config {
	t.Helper()
	cfg, err := domain.Builtin("dnd")
	require.NoError(t, err)
	return cfg
}

func TestEntityExtract(t *testing.T) {
	fake := &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"entities":[
				{"type":"character","name":"Mayor Elena","description":"mayor of Haven"},
				{"type":"location","name":"Haven","description":"a small town"},
				{"type":"spaceship","name":"Rocinante","description":"out of vocabulary"},
				{"type":"object","name":"","description":"unnamed"}
			]}`, nil
		},
	}
	x := NewEntityExtractor(fake, dndConfig(t), zerolog.Nop())

	seg := apptype.RatedSegment{Text: "Mayor Elena of Haven", Importance: 4, Type: apptype.SegmentInformation}
	got := x.Extract(context.Background(), seg)
	require.Len(t, got, 2)
	assert.Equal(t, "character", got[0].Type)
	assert.Equal(t, "Mayor Elena", got[0].Name)
	assert.Equal(t, "location", got[1].Type)
}

func TestEntityExtractBareArray(t *testing.T) {
	fake := &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return `[{"type":"Character","name":"Borin","description":"a dwarf"}]`, nil
		},
	}
	x := NewEntityExtractor(fake, dndConfig(t), zerolog.Nop())

	got := x.Extract(context.Background(), apptype.RatedSegment{Text: "Borin"})
	require.Len(t, got, 1)
	assert.Equal(t, "character", got[0].Type)
}

func TestEntityExtractMalformed(t *testing.T) {
	fake := &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "no json here", nil
		},
	}
	x := NewEntityExtractor(fake, dndConfig(t), zerolog.Nop())
	assert.Empty(t, x.Extract(context.Background(), apptype.RatedSegment{Text: "x"}))
}

func TestEntityExtractLLMError(t *testing.T) {
	fake := &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", assert.AnError
		},
	}
	x := NewEntityExtractor(fake, dndConfig(t), zerolog.Nop())
	assert.Empty(t, x.Extract(context.Background(), apptype.RatedSegment{Text: "x"}))
}

func relNodes() []apptype.Node {
	return []apptype.Node{
		{ID: "character:elena", Name: "Elena", Type: "character", Description: "mayor"},
		{ID: "location:haven", Name: "Haven", Type: "location", Description: "a town"},
		{ID: "object:magical_crystal", Name: "magical crystal", Type: "object", Description: "a crystal"},
	}
}

func TestRelationshipExtract(t *testing.T) {
	fake := &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"relationships":[
				{"from_node_id":"character:elena","to_node_id":"location:haven","relationship":"located_in","evidence":["Mayor Elena of Haven"],"confidence":0.9},
				{"from_node_id":"character:elena","to_node_id":"object:magical_crystal","relationship":"discovered","evidence":["discovered a magical crystal"],"confidence":0.85},
				{"from_node_id":"character:elena","to_node_id":"character:unknown","relationship":"knows","confidence":0.9},
				{"from_node_id":"character:elena","to_node_id":"character:elena","relationship":"knows","confidence":0.9},
				{"from_node_id":"character:elena","to_node_id":"location:haven","relationship":"rules_over","confidence":0.9}
			]}`, nil
		},
	}
	x := NewRelationshipExtractor(fake, dndConfig(t), zerolog.Nop())

	got := x.Extract(context.Background(), "Mayor Elena of Haven discovered a magical crystal.", relNodes())
	require.Len(t, got, 2)
	assert.Equal(t, "located_in", got[0].Relationship)
	assert.Equal(t, "discovered", got[1].Relationship)
}

func TestRelationshipExtractMergesDuplicates(t *testing.T) {
	fake := &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"relationships":[
				{"from_node_id":"character:elena","to_node_id":"location:haven","relationship":"located_in","evidence":["a"],"confidence":0.6},
				{"from_node_id":"character:elena","to_node_id":"location:haven","relationship":"located_in","evidence":["b"],"confidence":0.9}
			]}`, nil
		},
	}
	x := NewRelationshipExtractor(fake, dndConfig(t), zerolog.Nop())

	got := x.Extract(context.Background(), "text", relNodes())
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a", "b"}, got[0].Evidence)
	assert.Equal(t, 0.9, got[0].Confidence)
}

func TestRelationshipExtractNeedsTwoNodes(t *testing.T) {
	fake := &llmtest.Fake{}
	x := NewRelationshipExtractor(fake, dndConfig(t), zerolog.Nop())
	got := x.Extract(context.Background(), "text", relNodes()[:1])
	assert.Empty(t, got)
	assert.Empty(t, fake.Prompts())
}
