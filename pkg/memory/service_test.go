package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/llm/llmtest"
)

// scriptedClient routes each pipeline prompt to canned JSON.
func scriptedClient() *llmtest.Fake {
	return &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "You segment one conversation turn"):
				return `{"rated_segments":[
					{"text":"Mayor Elena of Haven discovered a magical crystal in the ancient ruins.","importance":4,"type":"information","topics":["NPCs","geography"],"memory_worthy":true}
				]}`, nil
			case strings.Contains(prompt, "Identify relationships"):
				return `{"relationships":[
					{"from_node_id":"character:mayor_elena","to_node_id":"location:haven","relationship":"located_in","evidence":["Mayor Elena of Haven"],"confidence":0.9},
					{"from_node_id":"character:mayor_elena","to_node_id":"object:magical_crystal","relationship":"discovered","evidence":["discovered a magical crystal"],"confidence":0.85}
				]}`, nil
			case strings.Contains(prompt, "Decide whether the candidate"):
				return `{"chosen_node_id":"<NEW>","justification":"no match","confidence":0}`, nil
			default:
				return `{"entities":[
					{"type":"character","name":"Mayor Elena","description":"mayor of Haven"},
					{"type":"location","name":"Haven","description":"a small town"},
					{"type":"object","name":"magical crystal","description":"a glowing crystal found in ruins"}
				]}`, nil
			}
		},
	}
}

func newService(t *testing.T, client *llmtest.Fake) *Service {
	t.Helper()
	cfg := &Config{
		StorageDir: t.TempDir(),
		Domain:     "dnd",
		HistoryURL: fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		Logger:     zerolog.Nop(),
		Client:     client,
	}
	s, err := NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordTurnFullIngest(t *testing.T) {
	s := newService(t, scriptedClient())
	s.Start()
	ctx := context.Background()

	entry, err := s.RecordTurn(ctx, apptype.RoleUser, "Mayor Elena of Haven discovered a magical crystal in the ancient ruins.")
	require.NoError(t, err)
	require.NotNil(t, entry.Digest)
	require.Len(t, entry.Digest.Segments, 1)
	assert.Equal(t, []string{"Npc", "Location"}, entry.Digest.Segments[0].Topics)

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, s.DrainQueue(dctx))

	stats := s.GraphStats()
	assert.Equal(t, 3, stats.NodeCount)
	assert.Equal(t, 2, stats.EdgeCount)
	assert.Equal(t, map[string]int{"character": 1, "location": 1, "object": 1}, stats.NodesByType)

	ps := s.ProcessorStats()
	assert.Equal(t, int64(1), ps.Processed)
	assert.Zero(t, ps.Failed)
}

func TestRecordTurnGateFiltering(t *testing.T) {
	client := &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"rated_segments":[
				{"text":"seg one","importance":2,"type":"query","topics":[],"memory_worthy":true},
				{"text":"seg two","importance":4,"type":"information","topics":[],"memory_worthy":true},
				{"text":"seg three","importance":5,"type":"action","topics":[],"memory_worthy":false}
			]}`, nil
		},
	}
	s := newService(t, client)
	// Processor deliberately not started: the queue depth is the number of
	// segments that passed the gate.
	_, err := s.RecordTurn(context.Background(), apptype.RoleUser, "three segments")
	require.NoError(t, err)
	assert.Equal(t, 1, s.ProcessorStats().QueueDepth)
}

func TestRecordTurnSurvivesRaterFailure(t *testing.T) {
	client := &llmtest.Fake{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", fmt.Errorf("llm unavailable")
		},
	}
	s := newService(t, client)

	entry, err := s.RecordTurn(context.Background(), apptype.RoleUser, "some content")
	require.NoError(t, err)
	require.NotNil(t, entry.Digest)
	require.Len(t, entry.Digest.Segments, 1)
	// Fallback segment is never memory-worthy, so nothing is enqueued.
	assert.False(t, entry.Digest.Segments[0].MemoryWorthy)
	assert.Zero(t, s.ProcessorStats().QueueDepth)
}

func TestRetrieveNonBlockingWithCacheHit(t *testing.T) {
	s := newService(t, scriptedClient())
	s.Start()
	ctx := context.Background()

	_, err := s.RecordTurn(ctx, apptype.RoleUser, "Mayor Elena of Haven discovered a magical crystal.")
	require.NoError(t, err)
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, s.DrainQueue(dctx))

	first, err := s.Retrieve(ctx, "who is Elena", 5)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Contains(t, first.Context, "Mayor Elena (character)")

	second, err := s.Retrieve(ctx, "who is Elena", 5)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Context, second.Context)
}

func TestRetrieveNeverBlocksOnPendingWork(t *testing.T) {
	s := newService(t, scriptedClient())
	// Queue up work without a running processor; retrieval still answers
	// from whatever graph state exists.
	_, err := s.RecordTurn(context.Background(), apptype.RoleUser, "Mayor Elena of Haven discovered a magical crystal.")
	require.NoError(t, err)

	start := time.Now()
	res, err := s.Retrieve(context.Background(), "Elena", 5)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, res.Results)
}

func TestReplayHistoryRebuildsQueue(t *testing.T) {
	s := newService(t, scriptedClient())
	ctx := context.Background()

	_, err := s.RecordTurn(ctx, apptype.RoleUser, "Mayor Elena of Haven discovered a magical crystal.")
	require.NoError(t, err)
	require.Equal(t, 1, s.ProcessorStats().QueueDepth)

	replayed, err := s.ReplayHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 2, s.ProcessorStats().QueueDepth)
}

func TestRecordTurnEmptyContent(t *testing.T) {
	s := newService(t, scriptedClient())
	entry, err := s.RecordTurn(context.Background(), apptype.RoleAgent, "")
	require.NoError(t, err)
	require.NotNil(t, entry.Digest)
	assert.Empty(t, entry.Digest.Segments)
	assert.Zero(t, s.ProcessorStats().QueueDepth)
}
