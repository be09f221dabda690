package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &Config{URL: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())}
	s, err := NewStore(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(guid string, at time.Time) apptype.Entry {
	return apptype.Entry{
		GUID:      guid,
		Role:      apptype.RoleUser,
		Content:   "content of " + guid,
		CreatedAt: at,
	}
}

func TestAppendAndGetEntry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e := entry("guid-1", time.Now().UTC())
	require.NoError(t, s.AppendEntry(ctx, e))

	got, err := s.GetEntry(ctx, "guid-1")
	require.NoError(t, err)
	assert.Equal(t, e.GUID, got.GUID)
	assert.Equal(t, e.Role, got.Role)
	assert.Equal(t, e.Content, got.Content)
	assert.Nil(t, got.Digest)

	// Duplicate GUIDs are rejected.
	assert.Error(t, s.AppendEntry(ctx, e))
}

func TestGetEntryMissing(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetEntry(context.Background(), "nope")
	assert.Error(t, err)
}

func TestAttachDigest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEntry(ctx, entry("guid-1", time.Now().UTC())))
	d := &apptype.Digest{Segments: []apptype.RatedSegment{
		{Text: "a fact", Importance: 4, Type: apptype.SegmentInformation, MemoryWorthy: true},
	}}
	require.NoError(t, s.AttachDigest(ctx, "guid-1", d))

	got, err := s.GetEntry(ctx, "guid-1")
	require.NoError(t, err)
	require.NotNil(t, got.Digest)
	require.Len(t, got.Digest.Segments, 1)
	assert.Equal(t, "a fact", got.Digest.Segments[0].Text)

	assert.Error(t, s.AttachDigest(ctx, "missing", d))
}

func TestRecentEntriesChronological(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendEntry(ctx, entry(fmt.Sprintf("guid-%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	got, err := s.RecentEntries(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "guid-2", got[0].GUID)
	assert.Equal(t, "guid-4", got[2].GUID)

	none, err := s.RecentEntries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReplayEligible(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Entry with an eligible segment.
	e1 := entry("guid-1", base)
	e1.Digest = &apptype.Digest{Segments: []apptype.RatedSegment{
		{Text: "important fact", Importance: 4, Type: apptype.SegmentInformation, MemoryWorthy: true},
	}}
	require.NoError(t, s.AppendEntry(ctx, e1))

	// Entry whose segments all fail the gate.
	e2 := entry("guid-2", base.Add(time.Second))
	e2.Digest = &apptype.Digest{Segments: []apptype.RatedSegment{
		{Text: "small talk", Importance: 2, Type: apptype.SegmentInformation, MemoryWorthy: true},
		{Text: "a question", Importance: 5, Type: apptype.SegmentQuery, MemoryWorthy: true},
	}}
	require.NoError(t, s.AppendEntry(ctx, e2))

	// Entry with no digest at all.
	require.NoError(t, s.AppendEntry(ctx, entry("guid-3", base.Add(2*time.Second))))

	got, err := s.ReplayEligible(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "guid-1", got[0].GUID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
