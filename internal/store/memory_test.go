package store

import (
	"context"
	"testing"

	"github.com/interpretcore/core/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveAndLoadRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(4)

	seg := protocol.Segment{UnitID: "s1|en-US|0", Version: 1, Stage: protocol.StageHard, SrcText: "hello"}
	require.NoError(t, s.SaveHardSegment(ctx, "room-1", seg))
	require.NoError(t, s.SaveSeq(ctx, "room-1", 7))

	soft := protocol.Segment{UnitID: "s1|en-US|1", Version: 1, Stage: protocol.StageSoft, SrcText: "hel"}
	require.NoError(t, s.SaveSoftHead(ctx, "room-1", soft))

	require.NoError(t, s.SaveTTSMeta(ctx, "room-1", TTSItemMeta{UnitID: "s1|en-US|0", Lang: "fr-FR", State: "queued"}))

	snap, err := s.LoadRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.LastSeq)
	require.Len(t, snap.HardSegments, 1)
	assert.Equal(t, "hello", snap.HardSegments[0].SrcText)
	require.Contains(t, snap.SoftHeads, "s1|en-US|1")
	require.Len(t, snap.TTSItems, 1)
	assert.Equal(t, "queued", snap.TTSItems[0].State)
}

func TestMemoryStore_ClearSoftHead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(4)

	soft := protocol.Segment{UnitID: "s1|en-US|1", SrcText: "hel"}
	require.NoError(t, s.SaveSoftHead(ctx, "room-1", soft))
	require.NoError(t, s.ClearSoftHead(ctx, "room-1", "s1|en-US|1"))

	snap, err := s.LoadRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.NotContains(t, snap.SoftHeads, "s1|en-US|1")
}

func TestMemoryStore_RetentionEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	for i := 0; i < 5; i++ {
		seg := protocol.Segment{UnitID: unitIDFor(i), SrcText: "text"}
		require.NoError(t, s.SaveHardSegment(ctx, "room-1", seg))
	}

	snap, err := s.LoadRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, snap.HardSegments, 2)
	assert.Equal(t, unitIDFor(3), snap.HardSegments[0].UnitID)
	assert.Equal(t, unitIDFor(4), snap.HardSegments[1].UnitID)
}

func TestMemoryStore_LoadRoom_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(4)

	_, err := s.LoadRoom(ctx, "missing-room")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(4)

	require.NoError(t, s.SaveSeq(ctx, "room-1", 3))
	require.NoError(t, s.DeleteRoom(ctx, "room-1"))

	_, err := s.LoadRoom(ctx, "room-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func unitIDFor(i int) string {
	return "s1|en-US|" + string(rune('0'+i))
}
