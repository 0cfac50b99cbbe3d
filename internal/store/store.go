// Package store defines the durable state contract for the translation
// core: per-room retained hard segments, the last soft segment per open
// unit, the last broadcast sequence number, and TTS item metadata up to
// "ready". Audio bytes are never persisted.
package store

import (
	"context"
	"errors"

	"github.com/interpretcore/core/pkg/protocol"
)

// ErrNotFound is returned when a lookup finds no record.
var ErrNotFound = errors.New("store: not found")

// TTSItemMeta is the durable slice of a TTS queue item -- enough to
// reconstruct it as "queued" on restart. The synthesized audio itself is
// never persisted.
type TTSItemMeta struct {
	UnitID string
	Lang   string
	State  string // queued, synthesizing, ready (never persisted past ready)
}

// RoomSnapshot is everything a room rehydrates on restart.
type RoomSnapshot struct {
	HardSegments []protocol.Segment
	SoftHeads    map[string]protocol.Segment // unitId -> current soft segment
	LastSeq      uint64
	TTSItems     []TTSItemMeta
}

// Store is the durable backend for room state. Implementations must be
// safe for concurrent use by multiple rooms.
type Store interface {
	// SaveHardSegment appends or replaces a retained hard segment for a room,
	// evicting the oldest if the room's retention limit is exceeded.
	SaveHardSegment(ctx context.Context, roomID string, seg protocol.Segment) error

	// SaveSoftHead records the current soft segment for an open unit,
	// overwriting any prior soft head for that unit.
	SaveSoftHead(ctx context.Context, roomID string, seg protocol.Segment) error

	// ClearSoftHead removes a unit's soft head, called when it finalizes.
	ClearSoftHead(ctx context.Context, roomID, unitID string) error

	// SaveSeq records the last broadcast sequence number for a room.
	SaveSeq(ctx context.Context, roomID string, seq uint64) error

	// SaveTTSMeta records TTS item progress, never past the "ready" state.
	SaveTTSMeta(ctx context.Context, roomID string, item TTSItemMeta) error

	// LoadRoom rehydrates a room's full snapshot. Returns ErrNotFound if the
	// room has no durable record.
	LoadRoom(ctx context.Context, roomID string) (*RoomSnapshot, error)

	// DeleteRoom removes all durable state for a room, called on teardown
	// after a final snapshot write (if any component still needs one).
	DeleteRoom(ctx context.Context, roomID string) error

	// Close releases any underlying connection or file handle.
	Close() error
}
