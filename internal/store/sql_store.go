package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/interpretcore/core/pkg/protocol"
)

// querier is satisfied by both *sqlite.DB and postgres.Adapter (which
// translates ? placeholders to $N under the hood), letting SQLStore run
// the same query text against either backend.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore implements Store against the hard_segments/soft_heads/tts_items/
// rooms schema shared by the postgres and sqlite backends (see
// internal/store/postgres/migrations and internal/store/sqlite/migrations).
// Segment payloads are stored msgpack-encoded; schema columns never expose
// individual Segment fields, so the same queries serve both backends.
type SQLStore struct {
	q             querier
	closeFn       func() error
	retainedHards int
}

// NewSQLStore wraps a querier with the Store interface. closeFn releases
// the underlying connection pool or file handle.
// Complexity: O(1)
func NewSQLStore(q querier, closeFn func() error, retainedHards int) *SQLStore {
	if retainedHards <= 0 {
		retainedHards = 512
	}
	return &SQLStore{q: q, closeFn: closeFn, retainedHards: retainedHards}
}

func (s *SQLStore) touchRoom(ctx context.Context, roomID string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO rooms (room_id, last_seq, updated_at) VALUES (?, 0, CURRENT_TIMESTAMP)
		ON CONFLICT (room_id) DO NOTHING
	`, roomID)
	return err
}

// SaveHardSegment implements Store.
func (s *SQLStore) SaveHardSegment(ctx context.Context, roomID string, seg protocol.Segment) error {
	if err := s.touchRoom(ctx, roomID); err != nil {
		return fmt.Errorf("store: touch room: %w", err)
	}

	payload, err := protocol.EncodeDurable(seg)
	if err != nil {
		return fmt.Errorf("store: encode hard segment: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO hard_segments (room_id, unit_id, payload, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (room_id, unit_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, roomID, seg.UnitID, payload)
	if err != nil {
		return fmt.Errorf("store: save hard segment: %w", err)
	}

	return s.evictOldHardSegments(ctx, roomID)
}

// evictOldHardSegments trims a room's hard segments down to retainedHards,
// oldest first by updated_at.
func (s *SQLStore) evictOldHardSegments(ctx context.Context, roomID string) error {
	rows, err := s.q.QueryContext(ctx, `SELECT COUNT(*) FROM hard_segments WHERE room_id = ?`, roomID)
	if err != nil {
		return fmt.Errorf("store: count hard segments: %w", err)
	}
	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan hard segment count: %w", err)
		}
	}
	rows.Close()

	overflow := count - s.retainedHards
	if overflow <= 0 {
		return nil
	}

	_, err = s.q.ExecContext(ctx, `
		DELETE FROM hard_segments WHERE room_id = ? AND unit_id IN (
			SELECT unit_id FROM hard_segments WHERE room_id = ? ORDER BY updated_at ASC LIMIT ?
		)
	`, roomID, roomID, overflow)
	if err != nil {
		return fmt.Errorf("store: evict hard segments: %w", err)
	}

	return nil
}

// SaveSoftHead implements Store.
func (s *SQLStore) SaveSoftHead(ctx context.Context, roomID string, seg protocol.Segment) error {
	if err := s.touchRoom(ctx, roomID); err != nil {
		return fmt.Errorf("store: touch room: %w", err)
	}

	payload, err := protocol.EncodeDurable(seg)
	if err != nil {
		return fmt.Errorf("store: encode soft head: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO soft_heads (room_id, unit_id, payload, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (room_id, unit_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, roomID, seg.UnitID, payload)
	if err != nil {
		return fmt.Errorf("store: save soft head: %w", err)
	}

	return nil
}

// ClearSoftHead implements Store.
func (s *SQLStore) ClearSoftHead(ctx context.Context, roomID, unitID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM soft_heads WHERE room_id = ? AND unit_id = ?`, roomID, unitID)
	if err != nil {
		return fmt.Errorf("store: clear soft head: %w", err)
	}
	return nil
}

// SaveSeq implements Store.
func (s *SQLStore) SaveSeq(ctx context.Context, roomID string, seq uint64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO rooms (room_id, last_seq, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (room_id) DO UPDATE SET last_seq = excluded.last_seq, updated_at = excluded.updated_at
	`, roomID, seq)
	if err != nil {
		return fmt.Errorf("store: save seq: %w", err)
	}
	return nil
}

// SaveTTSMeta implements Store.
func (s *SQLStore) SaveTTSMeta(ctx context.Context, roomID string, item TTSItemMeta) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tts_items (room_id, unit_id, lang, state, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (room_id, unit_id, lang) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, roomID, item.UnitID, item.Lang, item.State)
	if err != nil {
		return fmt.Errorf("store: save tts meta: %w", err)
	}
	return nil
}

// LoadRoom implements Store.
func (s *SQLStore) LoadRoom(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	row := s.q.QueryRowContext(ctx, `SELECT last_seq FROM rooms WHERE room_id = ?`, roomID)
	var lastSeq uint64
	if err := row.Scan(&lastSeq); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load room: %w", err)
	}

	snap := &RoomSnapshot{LastSeq: lastSeq, SoftHeads: make(map[string]protocol.Segment)}

	hardRows, err := s.q.QueryContext(ctx, `
		SELECT payload FROM hard_segments WHERE room_id = ? ORDER BY updated_at ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("store: load hard segments: %w", err)
	}
	for hardRows.Next() {
		var payload []byte
		if err := hardRows.Scan(&payload); err != nil {
			hardRows.Close()
			return nil, fmt.Errorf("store: scan hard segment: %w", err)
		}
		var seg protocol.Segment
		if err := protocol.DecodeDurable(payload, &seg); err != nil {
			hardRows.Close()
			return nil, fmt.Errorf("store: decode hard segment: %w", err)
		}
		snap.HardSegments = append(snap.HardSegments, seg)
	}
	hardRows.Close()

	softRows, err := s.q.QueryContext(ctx, `SELECT payload FROM soft_heads WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, fmt.Errorf("store: load soft heads: %w", err)
	}
	for softRows.Next() {
		var payload []byte
		if err := softRows.Scan(&payload); err != nil {
			softRows.Close()
			return nil, fmt.Errorf("store: scan soft head: %w", err)
		}
		var seg protocol.Segment
		if err := protocol.DecodeDurable(payload, &seg); err != nil {
			softRows.Close()
			return nil, fmt.Errorf("store: decode soft head: %w", err)
		}
		snap.SoftHeads[seg.UnitID] = seg
	}
	softRows.Close()

	ttsRows, err := s.q.QueryContext(ctx, `SELECT unit_id, lang, state FROM tts_items WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, fmt.Errorf("store: load tts items: %w", err)
	}
	for ttsRows.Next() {
		var item TTSItemMeta
		if err := ttsRows.Scan(&item.UnitID, &item.Lang, &item.State); err != nil {
			ttsRows.Close()
			return nil, fmt.Errorf("store: scan tts item: %w", err)
		}
		snap.TTSItems = append(snap.TTSItems, item)
	}
	ttsRows.Close()

	return snap, nil
}

// DeleteRoom implements Store.
func (s *SQLStore) DeleteRoom(ctx context.Context, roomID string) error {
	for _, table := range []string{"hard_segments", "soft_heads", "tts_items", "rooms"} {
		if _, err := s.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE room_id = ?`, table), roomID); err != nil {
			return fmt.Errorf("store: delete room from %s: %w", table, err)
		}
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
