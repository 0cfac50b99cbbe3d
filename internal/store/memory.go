package store

import (
	"container/list"
	"context"
	"sync"

	"github.com/interpretcore/core/pkg/protocol"
)

// MemoryStore is the default in-process Store backend. It holds no
// cross-process durability; a process restart loses all state. Useful for
// single-node deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*memoryRoom

	retainedHards int
}

type memoryRoom struct {
	hardOrder *list.List // ordered oldest -> newest, elements are protocol.Segment
	hardIndex map[string]*list.Element
	softHeads map[string]protocol.Segment
	lastSeq   uint64
	ttsItems  map[string]TTSItemMeta // keyed by unitId|lang
}

func newMemoryRoom() *memoryRoom {
	return &memoryRoom{
		hardOrder: list.New(),
		hardIndex: make(map[string]*list.Element),
		softHeads: make(map[string]protocol.Segment),
		ttsItems:  make(map[string]TTSItemMeta),
	}
}

// NewMemoryStore creates an in-process Store retaining up to retainedHards
// hard segments per room.
// Complexity: O(1)
func NewMemoryStore(retainedHards int) *MemoryStore {
	if retainedHards <= 0 {
		retainedHards = 512
	}
	return &MemoryStore{
		rooms:         make(map[string]*memoryRoom),
		retainedHards: retainedHards,
	}
}

func ttsKey(unitID, lang string) string {
	return unitID + "|" + lang
}

func (s *MemoryStore) room(roomID string) *memoryRoom {
	r, ok := s.rooms[roomID]
	if !ok {
		r = newMemoryRoom()
		s.rooms[roomID] = r
	}
	return r
}

// SaveHardSegment implements Store.
// Complexity: O(1) amortized
func (s *MemoryStore) SaveHardSegment(ctx context.Context, roomID string, seg protocol.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID)

	if el, exists := r.hardIndex[seg.UnitID]; exists {
		el.Value = seg
		r.hardOrder.MoveToBack(el)
		return nil
	}

	el := r.hardOrder.PushBack(seg)
	r.hardIndex[seg.UnitID] = el

	for r.hardOrder.Len() > s.retainedHards {
		oldest := r.hardOrder.Front()
		if oldest == nil {
			break
		}
		oldSeg := oldest.Value.(protocol.Segment)
		delete(r.hardIndex, oldSeg.UnitID)
		r.hardOrder.Remove(oldest)
	}

	return nil
}

// SaveSoftHead implements Store.
func (s *MemoryStore) SaveSoftHead(ctx context.Context, roomID string, seg protocol.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID)
	r.softHeads[seg.UnitID] = seg
	return nil
}

// ClearSoftHead implements Store.
func (s *MemoryStore) ClearSoftHead(ctx context.Context, roomID, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID)
	delete(r.softHeads, unitID)
	return nil
}

// SaveSeq implements Store.
func (s *MemoryStore) SaveSeq(ctx context.Context, roomID string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID)
	r.lastSeq = seq
	return nil
}

// SaveTTSMeta implements Store.
func (s *MemoryStore) SaveTTSMeta(ctx context.Context, roomID string, item TTSItemMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID)
	r.ttsItems[ttsKey(item.UnitID, item.Lang)] = item
	return nil
}

// LoadRoom implements Store.
func (s *MemoryStore) LoadRoom(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}

	snap := &RoomSnapshot{
		SoftHeads: make(map[string]protocol.Segment, len(r.softHeads)),
		LastSeq:   r.lastSeq,
	}

	for el := r.hardOrder.Front(); el != nil; el = el.Next() {
		snap.HardSegments = append(snap.HardSegments, el.Value.(protocol.Segment))
	}

	for unitID, seg := range r.softHeads {
		snap.SoftHeads[unitID] = seg
	}

	for _, item := range r.ttsItems {
		snap.TTSItems = append(snap.TTSItems, item)
	}

	return snap, nil
}

// DeleteRoom implements Store.
func (s *MemoryStore) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, roomID)
	return nil
}

// Close implements Store. MemoryStore holds no external resources.
func (s *MemoryStore) Close() error {
	return nil
}
