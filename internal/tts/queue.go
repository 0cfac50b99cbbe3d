package tts

import (
	"container/list"
	"sync"
)

// ItemState is the lifecycle stage of one queued TTS item.
type ItemState string

const (
	StateQueued       ItemState = "queued"
	StateSynthesizing ItemState = "synthesizing"
	StateReady        ItemState = "ready"
	StateDone         ItemState = "done"
	StateDropped      ItemState = "dropped"
)

// msPerRune and minItemDurationMs turn text length into a rough spoken-
// duration estimate for backlog accounting; no provider in the retrieved
// pack exposes a duration estimate ahead of synthesis, so this heuristic
// stands in (roughly 16 runes/sec, a typical narrated-speech pace).
const (
	msPerRune         = 60
	minItemDurationMs = 500
)

func estDurationMs(text string) int {
	ms := len([]rune(text)) * msPerRune
	if ms < minItemDurationMs {
		ms = minItemDurationMs
	}
	return ms
}

// Item is one queued TTS item for a single (room, lang, unitId).
type Item struct {
	UnitID        string
	Lang          string
	Text          string
	Format        string
	EstDurationMs int
	State         ItemState
	Audio         []byte
	retried       bool
}

// roomLangQueue is the FIFO for one (room, lang) pair: enqueue rejects
// duplicate unitIds, and backlog is the sum of estimated duration over
// every item not yet done or dropped.
type roomLangQueue struct {
	mu         sync.Mutex
	order      *list.List
	index      map[string]*list.Element
	fastActive bool
}

func newRoomLangQueue() *roomLangQueue {
	return &roomLangQueue{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// enqueue appends item, returning false if unitId is already present.
func (q *roomLangQueue) enqueue(item *Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[item.UnitID]; exists {
		return false
	}
	el := q.order.PushBack(item)
	q.index[item.UnitID] = el
	return true
}

// nextQueued returns the oldest item still in StateQueued, or nil.
func (q *roomLangQueue) nextQueued() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for el := q.order.Front(); el != nil; el = el.Next() {
		item := el.Value.(*Item)
		if item.State == StateQueued {
			return item
		}
	}
	return nil
}

// backlogMs sums EstDurationMs over items in {queued, synthesizing, ready}.
func (q *roomLangQueue) backlogMs() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for el := q.order.Front(); el != nil; el = el.Next() {
		item := el.Value.(*Item)
		switch item.State {
		case StateQueued, StateSynthesizing, StateReady:
			total += item.EstDurationMs
		}
	}
	return total
}

// finish records a completed (or twice-failed) synthesis attempt for
// unitID and returns a snapshot for broadcast. ok is false if the item
// was dropped (room closed) while synthesis was in flight, in which
// case the caller must not broadcast it.
func (q *roomLangQueue) finish(unitID string, audio []byte, synthesisOK bool) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, exists := q.index[unitID]
	if !exists {
		return Item{}, false
	}
	item := el.Value.(*Item)
	if item.State == StateDropped {
		return Item{}, false
	}

	if synthesisOK {
		item.Audio = audio
		item.State = StateReady
	} else {
		item.Audio = nil
		item.State = StateDone
	}
	return *item, true
}

func (q *roomLangQueue) setState(unitID string, state ItemState) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.index[unitID]; ok {
		el.Value.(*Item).State = state
	}
}

func (q *roomLangQueue) setFastActive(active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fastActive = active
}

func (q *roomLangQueue) isFastActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fastActive
}

// dropAll marks every still-pending item dropped, called when the
// containing room is torn down.
func (q *roomLangQueue) dropAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for el := q.order.Front(); el != nil; el = el.Next() {
		item := el.Value.(*Item)
		if item.State == StateQueued || item.State == StateSynthesizing {
			item.State = StateDropped
		}
	}
}
