package room

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_EnqueueDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got [][]byte

	l := newListener("l1", "room1", RoleListener, "es-ES", false, 8, 1<<20, func(data []byte) error {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
		return nil
	})
	go l.runWritePump(zerolog.Nop())
	defer l.Close()

	require.True(t, l.enqueue([]byte("one")))
	require.True(t, l.enqueue([]byte("two")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("one"), got[0])
	assert.Equal(t, []byte("two"), got[1])
}

func TestListener_EnqueueRejectsOverByteBudget(t *testing.T) {
	l := newListener("l1", "room1", RoleListener, "es-ES", false, 8, 4, func([]byte) error { return nil })

	assert.False(t, l.enqueue([]byte("way too big")))
}

func TestListener_EnqueueRejectsOverDepthBudget(t *testing.T) {
	// No write pump running: nothing drains send, so its buffered
	// capacity (maxDepth) is the only thing enqueue can fill.
	l := newListener("l1", "room1", RoleListener, "es-ES", false, 1, 1<<20, func([]byte) error { return nil })

	assert.True(t, l.enqueue([]byte("a")))
	assert.False(t, l.enqueue([]byte("b")), "the send channel's buffer is already full")
}

func TestListener_NextSeqIsMonotonic(t *testing.T) {
	l := newListener("l1", "room1", RoleListener, "es-ES", false, 8, 1<<20, func([]byte) error { return nil })

	assert.Equal(t, uint64(1), l.nextSeq())
	assert.Equal(t, uint64(2), l.nextSeq())
}
