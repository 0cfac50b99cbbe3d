package tts

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/interpretcore/core/internal/config"
	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMetricsOnce sync.Once
	testMetrics     *observability.Metrics
)

func getTestMetrics() *observability.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = observability.NewMetrics()
	})
	return testMetrics
}

func newTestManager(t *testing.T, providerURL string, listenerCount int, broadcasts chan Item) *Manager {
	t.Helper()

	client := NewClient(Config{ProviderURL: providerURL, Voice: "alloy", Format: "mp3"}, zerolog.Nop())

	listenerFn := ListenerCountFunc(func(roomID, lang string) int { return listenerCount })
	broadcastFn := BroadcastFunc(func(roomID, lang string, item Item) {
		if broadcasts != nil {
			broadcasts <- item
		}
	})

	return NewManager(config.TTSConfig{MaxBacklogSec: 8, ResumeBacklogSec: 4}, client, getTestMetrics(), zerolog.Nop(), listenerFn, broadcastFn)
}

func waitForItem(t *testing.T, ch chan Item) Item {
	t.Helper()
	select {
	case item := <-ch:
		return item
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return Item{}
	}
}

func TestManager_EnqueueSynthesizesAndBroadcasts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio-bytes"))
	}))
	defer server.Close()

	broadcasts := make(chan Item, 4)
	m := newTestManager(t, server.URL, 1, broadcasts)

	seg := protocol.Segment{UnitID: "u1", SrcText: "hola"}
	m.Enqueue("room1", seg, "en")

	item := waitForItem(t, broadcasts)
	assert.Equal(t, "u1", item.UnitID)
	assert.Equal(t, StateReady, item.State)
	assert.Equal(t, []byte("audio-bytes"), item.Audio)
}

func TestManager_NoListenersSkipsSynthesis(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("audio-bytes"))
	}))
	defer server.Close()

	broadcasts := make(chan Item, 4)
	m := newTestManager(t, server.URL, 0, broadcasts)

	seg := protocol.Segment{UnitID: "u1", SrcText: "hola"}
	m.Enqueue("room1", seg, "en")

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case <-deadline:
			assert.Equal(t, 0, calls, "synthesis provider should never be called with zero listeners")
			return
		case <-broadcasts:
			t.Fatal("an item with no listeners must not be broadcast")
		}
	}
}

func TestManager_SynthesisFailureTwiceDeliversTextOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	broadcasts := make(chan Item, 4)
	m := newTestManager(t, server.URL, 1, broadcasts)

	seg := protocol.Segment{UnitID: "u1", SrcText: "hola"}
	m.Enqueue("room1", seg, "en")

	item := waitForItem(t, broadcasts)
	assert.Equal(t, StateDone, item.State)
	assert.Nil(t, item.Audio)
}

func TestManager_DuplicateUnitIDIsIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio-bytes"))
	}))
	defer server.Close()

	broadcasts := make(chan Item, 4)
	m := newTestManager(t, server.URL, 1, broadcasts)

	seg := protocol.Segment{UnitID: "u1", SrcText: "hola"}
	m.Enqueue("room1", seg, "en")
	m.Enqueue("room1", seg, "en")

	waitForItem(t, broadcasts)

	select {
	case <-broadcasts:
		t.Fatal("the duplicate enqueue must not produce a second broadcast")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestManager_CloseRoomDropsQueuedItems(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-released
		w.Write([]byte("audio-bytes"))
	}))
	defer server.Close()

	broadcasts := make(chan Item, 4)
	m := newTestManager(t, server.URL, 1, broadcasts)

	seg := protocol.Segment{UnitID: "u1", SrcText: "hola"}
	m.Enqueue("room1", seg, "en")

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, ok := m.queues[queueKey("room1", "en")]
		return ok
	}, time.Second, 5*time.Millisecond)

	m.CloseRoom("room1")
	close(released)

	select {
	case <-broadcasts:
		t.Fatal("a dropped item must never be broadcast")
	case <-time.After(200 * time.Millisecond):
	}

	m.mu.Lock()
	_, stillTracked := m.queues[queueKey("room1", "en")]
	m.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestQueueKey_JoinsWithPipe(t *testing.T) {
	assert.Equal(t, "room1|en", queueKey("room1", "en"))
}
