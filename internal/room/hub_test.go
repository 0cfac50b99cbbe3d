package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/interpretcore/core/internal/config"
	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/internal/segment"
	"github.com/interpretcore/core/internal/tts"
	"github.com/interpretcore/core/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hubTestMetrics     *observability.Metrics
	hubTestMetricsOnce sync.Once
)

func getHubTestMetrics() *observability.Metrics {
	hubTestMetricsOnce.Do(func() {
		hubTestMetrics = observability.NewMetrics()
	})
	return hubTestMetrics
}

type passthroughTranslator struct{}

func (passthroughTranslator) Translate(ctx context.Context, roomID, srcText, srcLang string, targetLangs []string) ([]segment.TranslationResult, error) {
	out := make([]segment.TranslationResult, len(targetLangs))
	for i, lang := range targetLangs {
		out[i] = segment.TranslationResult{Lang: lang, Text: "[" + lang + "] " + srcText, TransSentLen: segment.Split(srcText)}
	}
	return out, nil
}

type recordedWrite struct {
	listenerID string
	env        protocol.Envelope
}

// fakeConn captures every envelope written to one listener, in order.
type fakeConn struct {
	mu   sync.Mutex
	id   string
	envs []protocol.Envelope
	out  chan recordedWrite
	fail bool
}

func newFakeConn(id string, out chan recordedWrite) *fakeConn {
	return &fakeConn{id: id, out: out}
}

func (c *fakeConn) write(data []byte) error {
	if c.fail {
		return assertErrWriteFailed
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	if c.out != nil {
		c.out <- recordedWrite{listenerID: c.id, env: env}
	}
	return nil
}

func (c *fakeConn) snapshot() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, len(c.envs))
	copy(out, c.envs)
	return out
}

var assertErrWriteFailed = &writeFailedErr{}

type writeFailedErr struct{}

func (*writeFailedErr) Error() string { return "write failed" }

func newTestHub(t *testing.T, cfg config.RoomDefaults) (*Hub, chan string) {
	t.Helper()
	closed := make(chan string, 16)

	proc := segment.NewProcessor(
		segment.Config{FinalDebounce: 20 * time.Millisecond},
		passthroughTranslator{},
		nil,
		getHubTestMetrics(),
		zerolog.Nop(),
		func(roomID string, seg protocol.Segment) {},
		func(roomID string, seg protocol.Segment, lang string) {},
	)

	h := NewHub(cfg, proc, getHubTestMetrics(), zerolog.Nop(), func(roomID string) {
		closed <- roomID
		proc.CloseRoom(roomID)
	})
	return h, closed
}

func waitForEnvelope(t *testing.T, ch chan recordedWrite) recordedWrite {
	t.Helper()
	select {
	case rw := <-ch:
		return rw
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return recordedWrite{}
	}
}

func TestHub_AttachSendsSnapshot(t *testing.T) {
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("l1", out)

	h.Attach("room-1", "l1", RoleListener, "fr-FR", false, conn.write)

	rw := waitForEnvelope(t, out)
	assert.Equal(t, protocol.TypeSnapshot, rw.env.Type)
}

// TestHub_AttachSnapshotPrecedesConcurrentBroadcast pins the ordering
// guarantee that a listener's snapshot is always the first envelope it
// receives, even when a Broadcast for its room is racing concurrently
// with Attach.
func TestHub_AttachSnapshotPrecedesConcurrentBroadcast(t *testing.T) {
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 64, ListenerQueueBytes: 1 << 20})
	out := make(chan recordedWrite, 64)
	conn := newFakeConn("l1", out)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			h.Broadcast("room-1", protocol.Segment{UnitID: "s1|en-US|0", SrcLang: "en-US"})
		}
	}()

	h.Attach("room-1", "l1", RoleListener, "fr-FR", false, conn.write)
	wg.Wait()

	rw := waitForEnvelope(t, out)
	assert.Equal(t, protocol.TypeSnapshot, rw.env.Type, "snapshot must be the first envelope a listener sees")
}

func TestHub_BroadcastSpeakerGetsUntranslatedMirror(t *testing.T) {
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("speaker-1", out)
	h.Attach("room-1", "speaker-1", RoleSpeaker, "", false, conn.write)
	<-out // snapshot

	seg := protocol.Segment{
		UnitID:  "u1",
		SrcText: "hello",
		SrcLang: "en-US",
		Translations: map[string]protocol.Translation{
			"fr-FR": {Text: "bonjour"},
		},
	}
	h.Broadcast("room-1", seg)

	rw := waitForEnvelope(t, out)
	assert.Equal(t, protocol.TypePatch, rw.env.Type)
	payload, ok := rw.env.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello", payload["srcText"])
	assert.Nil(t, payload["translations"])
}

func TestHub_BroadcastSrcLangMatchGetsUntranslated(t *testing.T) {
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("l1", out)
	h.Attach("room-1", "l1", RoleListener, "en-US", false, conn.write)
	<-out // snapshot

	seg := protocol.Segment{
		UnitID:  "u1",
		SrcText: "hello",
		SrcLang: "en-US",
		Translations: map[string]protocol.Translation{
			"fr-FR": {Text: "bonjour"},
		},
	}
	h.Broadcast("room-1", seg)

	rw := waitForEnvelope(t, out)
	payload, ok := rw.env.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello", payload["srcText"])
}

func TestHub_BroadcastTranslatedListenerGetsOwnLanguageOnly(t *testing.T) {
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("l1", out)
	h.Attach("room-1", "l1", RoleListener, "fr-FR", false, conn.write)
	<-out // snapshot

	seg := protocol.Segment{
		UnitID:  "u1",
		SrcText: "hello",
		SrcLang: "en-US",
		Translations: map[string]protocol.Translation{
			"fr-FR": {Text: "bonjour"},
			"es-ES": {Text: "hola"},
		},
	}
	h.Broadcast("room-1", seg)

	rw := waitForEnvelope(t, out)
	payload, ok := rw.env.Payload.(map[string]interface{})
	require.True(t, ok)
	translations, ok := payload["translations"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, translations, 1)
	assert.Contains(t, translations, "fr-FR")
}

func TestHub_BroadcastNoMatchingTranslationSendsNothing(t *testing.T) {
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("l1", out)
	h.Attach("room-1", "l1", RoleListener, "de-DE", false, conn.write)
	<-out // snapshot

	seg := protocol.Segment{
		UnitID:  "u1",
		SrcText: "hello",
		SrcLang: "en-US",
		Translations: map[string]protocol.Translation{
			"fr-FR": {Text: "bonjour"},
		},
	}
	h.Broadcast("room-1", seg)

	select {
	case rw := <-out:
		t.Fatalf("expected no delivery, got %+v", rw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_BroadcastTTSOnlyReachesWantsAudioMatchingLang(t *testing.T) {
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20})

	audioOut := make(chan recordedWrite, 8)
	audioConn := newFakeConn("audio-listener", audioOut)
	h.Attach("room-1", "audio-listener", RoleListener, "fr-FR", true, audioConn.write)
	<-audioOut

	textOut := make(chan recordedWrite, 8)
	textConn := newFakeConn("text-listener", textOut)
	h.Attach("room-1", "text-listener", RoleListener, "fr-FR", false, textConn.write)
	<-textOut

	wrongLangOut := make(chan recordedWrite, 8)
	wrongLangConn := newFakeConn("wrong-lang-listener", wrongLangOut)
	h.Attach("room-1", "wrong-lang-listener", RoleListener, "es-ES", true, wrongLangConn.write)
	<-wrongLangOut

	h.BroadcastTTS("room-1", "fr-FR", tts.Item{UnitID: "u1", Lang: "fr-FR", Format: "mp3", Audio: []byte("abc")})

	rw := waitForEnvelope(t, audioOut)
	assert.Equal(t, protocol.TypeTTS, rw.env.Type)

	select {
	case rw := <-textOut:
		t.Fatalf("text-only listener should not receive tts, got %+v", rw)
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case rw := <-wrongLangOut:
		t.Fatalf("wrong-language listener should not receive tts, got %+v", rw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ListenerCount(t *testing.T) {
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("a1", out)
	h.Attach("room-1", "a1", RoleListener, "fr-FR", true, conn.write)
	<-out

	out2 := make(chan recordedWrite, 8)
	conn2 := newFakeConn("a2", out2)
	h.Attach("room-1", "a2", RoleListener, "fr-FR", false, conn2.write)
	<-out2

	assert.Equal(t, 1, h.ListenerCount("room-1", "fr-FR"))
	assert.Equal(t, 0, h.ListenerCount("room-1", "es-ES"))
}

func TestHub_AttachCancelsPendingIdleTeardown(t *testing.T) {
	h, closed := newTestHub(t, config.RoomDefaults{
		ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20, RoomIdleTTL: 30 * time.Millisecond,
	})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("a1", out)
	h.Attach("room-1", "a1", RoleListener, "fr-FR", false, conn.write)
	<-out
	h.Detach("room-1", "a1")

	time.Sleep(15 * time.Millisecond)
	out2 := make(chan recordedWrite, 8)
	conn2 := newFakeConn("a2", out2)
	h.Attach("room-1", "a2", RoleListener, "fr-FR", false, conn2.write)
	<-out2

	select {
	case roomID := <-closed:
		t.Fatalf("room %s was torn down despite a new listener attaching before TTL elapsed", roomID)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestHub_IdleRoomTearsDownAfterTTL(t *testing.T) {
	h, closed := newTestHub(t, config.RoomDefaults{
		ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20, RoomIdleTTL: 20 * time.Millisecond,
	})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("a1", out)
	h.Attach("room-1", "a1", RoleListener, "fr-FR", false, conn.write)
	<-out
	h.Detach("room-1", "a1")

	require.Eventually(t, func() bool {
		select {
		case roomID := <-closed:
			return roomID == "room-1"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestHub_SpeakerSessionBlocksIdleTeardown(t *testing.T) {
	h, closed := newTestHub(t, config.RoomDefaults{
		ListenerQueueDepth: 8, ListenerQueueBytes: 1 << 20, RoomIdleTTL: 20 * time.Millisecond,
		WatchdogEventIdle: time.Hour, WatchdogPCMIdle: time.Hour,
	})
	w := h.NewSpeakerSession("room-1", "sess-1")
	defer w.Stop()

	select {
	case roomID := <-closed:
		t.Fatalf("room %s torn down while a speaker session is active", roomID)
	case <-time.After(60 * time.Millisecond):
	}

	h.EndSpeakerSession("room-1", "sess-1")

	require.Eventually(t, func() bool {
		select {
		case roomID := <-closed:
			return roomID == "room-1"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestHub_BackpressureDropsListener(t *testing.T) {
	// A zero-byte budget makes every enqueue attempt exceed maxBytes, so
	// the very first broadcast after the snapshot finds the listener's
	// queue already "full" and drops it.
	h, _ := newTestHub(t, config.RoomDefaults{ListenerQueueDepth: 8, ListenerQueueBytes: 0})
	out := make(chan recordedWrite, 8)
	conn := newFakeConn("l1", out)
	h.Attach("room-1", "l1", RoleListener, "en-US", true, conn.write)

	seg := protocol.Segment{UnitID: "u1", SrcText: "hello", SrcLang: "en-US"}
	h.Broadcast("room-1", seg)

	require.Eventually(t, func() bool {
		return h.ListenerCount("room-1", "en-US") == 0
	}, time.Second, 5*time.Millisecond)
}
