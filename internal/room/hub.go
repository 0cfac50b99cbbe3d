// Package room implements the Room Hub: the listener registry and
// broadcast router that sits between the Segment Processor / TTS Queue
// and connected WebSocket peers, plus the per-speaker-session watchdog
// and room idle-TTL teardown.
package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/interpretcore/core/internal/config"
	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/internal/segment"
	"github.com/interpretcore/core/internal/tts"
	"github.com/interpretcore/core/pkg/protocol"
	"github.com/rs/zerolog"
)

func marshalEnvelope(env protocol.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// CloserFunc tears down everything a closed room owns outside the Hub
// itself (the Segment Processor's in-memory state, the TTS Queue's
// per-lang queues).
type CloserFunc func(roomID string)

// Hub owns every room's listener set and routes Segment Processor
// emissions and TTS Queue deliveries to the right listeners. Each room's
// mutable state is isolated behind its own mutex so one room's mailbox
// never contends with another's.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room

	cfg       config.RoomDefaults
	processor *segment.Processor
	onIdle    []CloserFunc
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

type room struct {
	mu        sync.Mutex
	id        string
	listeners map[string]*Listener
	watchdogs map[string]*Watchdog
	idleTimer *time.Timer
}

// NewHub builds a Room Hub. onIdle is called (in order) when a room is
// torn down after ROOM_IDLE_TTL with zero listeners and zero active
// speaker sessions — wire the Segment Processor's and TTS Manager's
// CloseRoom methods here.
func NewHub(cfg config.RoomDefaults, processor *segment.Processor, metrics *observability.Metrics, logger zerolog.Logger, onIdle ...CloserFunc) *Hub {
	return &Hub{
		rooms:     make(map[string]*room),
		cfg:       cfg,
		processor: processor,
		onIdle:    onIdle,
		metrics:   metrics,
		logger:    logger.With().Str("component", "room_hub").Logger(),
	}
}

func (h *Hub) room(roomID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{
			id:        roomID,
			listeners: make(map[string]*Listener),
			watchdogs: make(map[string]*Watchdog),
		}
		h.rooms[roomID] = r
		if h.metrics != nil {
			h.metrics.RoomsActive.WithLabelValues().Inc()
		}
	}
	return r
}

// Attach registers a new listener (or the speaker's own mirror
// connection) for roomID, sends it an authoritative snapshot, and
// cancels any pending idle teardown.
//
// The snapshot is enqueued onto l's own write queue before l is added to
// r.listeners, so it is always the first item runWritePump drains for
// this listener: a Broadcast/BroadcastTTS racing in from another
// goroutine can't reach l (and so can't enqueue a live patch ahead of
// the snapshot) until after the snapshot is already queued.
func (h *Hub) Attach(roomID, id string, role Role, targetLang string, wantsAudio bool, writeFn func([]byte) error) *Listener {
	l := newListener(id, roomID, role, targetLang, wantsAudio, h.cfg.ListenerQueueDepth, h.cfg.ListenerQueueBytes, writeFn)
	go l.runWritePump(h.logger)

	h.sendSnapshot(roomID, l)

	r := h.room(roomID)
	r.mu.Lock()
	r.listeners[id] = l
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	r.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RoomListenersByRole.WithLabelValues(roomID, string(role)).Inc()
	}

	return l
}

// Detach removes a listener from roomID and, if the room is now fully
// idle, arms the ROOM_IDLE_TTL teardown timer.
func (h *Hub) Detach(roomID, id string) {
	r := h.room(roomID)

	r.mu.Lock()
	l, ok := r.listeners[id]
	if ok {
		delete(r.listeners, id)
	}
	h.armIdleTeardownLocked(r)
	r.mu.Unlock()

	if ok {
		l.Close()
		if h.metrics != nil {
			h.metrics.RoomListenersByRole.WithLabelValues(roomID, string(l.Role)).Dec()
		}
	}
}

// NewSpeakerSession starts a watchdog for a speaker's capture session,
// identified by sessionID (unique per connection, distinct from any
// listener id). Call the returned Watchdog's TouchEvent/TouchPCM from
// the ingest WebSocket handler and Stop it when the connection closes.
func (h *Hub) NewSpeakerSession(roomID, sessionID string) *Watchdog {
	r := h.room(roomID)

	w := NewWatchdog(h.cfg.WatchdogEventIdle, h.cfg.WatchdogPCMIdle, func() {
		h.logger.Warn().Str("room_id", roomID).Str("session_id", sessionID).Msg("watchdog triggered restart advisory")
		if h.metrics != nil {
			h.metrics.RoomWatchdogTriggered.WithLabelValues(roomID).Inc()
		}
	})

	r.mu.Lock()
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	r.watchdogs[sessionID] = w
	r.mu.Unlock()

	return w
}

// EndSpeakerSession stops and releases sessionID's watchdog, arming the
// room's idle teardown timer if the room is now fully idle.
func (h *Hub) EndSpeakerSession(roomID, sessionID string) {
	r := h.room(roomID)

	r.mu.Lock()
	if w, ok := r.watchdogs[sessionID]; ok {
		w.Stop()
		delete(r.watchdogs, sessionID)
	}
	h.armIdleTeardownLocked(r)
	r.mu.Unlock()
}

// armIdleTeardownLocked must be called with r.mu held. It (re)arms the
// ROOM_IDLE_TTL teardown timer once the room has no listeners and no
// active speaker sessions left — the zero-in-flight-work condition for
// teardown.
func (h *Hub) armIdleTeardownLocked(r *room) {
	if len(r.listeners) > 0 || len(r.watchdogs) > 0 {
		return
	}
	if r.idleTimer != nil {
		return
	}

	ttl := h.cfg.RoomIdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	r.idleTimer = time.AfterFunc(ttl, func() {
		h.teardown(r.id)
	})
}

func (h *Hub) teardown(roomID string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}

	r.mu.Lock()
	stillIdle := len(r.listeners) == 0 && len(r.watchdogs) == 0
	r.mu.Unlock()
	if !stillIdle {
		h.mu.Unlock()
		return
	}

	delete(h.rooms, roomID)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RoomsActive.WithLabelValues().Dec()
	}
	h.logger.Info().Str("room_id", roomID).Msg("tearing down idle room")

	for _, closer := range h.onIdle {
		closer(roomID)
	}
}

// Broadcast is the segment.EmitFunc bound to this Hub: it routes seg to
// every listener whose language it matches — the speaker's own mirror
// connection and any listener whose targetLang equals the source
// language get the untranslated segment; everyone else gets their
// matching translation, if one exists yet.
func (h *Hub) Broadcast(roomID string, seg protocol.Segment) {
	r := h.room(roomID)

	r.mu.Lock()
	listeners := make([]*Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	var toDrop []string
	for _, l := range listeners {
		out, ok := projectForListener(seg, l)
		if !ok {
			continue
		}
		if !h.deliver(l, protocol.TypePatch, out) {
			toDrop = append(toDrop, l.ID)
		}
	}

	if h.metrics != nil {
		h.metrics.RoomBroadcastTotal.WithLabelValues(roomID, "patch").Inc()
	}

	for _, id := range toDrop {
		h.dropListener(roomID, id)
	}
}

// projectForListener decides whether seg is relevant to l and, if so,
// returns the (possibly language-narrowed) copy to send.
func projectForListener(seg protocol.Segment, l *Listener) (protocol.Segment, bool) {
	if l.Role == RoleSpeaker {
		out := seg
		out.Translations = nil
		return out, true
	}

	if l.TargetLang == seg.SrcLang {
		out := seg
		out.Translations = nil
		return out, true
	}

	t, ok := seg.Translations[l.TargetLang]
	if !ok {
		return protocol.Segment{}, false
	}
	out := seg
	out.Translations = map[string]protocol.Translation{l.TargetLang: t}
	return out, true
}

// BroadcastTTS is the tts.BroadcastFunc bound to this Hub: audio (or a
// text-only item, if synthesis failed) goes only to listeners with
// wantsAudio set for the matching language.
func (h *Hub) BroadcastTTS(roomID, lang string, item tts.Item) {
	r := h.room(roomID)

	r.mu.Lock()
	listeners := make([]*Listener, 0)
	for _, l := range r.listeners {
		if l.WantsAudio && l.TargetLang == lang {
			listeners = append(listeners, l)
		}
	}
	r.mu.Unlock()

	payload := protocol.TTSPayload{
		UnitID: item.UnitID,
		Lang:   item.Lang,
		Format: item.Format,
		Bytes:  item.Audio,
	}

	var toDrop []string
	for _, l := range listeners {
		if !h.deliver(l, protocol.TypeTTS, payload) {
			toDrop = append(toDrop, l.ID)
		}
	}

	if h.metrics != nil {
		h.metrics.RoomBroadcastTotal.WithLabelValues(roomID, "tts").Inc()
	}

	for _, id := range toDrop {
		h.dropListener(roomID, id)
	}
}

// ListenerCount is the tts.ListenerCountFunc bound to this Hub.
func (h *Hub) ListenerCount(roomID, lang string) int {
	r := h.room(roomID)

	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, l := range r.listeners {
		if l.WantsAudio && l.TargetLang == lang {
			count++
		}
	}
	return count
}

func (h *Hub) sendSnapshot(roomID string, l *Listener) {
	lang := l.TargetLang
	if l.Role == RoleSpeaker {
		lang = ""
	}

	segs := h.processor.Snapshot(roomID, lang)
	h.deliver(l, protocol.TypeSnapshot, segs)

	if h.metrics != nil {
		h.metrics.RoomBroadcastTotal.WithLabelValues(roomID, "snapshot").Inc()
	}
}

// deliver encodes payload into l's envelope and enqueues it, returning
// false if the listener's outbound queue is full (backpressure).
func (h *Hub) deliver(l *Listener, typ protocol.EnvelopeType, payload interface{}) bool {
	env := protocol.Envelope{Type: typ, Seq: l.nextSeq(), Payload: payload}
	data, err := marshalEnvelope(env)
	if err != nil {
		h.logger.Error().Err(err).Str("listener_id", l.ID).Msg("failed to encode envelope")
		return true
	}
	return l.enqueue(data)
}

func (h *Hub) dropListener(roomID, id string) {
	h.Detach(roomID, id)
	if h.metrics != nil {
		h.metrics.RoomListenerDropped.WithLabelValues(roomID).Inc()
	}
	h.logger.Warn().Str("room_id", roomID).Str("listener_id", id).Msg("listener dropped for backpressure")
}
