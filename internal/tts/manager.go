package tts

import (
	"context"
	"sync"
	"time"

	"github.com/interpretcore/core/internal/config"
	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/pkg/protocol"
	"github.com/rs/zerolog"
)

// BroadcastFunc delivers one synthesized (or text-only) item to a room's
// listeners for lang, bound for the Room Hub.
type BroadcastFunc func(roomID, lang string, item Item)

// ListenerCountFunc reports how many connected listeners currently want
// lang in roomID, checked at synthesis start to skip wasted provider
// calls for an empty audience.
type ListenerCountFunc func(roomID, lang string) int

// Manager owns every (room, lang) queue and its background worker.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*roomLangQueue
	cancels map[string]context.CancelFunc
	wakes   map[string]chan struct{}

	client        *Client
	cfg           config.TTSConfig
	listenerCount ListenerCountFunc
	broadcast     BroadcastFunc
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// NewManager builds a TTS Queue manager.
func NewManager(cfg config.TTSConfig, client *Client, metrics *observability.Metrics, logger zerolog.Logger, listenerCount ListenerCountFunc, broadcast BroadcastFunc) *Manager {
	if cfg.MaxBacklogSec <= 0 {
		cfg.MaxBacklogSec = 8
	}
	if cfg.ResumeBacklogSec <= 0 {
		cfg.ResumeBacklogSec = 4
	}

	return &Manager{
		queues:        make(map[string]*roomLangQueue),
		cancels:       make(map[string]context.CancelFunc),
		wakes:         make(map[string]chan struct{}),
		client:        client,
		cfg:           cfg,
		listenerCount: listenerCount,
		broadcast:     broadcast,
		metrics:       metrics,
		logger:        logger.With().Str("component", "tts_manager").Logger(),
	}
}

func queueKey(roomID, lang string) string {
	return roomID + "|" + lang
}

// Enqueue adds seg's translation for lang to roomID's queue, starting
// that queue's worker on first use. Duplicate unitIds are dropped
// silently (idempotent).
func (m *Manager) Enqueue(roomID string, seg protocol.Segment, lang string) {
	text := seg.SrcText
	if t, ok := seg.Translations[lang]; ok {
		text = t.Text
	}

	item := &Item{
		UnitID:        seg.UnitID,
		Lang:          lang,
		Text:          text,
		Format:        m.client.Format(),
		EstDurationMs: estDurationMs(text),
		State:         StateQueued,
	}

	key := queueKey(roomID, lang)
	q, wake := m.queueFor(roomID, lang, key)

	if !q.enqueue(item) {
		return
	}
	if m.metrics != nil {
		m.metrics.TTSEnqueuedTotal.WithLabelValues(roomID, lang).Inc()
		m.metrics.TTSBacklogSeconds.WithLabelValues(roomID, lang).Set(float64(q.backlogMs()) / 1000)
	}

	select {
	case wake <- struct{}{}:
	default:
	}
}

func (m *Manager) queueFor(roomID, lang, key string) (*roomLangQueue, chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[key]; ok {
		return q, m.wakes[key]
	}

	q := newRoomLangQueue()
	wake := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	m.queues[key] = q
	m.wakes[key] = wake
	m.cancels[key] = cancel

	go m.run(ctx, roomID, lang, q, wake)

	return q, wake
}

// run is the background synthesis worker for one (room, lang) queue.
// Broadcast happens in its own goroutine so the next item's synthesis
// (the lookahead=1 pre-synthesis) can start as soon as the current
// item's provider call returns, rather than waiting for delivery.
func (m *Manager) run(ctx context.Context, roomID, lang string, q *roomLangQueue, wake <-chan struct{}) {
	idle := time.NewTicker(2 * time.Second)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-idle.C:
		}

		for {
			item := q.nextQueued()
			if item == nil {
				break
			}
			m.synthesizeOne(ctx, roomID, lang, q, item)
		}
	}
}

func (m *Manager) synthesizeOne(ctx context.Context, roomID, lang string, q *roomLangQueue, item *Item) {
	if m.listenerCount != nil && m.listenerCount(roomID, lang) == 0 {
		q.setState(item.UnitID, StateDone)
		return
	}

	q.setState(item.UnitID, StateSynthesizing)

	profile := ProfileNormal
	fast := q.backlogMs() > m.cfg.MaxBacklogSec*1000
	if q.isFastActive() && q.backlogMs() > m.cfg.ResumeBacklogSec*1000 {
		fast = true
	}
	q.setFastActive(fast)
	if fast {
		profile = ProfileFast
	}
	if m.metrics != nil {
		m.metrics.TTSFastProfileActive.WithLabelValues(roomID, lang).Set(boolToFloat(fast))
	}

	audio, err := m.client.Synthesize(ctx, item.Text, profile, false)
	if err != nil {
		m.logger.Warn().Err(err).Str("room_id", roomID).Str("unit_id", item.UnitID).Msg("synthesis failed, retrying with fallback voice")
		audio, err = m.client.Synthesize(ctx, item.Text, profile, true)
	}

	finished, ok := q.finish(item.UnitID, audio, err == nil)
	if !ok {
		return // dropped (room closed) while synthesis was in flight
	}

	if err != nil {
		m.logger.Warn().Err(err).Str("room_id", roomID).Str("unit_id", item.UnitID).Msg("synthesis failed twice, delivering text only")
		if m.metrics != nil {
			m.metrics.TTSFailedTotal.WithLabelValues(roomID, lang).Inc()
		}
	} else if m.metrics != nil {
		m.metrics.TTSSynthesizedTotal.WithLabelValues(roomID, lang, string(profile)).Inc()
	}

	if m.broadcast != nil {
		go func() {
			m.broadcast(roomID, lang, finished)
			q.setState(item.UnitID, StateDone)
		}()
	} else {
		q.setState(item.UnitID, StateDone)
	}

	if m.metrics != nil {
		m.metrics.TTSBacklogSeconds.WithLabelValues(roomID, lang).Set(float64(q.backlogMs()) / 1000)
	}
}

// CloseRoom drops every pending item across roomID's language queues and
// stops their workers.
func (m *Manager) CloseRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := roomID + "|"
	for key, q := range m.queues {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		q.dropAll()
		if cancel, ok := m.cancels[key]; ok {
			cancel()
		}
		delete(m.queues, key)
		delete(m.cancels, key)
		delete(m.wakes, key)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
