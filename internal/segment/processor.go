package segment

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/internal/security"
	"github.com/interpretcore/core/internal/store"
	"github.com/interpretcore/core/pkg/protocol"
	"github.com/rs/zerolog"
)

// DefaultFinalDebounce is the default hold time after a hard patch before
// it is translated and broadcast, letting trailing corrections coalesce.
const DefaultFinalDebounce = 180 * time.Millisecond

// DefaultMinSentencesForTTS is the default number of complete sentences a
// hard segment's source text must contain before it is enqueued for TTS;
// a ttsFinal segment needs only one, since no further text is coming for
// that unit.
const DefaultMinSentencesForTTS = 2

// continuationRepairThreshold is the minimum normalized common-prefix
// ratio at which a non-continuing patch is still treated as a correction
// of the prior text rather than an unrelated replacement.
const continuationRepairThreshold = 0.8

// TranslationResult is one target-language rendering returned by a
// Translator call.
type TranslationResult struct {
	Lang         string
	Text         string
	TransSentLen []int
}

// Translator is the Segment Processor's view of the Translator Client: a
// single batched call per accepted unit, covering every requested target
// language.
type Translator interface {
	Translate(ctx context.Context, roomID, srcText, srcLang string, targetLangs []string) ([]TranslationResult, error)
}

// Config tunes the Segment Processor's merge and emission behavior.
type Config struct {
	FinalDebounce      time.Duration
	RetainedHards      int
	MinSentencesForTTS int
}

// WithDefaults fills zero-valued fields with the processor's defaults.
func (c Config) WithDefaults() Config {
	if c.FinalDebounce <= 0 {
		c.FinalDebounce = DefaultFinalDebounce
	}
	if c.RetainedHards <= 0 {
		c.RetainedHards = 512
	}
	if c.MinSentencesForTTS <= 0 {
		c.MinSentencesForTTS = DefaultMinSentencesForTTS
	}
	return c
}

// EmitFunc is called once per emitted segment (soft or hard), bound for
// the Room Hub's broadcast routing.
type EmitFunc func(roomID string, seg protocol.Segment)

// EnqueueTTSFunc is called for hard, ttsFinal segments, once per target
// language, bound for the TTS Queue.
type EnqueueTTSFunc func(roomID string, seg protocol.Segment, lang string)

// SubmitResult is the outcome of a single Submit call.
type SubmitResult struct {
	Accepted bool
	Stale    bool
	Segment  *protocol.Segment // nil while a hard segment is still held for debounce
}

type unitRecord struct {
	unitID   string
	version  uint32
	stage    protocol.Stage
	text     string
	srcLang  string
	ts       int64
	ttsFinal bool
}

type pendingHard struct {
	timer       *time.Timer
	targetLangs []string
	startedAt   time.Time
	rec         unitRecord // snapshot at the time debounce was (re)started
}

type roomState struct {
	mu        sync.Mutex
	units     map[string]*unitRecord
	hardOrder *list.List // protocol.Segment, oldest -> newest
	hardIndex map[string]*list.Element
	softHeads map[string]protocol.Segment
	softOrder *list.List // unitID strings, oldest -> newest
	softIndex map[string]*list.Element
	pending   map[string]*pendingHard
}

func newRoomState() *roomState {
	return &roomState{
		units:     make(map[string]*unitRecord),
		hardOrder: list.New(),
		hardIndex: make(map[string]*list.Element),
		softHeads: make(map[string]protocol.Segment),
		softOrder: list.New(),
		softIndex: make(map[string]*list.Element),
		pending:   make(map[string]*pendingHard),
	}
}

// Processor is the Segment Processor: one instance serves every room,
// with per-room state isolated behind roomState's own mutex.
type Processor struct {
	mu         sync.Mutex
	rooms      map[string]*roomState
	translator Translator
	store      store.Store // optional; nil disables durability
	emit       EmitFunc
	enqueueTTS EnqueueTTSFunc
	cfg        Config
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewProcessor builds a Segment Processor. store may be nil to disable
// durable persistence (in-memory-only operation beyond room lifetime).
// Complexity: O(1)
func NewProcessor(cfg Config, translator Translator, st store.Store, metrics *observability.Metrics, logger zerolog.Logger, emit EmitFunc, enqueueTTS EnqueueTTSFunc) *Processor {
	return &Processor{
		rooms:      make(map[string]*roomState),
		translator: translator,
		store:      st,
		emit:       emit,
		enqueueTTS: enqueueTTS,
		cfg:        cfg.WithDefaults(),
		metrics:    metrics,
		logger:     logger.With().Str("component", "segment_processor").Logger(),
	}
}

func (p *Processor) room(roomID string) *roomState {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.rooms[roomID]
	if !ok {
		r = newRoomState()
		p.rooms[roomID] = r
	}
	return r
}

// CloseRoom releases a room's in-memory state, called on teardown after
// any final snapshot write to the store.
// Complexity: O(1)
func (p *Processor) CloseRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.rooms[roomID]; ok {
		r.mu.Lock()
		for _, pend := range r.pending {
			pend.timer.Stop()
		}
		r.mu.Unlock()
	}
	delete(p.rooms, roomID)
}

// Submit accepts a patch for roomID. A hard patch is held for
// FinalDebounce before it is translated and emitted; Segment is nil in
// that case since the patch was accepted but not yet finalized.
// Complexity: O(1) amortized, plus a translator call on emission
func (p *Processor) Submit(ctx context.Context, roomID string, patch protocol.Patch, targetLangs []string) (SubmitResult, error) {
	normalized := security.SanitizePatchText(patch.Text)

	room := p.room(roomID)
	room.mu.Lock()

	existing, ok := room.units[patch.UnitID]
	hardUpgrade := ok && patch.Stage == protocol.StageHard && existing.stage == protocol.StageSoft

	if ok && existing.version >= patch.Version && !hardUpgrade {
		room.mu.Unlock()
		if p.metrics != nil {
			p.metrics.IngestStaleTotal.WithLabelValues(roomID).Inc()
		}
		return SubmitResult{Accepted: false, Stale: true}, nil
	}

	newVersion := patch.Version
	if hardUpgrade && existing.version > newVersion {
		newVersion = existing.version
	}

	mergedText := normalized
	if ok {
		mergedText, _ = repairContinuation(existing.text, normalized)
	}

	srcLang := patch.SrcLang
	if srcLang == "" && ok {
		srcLang = existing.srcLang
	}

	ts := time.Now().UnixMilli()
	if patch.TS != nil {
		ts = *patch.TS
	}

	rec := &unitRecord{
		unitID:   patch.UnitID,
		version:  newVersion,
		stage:    patch.Stage,
		text:     mergedText,
		srcLang:  srcLang,
		ts:       ts,
		ttsFinal: patch.TTSFinal,
	}
	room.units[patch.UnitID] = rec

	pend, hasPending := room.pending[patch.UnitID]

	if patch.Stage == protocol.StageSoft {
		if hasPending {
			pend.timer.Stop()
			delete(room.pending, patch.UnitID)
			room.mu.Unlock()
			p.finalizeHard(ctx, roomID, patch.UnitID, pend)
			room.mu.Lock()
		}

		seg := p.buildSource(rec)
		room.mu.Unlock()

		seg = p.translate(ctx, roomID, seg, rec.srcLang, targetLangs)

		room.mu.Lock()
		p.recordSoftHead(room, seg)
		room.mu.Unlock()

		if p.store != nil {
			_ = p.store.SaveSoftHead(ctx, roomID, seg)
		}
		if p.metrics != nil {
			p.metrics.SegmentsEmittedTotal.WithLabelValues(roomID, "soft").Inc()
		}
		p.emit(roomID, seg)

		return SubmitResult{Accepted: true, Segment: &seg}, nil
	}

	// Hard patch: (re)start the final debounce instead of emitting now.
	// The pending entry snapshots rec so a later, higher-version patch for
	// the same unit (soft or hard) can safely overwrite room.units without
	// disturbing what this debounce window will flush.
	if hasPending {
		pend.timer.Stop()
		pend.targetLangs = targetLangs
		pend.rec = *rec
	} else {
		pend = &pendingHard{targetLangs: targetLangs, startedAt: time.Now(), rec: *rec}
		room.pending[patch.UnitID] = pend
	}
	unitID := patch.UnitID
	pend.timer = time.AfterFunc(p.cfg.FinalDebounce, func() {
		p.onDebounceFire(roomID, unitID)
	})
	room.mu.Unlock()

	return SubmitResult{Accepted: true}, nil
}

func (p *Processor) onDebounceFire(roomID, unitID string) {
	room := p.room(roomID)
	room.mu.Lock()
	pend, ok := room.pending[unitID]
	if !ok {
		room.mu.Unlock()
		return
	}
	delete(room.pending, unitID)
	room.mu.Unlock()

	p.finalizeHard(context.Background(), roomID, unitID, pend)
}

// finalizeHard translates and emits a hard segment after its debounce
// window elapsed (or was cut short by a conflicting soft patch). It works
// from pend's own snapshot, not room.units, since a later patch for the
// same unit may already have overwritten that by the time this runs.
func (p *Processor) finalizeHard(ctx context.Context, roomID, unitID string, pend *pendingHard) {
	room := p.room(roomID)

	seg := p.buildSource(&pend.rec)
	seg = p.translate(ctx, roomID, seg, pend.rec.srcLang, pend.targetLangs)

	room.mu.Lock()
	p.recordHardSegment(room, seg)
	room.mu.Unlock()

	if p.store != nil {
		_ = p.store.SaveHardSegment(ctx, roomID, seg)
		_ = p.store.ClearSoftHead(ctx, roomID, unitID)
	}
	if p.metrics != nil {
		p.metrics.SegmentsEmittedTotal.WithLabelValues(roomID, "hard").Inc()
		p.metrics.SegmentDebounceMs.WithLabelValues(roomID).Observe(float64(time.Since(pend.startedAt).Milliseconds()))
	}

	p.emit(roomID, seg)

	// Only a ttsFinal hard segment ever enqueues; a non-final hard segment
	// is broadcast but never queued for TTS; meetsTTSThreshold then applies
	// the minimum-sentence-length rule within that one allowed case.
	if seg.TTSFinal && p.enqueueTTS != nil && p.meetsTTSThreshold(seg) {
		for _, lang := range pend.targetLangs {
			p.enqueueTTS(roomID, seg, lang)
		}
	}
}

// meetsTTSThreshold reports whether a segment has accumulated enough
// complete sentences to enqueue for TTS: MinSentencesForTTS normally, or
// just one once the segment is ttsFinal, since no further text for that
// unit is coming. In this processor a non-ttsFinal hard segment is never
// offered to enqueueTTS at all, so in practice only the relaxed,
// one-sentence threshold is ever exercised here; it still guards against
// enqueueing a ttsFinal segment whose text carries no complete sentence
// at all (e.g. a trailing fragment with no terminal punctuation).
func (p *Processor) meetsTTSThreshold(seg protocol.Segment) bool {
	threshold := p.cfg.MinSentencesForTTS
	if seg.TTSFinal {
		threshold = 1
	}
	return Count(seg.SrcText) >= threshold
}

func (p *Processor) buildSource(rec *unitRecord) protocol.Segment {
	return protocol.Segment{
		UnitID:     rec.unitID,
		Version:    rec.version,
		Stage:      rec.stage,
		SrcLang:    rec.srcLang,
		SrcText:    rec.text,
		SrcSentLen: Split(rec.text),
		TS:         rec.ts,
		TTSFinal:   rec.ttsFinal,
	}
}

func (p *Processor) translate(ctx context.Context, roomID string, seg protocol.Segment, srcLang string, targetLangs []string) protocol.Segment {
	if len(targetLangs) == 0 || p.translator == nil {
		return seg
	}

	start := time.Now()
	results, err := p.translator.Translate(ctx, roomID, seg.SrcText, srcLang, targetLangs)
	elapsed := time.Since(start)

	if p.metrics != nil {
		for _, lang := range targetLangs {
			p.metrics.TranslationLatencyMs.WithLabelValues(lang).Observe(float64(elapsed.Milliseconds()))
		}
	}

	if err != nil {
		p.logger.Warn().Err(err).Str("room_id", roomID).Str("unit_id", seg.UnitID).Msg("translation failed, using identity fallback")
		seg.Translations = identityFallback(seg, targetLangs)
		if p.metrics != nil {
			for _, lang := range targetLangs {
				p.metrics.TranslationFailedTotal.WithLabelValues(lang).Inc()
			}
		}
		return seg
	}

	translations := make(map[string]protocol.Translation, len(results))
	for _, r := range results {
		translations[r.Lang] = protocol.Translation{Text: r.Text, TransSentLen: r.TransSentLen}
	}
	seg.Translations = translations
	return seg
}

func identityFallback(seg protocol.Segment, targetLangs []string) map[string]protocol.Translation {
	m := make(map[string]protocol.Translation, len(targetLangs))
	for _, lang := range targetLangs {
		m[lang] = protocol.Translation{Text: seg.SrcText, TransSentLen: seg.SrcSentLen}
	}
	return m
}

// recordSoftHead must be called with room.mu held.
func (p *Processor) recordSoftHead(room *roomState, seg protocol.Segment) {
	room.softHeads[seg.UnitID] = seg
	if el, exists := room.softIndex[seg.UnitID]; exists {
		room.softOrder.MoveToBack(el)
		return
	}
	room.softIndex[seg.UnitID] = room.softOrder.PushBack(seg.UnitID)
}

// recordHardSegment must be called with room.mu held.
func (p *Processor) recordHardSegment(room *roomState, seg protocol.Segment) {
	delete(room.softHeads, seg.UnitID)
	if el, exists := room.softIndex[seg.UnitID]; exists {
		room.softOrder.Remove(el)
		delete(room.softIndex, seg.UnitID)
	}

	if el, exists := room.hardIndex[seg.UnitID]; exists {
		el.Value = seg
		room.hardOrder.MoveToBack(el)
		return
	}

	el := room.hardOrder.PushBack(seg)
	room.hardIndex[seg.UnitID] = el

	for room.hardOrder.Len() > p.cfg.RetainedHards {
		oldest := room.hardOrder.Front()
		if oldest == nil {
			break
		}
		oldSeg := oldest.Value.(protocol.Segment)
		delete(room.hardIndex, oldSeg.UnitID)
		room.hardOrder.Remove(oldest)
	}
}

// Snapshot returns every retained hard segment plus the current soft head
// of each still-open unit, in arrival order, projected to a single target
// language (pass "" for the unprojected, all-languages view).
// Complexity: O(n) where n is the number of retained hard segments
func (p *Processor) Snapshot(roomID, lang string) []protocol.Segment {
	room := p.room(roomID)
	room.mu.Lock()
	defer room.mu.Unlock()

	var out []protocol.Segment
	for el := room.hardOrder.Front(); el != nil; el = el.Next() {
		out = append(out, projectLang(el.Value.(protocol.Segment), lang))
	}
	for el := room.softOrder.Front(); el != nil; el = el.Next() {
		unitID := el.Value.(string)
		if seg, ok := room.softHeads[unitID]; ok {
			out = append(out, projectLang(seg, lang))
		}
	}
	return out
}

func projectLang(seg protocol.Segment, lang string) protocol.Segment {
	out := protocol.Segment{
		UnitID:     seg.UnitID,
		Version:    seg.Version,
		Stage:      seg.Stage,
		SrcLang:    seg.SrcLang,
		SrcText:    seg.SrcText,
		SrcSentLen: seg.SrcSentLen,
		TS:         seg.TS,
		TTSFinal:   seg.TTSFinal,
	}
	if lang == "" {
		out.Translations = seg.Translations
		return out
	}
	if t, ok := seg.Translations[lang]; ok {
		out.Translations = map[string]protocol.Translation{lang: t}
	}
	return out
}

// repairContinuation classifies how next relates to prior and returns the
// text to store: a direct continuation if next starts with prior verbatim,
// a splice if they share a long common prefix before diverging (a
// mid-sentence correction), or an outright replacement otherwise. The
// returned text is always next; the bool only distinguishes splice from
// direct-continuation/replace for logging and metrics.
func repairContinuation(prior, next string) (string, bool) {
	if prior == "" || strings.HasPrefix(next, prior) {
		return next, false
	}

	priorRunes := []rune(prior)
	nextRunes := []rune(next)

	n := len(priorRunes)
	if len(nextRunes) < n {
		n = len(nextRunes)
	}

	common := 0
	for common < n && priorRunes[common] == nextRunes[common] {
		common++
	}

	ratio := float64(common) / float64(len(priorRunes))
	if ratio < continuationRepairThreshold {
		return next, false
	}

	return string(priorRunes[:common]) + string(nextRunes[common:]), true
}
