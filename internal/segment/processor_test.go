package segment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMetrics     *observability.Metrics
	testMetricsOnce sync.Once
)

func getTestMetrics() *observability.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = observability.NewMetrics()
	})
	return testMetrics
}

var errProviderUnavailable = errors.New("provider unavailable")

type fakeTranslator struct {
	fail bool
}

func (f *fakeTranslator) Translate(ctx context.Context, roomID, srcText, srcLang string, targetLangs []string) ([]TranslationResult, error) {
	if f.fail {
		return nil, errProviderUnavailable
	}
	out := make([]TranslationResult, len(targetLangs))
	for i, lang := range targetLangs {
		out[i] = TranslationResult{Lang: lang, Text: "[" + lang + "] " + srcText, TransSentLen: Split(srcText)}
	}
	return out, nil
}

func newTestProcessor(t *testing.T, translator Translator, debounce time.Duration) (*Processor, chan protocol.Segment, chan ttsCall) {
	t.Helper()
	emitted := make(chan protocol.Segment, 16)
	ttsCalls := make(chan ttsCall, 16)

	p := NewProcessor(
		Config{FinalDebounce: debounce},
		translator,
		nil,
		getTestMetrics(),
		zerolog.Nop(),
		func(roomID string, seg protocol.Segment) { emitted <- seg },
		func(roomID string, seg protocol.Segment, lang string) { ttsCalls <- ttsCall{roomID, seg, lang} },
	)
	return p, emitted, ttsCalls
}

type ttsCall struct {
	roomID string
	seg    protocol.Segment
	lang   string
}

func TestProcessor_SoftPatchEmitsImmediately(t *testing.T) {
	p, emitted, _ := newTestProcessor(t, &fakeTranslator{}, 50*time.Millisecond)

	res, err := p.Submit(context.Background(), "room-1", protocol.Patch{
		UnitID: "s1|en-US|0", Version: 1, Stage: protocol.StageSoft, Text: "hello",
	}, []string{"fr-FR"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.NotNil(t, res.Segment)
	assert.Equal(t, "hello", res.Segment.SrcText)
	assert.Equal(t, "[fr-FR] hello", res.Segment.Translations["fr-FR"].Text)

	select {
	case seg := <-emitted:
		assert.Equal(t, protocol.StageSoft, seg.Stage)
	case <-time.After(time.Second):
		t.Fatal("expected immediate soft emission")
	}
}

func TestProcessor_StalePatchRejected(t *testing.T) {
	p, _, _ := newTestProcessor(t, &fakeTranslator{}, 20*time.Millisecond)
	ctx := context.Background()

	_, err := p.Submit(ctx, "room-1", protocol.Patch{UnitID: "s1|en-US|0", Version: 5, Stage: protocol.StageSoft, Text: "hello"}, nil)
	require.NoError(t, err)

	res, err := p.Submit(ctx, "room-1", protocol.Patch{UnitID: "s1|en-US|0", Version: 5, Stage: protocol.StageSoft, Text: "hello again"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.Stale)
}

func TestProcessor_HardPatchDebouncesThenEmits(t *testing.T) {
	p, emitted, ttsCalls := newTestProcessor(t, &fakeTranslator{}, 30*time.Millisecond)
	ctx := context.Background()

	res, err := p.Submit(ctx, "room-1", protocol.Patch{
		UnitID: "s1|en-US|0", Version: 1, Stage: protocol.StageHard, Text: "hello world.", TTSFinal: true,
	}, []string{"fr-FR"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Nil(t, res.Segment, "hard segment is held for debounce, not returned synchronously")

	select {
	case seg := <-emitted:
		assert.Equal(t, protocol.StageHard, seg.Stage)
		assert.Equal(t, "hello world.", seg.SrcText)
	case <-time.After(time.Second):
		t.Fatal("expected debounced hard emission")
	}

	select {
	case call := <-ttsCalls:
		assert.Equal(t, "fr-FR", call.lang)
	case <-time.After(time.Second):
		t.Fatal("expected tts enqueue for ttsFinal hard segment")
	}
}

func TestProcessor_NonFinalHardSegmentNeverEnqueuesTTS(t *testing.T) {
	p, emitted, ttsCalls := newTestProcessor(t, &fakeTranslator{}, 20*time.Millisecond)
	ctx := context.Background()

	_, err := p.Submit(ctx, "room-1", protocol.Patch{
		UnitID: "s1|en-US|0", Version: 1, Stage: protocol.StageHard, Text: "hello there. hello world.",
	}, []string{"fr-FR"})
	require.NoError(t, err)

	<-emitted // hard segment still broadcasts, TTSFinal is false

	select {
	case call := <-ttsCalls:
		t.Fatalf("expected no tts enqueue for a non-ttsFinal hard segment, got %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProcessor_TTSFinalWithoutCompleteSentenceSkipsTTS(t *testing.T) {
	p, emitted, ttsCalls := newTestProcessor(t, &fakeTranslator{}, 20*time.Millisecond)
	ctx := context.Background()

	_, err := p.Submit(ctx, "room-1", protocol.Patch{
		UnitID: "s1|en-US|0", Version: 1, Stage: protocol.StageHard, Text: "uh", TTSFinal: true,
	}, []string{"fr-FR"})
	require.NoError(t, err)

	<-emitted

	select {
	case call := <-ttsCalls:
		t.Fatalf("expected no tts enqueue for ttsFinal text with zero complete sentences, got %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProcessor_SoftCancelsPendingHardDebounce(t *testing.T) {
	p, emitted, _ := newTestProcessor(t, &fakeTranslator{}, 500*time.Millisecond)
	ctx := context.Background()

	_, err := p.Submit(ctx, "room-1", protocol.Patch{
		UnitID: "s1|en-US|0", Version: 1, Stage: protocol.StageHard, Text: "hello world.",
	}, nil)
	require.NoError(t, err)

	_, err = p.Submit(ctx, "room-1", protocol.Patch{
		UnitID: "s1|en-US|0", Version: 2, Stage: protocol.StageSoft, Text: "hello again",
	}, nil)
	require.NoError(t, err)

	var stages []protocol.Stage
	for i := 0; i < 2; i++ {
		select {
		case seg := <-emitted:
			stages = append(stages, seg.Stage)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 emissions, got %d", i)
		}
	}
	assert.ElementsMatch(t, []protocol.Stage{protocol.StageHard, protocol.StageSoft}, stages)
}

func TestProcessor_TranslationFailureFallsBackToIdentity(t *testing.T) {
	p, emitted, _ := newTestProcessor(t, &fakeTranslator{fail: true}, 20*time.Millisecond)
	ctx := context.Background()

	res, err := p.Submit(ctx, "room-1", protocol.Patch{
		UnitID: "s1|en-US|0", Version: 1, Stage: protocol.StageSoft, Text: "hello",
	}, []string{"de-DE"})
	require.NoError(t, err)
	require.NotNil(t, res.Segment)
	assert.Equal(t, "hello", res.Segment.Translations["de-DE"].Text)

	<-emitted
}

func TestProcessor_SnapshotReturnsHardThenOpenSoft(t *testing.T) {
	p, emitted, _ := newTestProcessor(t, &fakeTranslator{}, 20*time.Millisecond)
	ctx := context.Background()

	_, err := p.Submit(ctx, "room-1", protocol.Patch{
		UnitID: "s1|en-US|0", Version: 1, Stage: protocol.StageHard, Text: "done.",
	}, nil)
	require.NoError(t, err)
	<-emitted

	_, err = p.Submit(ctx, "room-1", protocol.Patch{
		UnitID: "s1|en-US|1", Version: 1, Stage: protocol.StageSoft, Text: "still talking",
	}, nil)
	require.NoError(t, err)

	snap := p.Snapshot("room-1", "")
	require.Len(t, snap, 2)
	assert.Equal(t, "s1|en-US|0", snap[0].UnitID)
	assert.Equal(t, "s1|en-US|1", snap[1].UnitID)
}
