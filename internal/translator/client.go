// Package translator implements the Translator Client: a hedged,
// circuit-broken, memoizing wrapper around one or two translation
// providers, fanned out per target language and always returning a
// full result set to its caller (degrading to identity text per
// language rather than failing the whole batch).
package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/interpretcore/core/internal/config"
	"github.com/interpretcore/core/internal/observability"
	"github.com/interpretcore/core/internal/segment"
	"github.com/rs/zerolog"
)

type providerRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type providerResponse struct {
	TranslatedText string `json:"translated_text"`
}

type provider struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *breaker
}

func newProvider(name, baseURL, apiKey string, timeout time.Duration, threshold int, cooldown time.Duration) *provider {
	return &provider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: newBreaker(threshold, cooldown),
	}
}

// Client is the Translator Client: it satisfies segment.Translator.
type Client struct {
	cfg       config.TranslationConfig
	primary   *provider
	secondary *provider // nil if not configured
	cache     *Cache
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// New builds a Translator Client from config. SecondaryURL may be empty,
// in which case a failed primary call falls straight through to identity.
func New(cfg config.TranslationConfig, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	log := logger.With().Str("component", "translator_client").Logger()

	c := &Client{
		cfg:     cfg,
		primary: newProvider("primary", cfg.PrimaryURL, cfg.PrimaryAPIKey, cfg.HedgeTimeout, cfg.FailureThreshold, cfg.CircuitCooldown),
		cache:   NewCache(cfg.CacheSize),
		metrics: metrics,
		logger:  log,
	}
	if cfg.SecondaryURL != "" {
		c.secondary = newProvider("secondary", cfg.SecondaryURL, cfg.SecondaryAPIKey, cfg.HedgeTimeout, cfg.FailureThreshold, cfg.CircuitCooldown)
	}
	return c
}

// Translate implements segment.Translator. It never returns an error: a
// target language whose providers all fail comes back as an identity
// rendering of srcText instead of failing the whole batch.
func (c *Client) Translate(ctx context.Context, roomID, srcText, srcLang string, targetLangs []string) ([]segment.TranslationResult, error) {
	if len(targetLangs) == 0 {
		return nil, nil
	}

	normalized := strings.TrimSpace(srcText)

	// srcSentLen is computed from srcText, the same text the Segment
	// Processor splits for protocol.Segment.SrcSentLen, so every
	// TransSentLen this call produces carries exactly len(srcSentLen)
	// entries — the sentence-aligned-subtitles invariant holds for the
	// cardinality even though the provider is a single opaque call per
	// language and may itself merge or split sentences.
	srcSentLen := segment.Split(srcText)

	if cached, ok := c.cache.Get(roomID, normalized, srcLang, targetLangs); ok {
		if c.metrics != nil {
			c.metrics.TranslationCacheHits.WithLabelValues(roomID).Inc()
		}
		return cached, nil
	}

	results := make([]segment.TranslationResult, len(targetLangs))
	degraded := false
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, lang := range targetLangs {
		wg.Add(1)
		go func(i int, lang string) {
			defer wg.Done()

			text, sentLen, err := c.translateOne(ctx, normalized, srcLang, lang, srcSentLen)
			if err != nil {
				mu.Lock()
				degraded = true
				mu.Unlock()
				text = srcText
				sentLen = srcSentLen
			}
			results[i] = segment.TranslationResult{Lang: lang, Text: text, TransSentLen: sentLen}
		}(i, lang)
	}
	wg.Wait()

	if !degraded {
		c.cache.Set(roomID, normalized, srcLang, targetLangs, results)
	}

	return results, nil
}

// translateOne tries the primary provider, then the secondary (if
// configured), each call bounded by the hedge timeout, and reports an error only once every available provider has failed. The
// returned sentence-length slice always has len(srcSentLen) entries,
// regardless of how the provider itself broke the translated text into
// sentences.
func (c *Client) translateOne(ctx context.Context, text, srcLang, targetLang string, srcSentLen []int) (string, []int, error) {
	if translated, err := c.tryProvider(ctx, c.primary, text, srcLang, targetLang); err == nil {
		return translated, alignSentLen(translated, srcSentLen), nil
	}

	if c.secondary != nil {
		if translated, err := c.tryProvider(ctx, c.secondary, text, srcLang, targetLang); err == nil {
			return translated, alignSentLen(translated, srcSentLen), nil
		}
	}

	return "", nil, fmt.Errorf("translator: all providers failed for %s", targetLang)
}

// alignSentLen redistributes translated's rune length across
// len(srcSentLen) spans, proportioned to each source sentence's share of
// the source text, so a provider that merges or splits sentences (an "A.
// B." source rendered as a single "XY." target, say) still reports one
// span per source sentence instead of a mismatched count. The last span
// absorbs any rounding remainder so the spans always sum to the full
// translated length.
func alignSentLen(translated string, srcSentLen []int) []int {
	if len(srcSentLen) == 0 {
		return nil
	}
	total := len([]rune(translated))
	if len(srcSentLen) == 1 {
		return []int{total}
	}

	srcTotal := 0
	for _, l := range srcSentLen {
		srcTotal += l
	}

	out := make([]int, len(srcSentLen))
	if srcTotal == 0 {
		base := total / len(srcSentLen)
		for i := range out {
			out[i] = base
		}
		out[len(out)-1] = total - base*(len(out)-1)
		return out
	}

	assigned := 0
	for i, l := range srcSentLen[:len(srcSentLen)-1] {
		share := total * l / srcTotal
		out[i] = share
		assigned += share
	}
	out[len(out)-1] = total - assigned
	if out[len(out)-1] < 0 {
		out[len(out)-1] = 0
	}
	return out
}

func (c *Client) tryProvider(ctx context.Context, p *provider, text, srcLang, targetLang string) (string, error) {
	if !p.breaker.Allow() {
		return "", fmt.Errorf("translator: %s circuit open", p.name)
	}

	hedgeCtx, cancel := context.WithTimeout(ctx, c.cfg.HedgeTimeout)
	defer cancel()

	translated, err := c.callProvider(hedgeCtx, p, text, srcLang, targetLang)
	if err != nil {
		p.breaker.RecordFailure()
		if c.metrics != nil {
			c.metrics.TranslationRequestsTotal.WithLabelValues(targetLang, "failed").Inc()
			c.metrics.TranslationCircuitOpen.WithLabelValues(p.name).Set(boolToFloat(p.breaker.IsOpen()))
		}
		c.logger.Warn().Err(err).Str("provider", p.name).Str("target_lang", targetLang).Msg("provider call failed")
		return "", err
	}

	p.breaker.RecordSuccess()
	if c.metrics != nil {
		c.metrics.TranslationRequestsTotal.WithLabelValues(targetLang, "success").Inc()
		c.metrics.TranslationCircuitOpen.WithLabelValues(p.name).Set(0)
	}
	return translated, nil
}

func (c *Client) callProvider(ctx context.Context, p *provider, text, srcLang, targetLang string) (string, error) {
	body, err := json.Marshal(providerRequest{Text: text, SourceLang: srcLang, TargetLang: targetLang})
	if err != nil {
		return "", fmt.Errorf("translator: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("translator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("translator: %s request: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("translator: %s returned status %d: %s", p.name, resp.StatusCode, string(errBody))
	}

	var out providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("translator: decode response: %w", err)
	}
	return out.TranslatedText, nil
}

// CloseRoom releases a room's translation memo cache, called on room
// teardown.
func (c *Client) CloseRoom(roomID string) {
	c.cache.CloseRoom(roomID)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
