// Package tts implements the TTS Queue: a per-(room, lang) FIFO that
// synthesizes translated segment text into audio, throttling itself
// under backlog the way the teacher's OpenAI-compatible TTS client was
// already shaped to support.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Profile selects the synthesis rate: normal, or a rate-boosted "fast"
// profile used while a (room, lang) queue is backlogged.
type Profile string

const (
	ProfileNormal Profile = "normal"
	ProfileFast   Profile = "fast"
)

type synthRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// Client is an HTTP client for an OpenAI-compatible `/v1/audio/speech`
// synthesis API, adapted from the teacher's voice.TTSClient to carry a
// Profile-driven speed and a fallback voice for the one-retry rule.
type Client struct {
	http          *http.Client
	providerURL   string
	apiKey        string
	voice         string
	fallbackVoice string
	format        string
	rateBoostPct  int
	logger        zerolog.Logger
}

// Config configures the TTS provider client.
type Config struct {
	ProviderURL      string
	APIKey           string
	Voice            string
	FallbackVoice    string
	Format           string
	RateBoostPct     int
	SynthesisTimeout time.Duration
}

// NewClient builds a TTS provider client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.SynthesisTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	voice := cfg.Voice
	if voice == "" {
		voice = "alloy"
	}
	format := cfg.Format
	if format == "" {
		format = "mp3"
	}

	return &Client{
		http:          &http.Client{Timeout: timeout},
		providerURL:   cfg.ProviderURL,
		apiKey:        cfg.APIKey,
		voice:         voice,
		fallbackVoice: cfg.FallbackVoice,
		format:        format,
		rateBoostPct:  cfg.RateBoostPct,
		logger:        logger.With().Str("component", "tts_client").Logger(),
	}
}

// Synthesize converts text to audio. useFallbackVoice selects the
// fallback voice for the queue's single retry after a first failure.
func (c *Client) Synthesize(ctx context.Context, text string, profile Profile, useFallbackVoice bool) ([]byte, error) {
	voice := c.voice
	if useFallbackVoice && c.fallbackVoice != "" {
		voice = c.fallbackVoice
	}

	speed := 1.0
	if profile == ProfileFast && c.rateBoostPct > 0 {
		speed = 1.0 + float64(c.rateBoostPct)/100.0
	}

	body, err := json.Marshal(synthRequest{
		Model:          "tts-1",
		Input:          text,
		Voice:          voice,
		ResponseFormat: c.format,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.providerURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tts: provider returned status %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read response: %w", err)
	}
	return audio, nil
}

// Format reports the audio container format this client requests.
func (c *Client) Format() string {
	return c.format
}
