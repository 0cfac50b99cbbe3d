// Package protocol defines the shared wire and durable-state types for the
// translation core: self-describing JSON for the envelope exchanged over
// the ingest WebSocket, and compact msgpack for durable-store values,
// since durable records are read back only by this core, never by a
// browser.
package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Stage is the lifecycle stage of a speech unit.
type Stage string

const (
	StageSoft Stage = "soft"
	StageHard Stage = "hard"
)

// EnvelopeType identifies the kind of message framed over the ingest
// WebSocket, in either direction.
type EnvelopeType string

const (
	TypeHello     EnvelopeType = "hello"
	TypeSnapshot  EnvelopeType = "snapshot"
	TypePatch     EnvelopeType = "patch"
	TypeTTS       EnvelopeType = "tts"
	TypeError     EnvelopeType = "error"
	TypeHeartbeat EnvelopeType = "heartbeat"
	TypeLang      EnvelopeType = "lang"
)

// MaxPatchTextBytes is the ingest-validation cap on patch.text.
const MaxPatchTextBytes = 16 * 1024

// MaxVersion is the version rollover boundary; version 2^31 and beyond is
// refused rather than wrapped.
const MaxVersion = 1 << 31

var (
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds max size")
	ErrInvalidEnvelope = errors.New("protocol: invalid envelope")
)

// Patch is the only ingest shape. op is always "replace" and is omitted
// from the struct since no other value is ever accepted.
type Patch struct {
	UnitID   string `json:"unitId" msgpack:"unit_id"`
	Version  uint32 `json:"version" msgpack:"version"`
	Stage    Stage  `json:"stage" msgpack:"stage"`
	Text     string `json:"text" msgpack:"text"`
	SrcLang  string `json:"srcLang,omitempty" msgpack:"src_lang,omitempty"`
	TS       *int64 `json:"ts,omitempty" msgpack:"ts,omitempty"`
	TTSFinal bool   `json:"ttsFinal,omitempty" msgpack:"tts_final,omitempty"`
}

// Translation is one target-language rendering of a segment's source text.
type Translation struct {
	Text          string `json:"text" msgpack:"text"`
	TransSentLen  []int  `json:"transSentLen" msgpack:"trans_sent_len"`
}

// Segment is a stabilized, optionally translated unit ready to broadcast.
// Translations is nil/empty on a source-only emission.
type Segment struct {
	UnitID       string                 `json:"unitId" msgpack:"unit_id"`
	Version      uint32                 `json:"version" msgpack:"version"`
	Stage        Stage                  `json:"stage" msgpack:"stage"`
	SrcLang      string                 `json:"srcLang" msgpack:"src_lang"`
	SrcText      string                 `json:"srcText" msgpack:"src_text"`
	SrcSentLen   []int                  `json:"srcSentLen" msgpack:"src_sent_len"`
	Translations map[string]Translation `json:"translations,omitempty" msgpack:"translations,omitempty"`
	TS           int64                  `json:"ts" msgpack:"ts"`
	TTSFinal     bool                   `json:"ttsFinal,omitempty" msgpack:"tts_final,omitempty"`
}

// TTSPayload is the `tts` envelope payload: synthesized audio for one
// (unitId, lang). Bytes is base64-encoded JSON text or raw binary frame
// bytes depending on transport.
type TTSPayload struct {
	UnitID string `json:"unitId" msgpack:"unit_id"`
	Lang   string `json:"lang" msgpack:"lang"`
	Format string `json:"format" msgpack:"format"`
	Bytes  []byte `json:"bytes,omitempty" msgpack:"bytes,omitempty"`
}

// HeartbeatPayload is the speaker's PCM-heartbeat tick, used by the Room
// Hub watchdog.
type HeartbeatPayload struct {
	PCM bool `json:"pcm" msgpack:"pcm"`
}

// LangPayload is a listener's change-language request.
type LangPayload struct {
	TargetLang string `json:"targetLang" msgpack:"target_lang"`
	WantsAudio bool   `json:"wantsAudio" msgpack:"wants_audio"`
}

// Envelope is the server<->client WebSocket frame.
type Envelope struct {
	Type    EnvelopeType `json:"type"`
	Seq     uint64       `json:"seq,omitempty"`
	Payload interface{}  `json:"payload,omitempty"`
}

// EncodeDurable serializes a value for the state store (msgpack, not JSON:
// durable records are read back only by this core's own Store
// implementations, so the more compact self-describing format wins).
func EncodeDurable(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode durable value: %w", err)
	}
	return b, nil
}

// DecodeDurable deserializes a value previously written by EncodeDurable.
func DecodeDurable(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: decode durable value: %w", err)
	}
	return nil
}
