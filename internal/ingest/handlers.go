package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/interpretcore/core/pkg/protocol"
)

type submitSegmentRequest struct {
	RoomID  string         `json:"roomId"`
	Targets []string       `json:"targets,omitempty"`
	Patch   protocol.Patch `json:"patch"`
}

type submitSegmentResponse struct {
	OK    bool `json:"ok"`
	Stale bool `json:"stale"`
}

// handleSubmitSegment is the HTTP equivalent of a speaker's WebSocket patch
// message: POST /api/v1/segments.
func (s *Server) handleSubmitSegment(w http.ResponseWriter, r *http.Request) {
	var req submitSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.rejectSchema(w, "", "malformed request body")
		return
	}

	if err := s.validatePatch(req.RoomID, req.Patch, req.Targets); err != nil {
		s.rejectSchema(w, req.RoomID, err.Error())
		return
	}

	if !s.admission.Allow(req.RoomID) {
		if s.metrics != nil {
			s.metrics.IngestRejectedTotal.WithLabelValues(req.RoomID, "mailbox_full").Inc()
		}
		writeError(w, http.StatusServiceUnavailable, "room ingest mailbox is full, retry with backoff")
		return
	}

	result, err := s.processor.Submit(r.Context(), req.RoomID, req.Patch, req.Targets)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process patch")
		return
	}

	if s.metrics != nil {
		s.metrics.IngestPatchesTotal.WithLabelValues(req.RoomID, "http").Inc()
	}

	writeJSON(w, http.StatusOK, submitSegmentResponse{OK: result.Accepted, Stale: result.Stale})
}

func (s *Server) rejectSchema(w http.ResponseWriter, roomID, reason string) {
	if s.metrics != nil {
		s.metrics.IngestRejectedTotal.WithLabelValues(roomID, "schema").Inc()
	}
	writeError(w, http.StatusBadRequest, reason)
}

// runtimeConfig is the GET /api/v1/config response consumed by capture
// clients to learn the tunables that shape how they should throttle and
// batch their own patches.
type runtimeConfig struct {
	SourceLang         string   `json:"sourceLang"`
	AutoDetectLangs    []string `json:"autoDetectLangs"`
	DefaultTargetLangs []string `json:"defaultTargetLangs"`
	SoftThrottleMs     int      `json:"softThrottleMs"`
	SoftMinDeltaChars  int      `json:"softMinDeltaChars"`
	FinalDebounceMs    int      `json:"finalDebounceMs"`
	TTSMaxBacklogSec   int      `json:"ttsMaxBacklogSec"`
	TTSResumeBacklogSec int     `json:"ttsResumeBacklogSec"`
	TTSRateBoostPct    int      `json:"ttsRateBoostPct"`
	WatchdogEventIdleMs int64   `json:"watchdogEventIdleMs"`
	WatchdogPCMIdleMs  int64    `json:"watchdogPcmIdleMs"`
	PatchLRUPerRoom    int      `json:"patchLruPerRoom"`
}

// handleGetConfig returns the runtime tunables a capture client needs.
// GET /api/v1/config
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	room := s.cfg.Room
	tts := s.cfg.TTS

	writeJSON(w, http.StatusOK, runtimeConfig{
		SourceLang:          room.SourceLang,
		AutoDetectLangs:     room.AutoDetectLangs,
		DefaultTargetLangs:  room.DefaultTargetLangs,
		SoftThrottleMs:      room.SoftThrottleMs,
		SoftMinDeltaChars:   room.SoftMinDeltaChars,
		FinalDebounceMs:     room.FinalDebounceMs,
		TTSMaxBacklogSec:    tts.MaxBacklogSec,
		TTSResumeBacklogSec: tts.ResumeBacklogSec,
		TTSRateBoostPct:     tts.RateBoostPct,
		WatchdogEventIdleMs: room.WatchdogEventIdle.Milliseconds(),
		WatchdogPCMIdleMs:   room.WatchdogPCMIdle.Milliseconds(),
		PatchLRUPerRoom:     room.PatchLRUPerRoom,
	})
}

type roomInfo struct {
	Slug               string   `json:"slug"`
	SourceLang         string   `json:"sourceLang"`
	DefaultTargetLangs []string `json:"defaultTargetLangs"`
}

// handleGetRoom returns a room's source-language policy and default
// target languages. GET /api/v1/rooms/{slug}
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := s.validator.ValidateRoomSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, roomInfo{
		Slug:               slug,
		SourceLang:         s.cfg.Room.SourceLang,
		DefaultTargetLangs: s.cfg.Room.DefaultTargetLangs,
	})
}
