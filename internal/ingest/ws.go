package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/interpretcore/core/internal/room"
	"github.com/interpretcore/core/pkg/protocol"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 30 * time.Second
	wsPingPeriod     = 15 * time.Second
	wsMaxMessageSize = 64 * 1024
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWriter serializes every write onto one websocket connection — data
// frames handed to it by the Room Hub's listener write pump, and the
// keepalive pings driven by its own ticker — behind a single mutex, the
// same discipline the teacher's peerConn write pump uses.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *wsWriter) runPingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// clientEnvelope is the client->server WebSocket frame shape for every
// message except a speaker's raw patch, which arrives as bare Patch JSON
// (no type wrapper) and is distinguished by the absence of a "type" field.
type clientEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handleWS upgrades to a WebSocket and attaches the connection to the Room
// Hub as a speaker or listener, per query parameters room, role, lang, tts.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("room")
	roleParam := q.Get("role")
	lang := q.Get("lang")
	wantsAudio := q.Get("tts") == "1"

	if err := s.validator.ValidateRoomSlug(roomID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var role room.Role
	switch roleParam {
	case "speaker":
		role = room.RoleSpeaker
	case "listener":
		role = room.RoleListener
		if err := s.validator.ValidateBCP47(lang); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("lang: %s", err))
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "role must be speaker or listener")
		return
	}

	if s.jwt != nil {
		claims, err := s.jwt.ValidateToken(q.Get("token"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired room access token")
			return
		}
		if claims.RoomID != roomID || string(claims.Role) != roleParam {
			writeError(w, http.StatusForbidden, "token is not scoped to this room and role")
			return
		}
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writer := &wsWriter{conn: conn}
	stopPing := make(chan struct{})
	go writer.runPingLoop(stopPing)
	defer close(stopPing)

	id := uuid.NewString()
	s.hub.Attach(roomID, id, role, lang, wantsAudio, writer.write)
	defer s.hub.Detach(roomID, id)

	if role == room.RoleSpeaker {
		watchdog := s.hub.NewSpeakerSession(roomID, id)
		defer s.hub.EndSpeakerSession(roomID, id)
		s.speakerReadLoop(r.Context(), conn, roomID, watchdog)
	} else {
		s.listenerReadLoop(conn, roomID, id, &lang, &wantsAudio, writer)
	}
}

func (s *Server) speakerReadLoop(ctx context.Context, conn *websocket.Conn, roomID string, watchdog *room.Watchdog) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Str("room_id", roomID).Msg("speaker connection read error")
			}
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(msg, &env); err == nil && env.Type != "" {
			switch env.Type {
			case string(protocol.TypeHeartbeat):
				var hb protocol.HeartbeatPayload
				if json.Unmarshal(env.Payload, &hb) == nil && hb.PCM {
					watchdog.TouchPCM()
				}
			default:
				s.logger.Debug().Str("type", env.Type).Msg("ignoring unrecognized speaker envelope")
			}
			continue
		}

		var patch protocol.Patch
		if err := json.Unmarshal(msg, &patch); err != nil {
			continue
		}

		if err := s.validatePatch(roomID, patch, s.cfg.Room.DefaultTargetLangs); err != nil {
			if s.metrics != nil {
				s.metrics.IngestRejectedTotal.WithLabelValues(roomID, "schema").Inc()
			}
			continue
		}

		if !s.admission.Allow(roomID) {
			if s.metrics != nil {
				s.metrics.IngestRejectedTotal.WithLabelValues(roomID, "mailbox_full").Inc()
			}
			continue
		}

		if _, err := s.processor.Submit(ctx, roomID, patch, s.cfg.Room.DefaultTargetLangs); err != nil {
			s.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to submit patch from websocket")
			continue
		}
		if s.metrics != nil {
			s.metrics.IngestPatchesTotal.WithLabelValues(roomID, "ws").Inc()
		}
		watchdog.TouchEvent()
	}
}

func (s *Server) listenerReadLoop(conn *websocket.Conn, roomID, id string, lang *string, wantsAudio *bool, writer *wsWriter) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Type != string(protocol.TypeLang) {
			continue
		}

		var lp protocol.LangPayload
		if err := json.Unmarshal(env.Payload, &lp); err != nil {
			continue
		}
		if err := s.validator.ValidateBCP47(lp.TargetLang); err != nil {
			continue
		}

		s.hub.Detach(roomID, id)
		*lang = lp.TargetLang
		*wantsAudio = lp.WantsAudio
		s.hub.Attach(roomID, id, room.RoleListener, *lang, *wantsAudio, writer.write)
	}
}
