package room

import (
	"sync"

	"github.com/rs/zerolog"
)

// Role is which side of a room a connection occupies.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// Listener is one connected WebSocket peer attached to a room: the
// speaker session itself (role=speaker) or a caption/audio consumer
// (role=listener, with a target language).
//
// All sends for one peer serialize on a single writer task reading
// send, so ordering is preserved without a per-message ACK, the same
// discipline the teacher's peerConn uses.
type Listener struct {
	ID         string
	RoomID     string
	Role       Role
	TargetLang string
	WantsAudio bool

	mu          sync.Mutex
	send        chan []byte
	maxDepth    int
	maxBytes    int
	queuedBytes int
	seq         uint64

	writeFn   func(data []byte) error
	closeOnce sync.Once
	closed    chan struct{}
}

func newListener(id, roomID string, role Role, targetLang string, wantsAudio bool, maxDepth, maxBytes int, writeFn func([]byte) error) *Listener {
	return &Listener{
		ID:         id,
		RoomID:     roomID,
		Role:       role,
		TargetLang: targetLang,
		WantsAudio: wantsAudio,
		send:       make(chan []byte, maxDepth),
		maxDepth:   maxDepth,
		maxBytes:   maxBytes,
		writeFn:    writeFn,
		closed:     make(chan struct{}),
	}
}

// nextSeq returns the next envelope sequence number for this listener.
func (l *Listener) nextSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return l.seq
}

// enqueue attempts to hand data to the listener's writer task, enforcing
// the bounded outbound queue (message-count via the channel's own
// capacity, byte-size via queuedBytes). Returns false if either bound
// would be exceeded, meaning the caller must disconnect this listener.
func (l *Listener) enqueue(data []byte) bool {
	l.mu.Lock()
	if l.queuedBytes+len(data) > l.maxBytes {
		l.mu.Unlock()
		return false
	}
	l.queuedBytes += len(data)
	l.mu.Unlock()

	select {
	case l.send <- data:
		return true
	default:
		l.mu.Lock()
		l.queuedBytes -= len(data)
		l.mu.Unlock()
		return false
	}
}

// runWritePump drains send and writes each message via writeFn until the
// listener is closed or a write fails.
func (l *Listener) runWritePump(logger zerolog.Logger) {
	for {
		select {
		case data, ok := <-l.send:
			if !ok {
				return
			}
			l.mu.Lock()
			l.queuedBytes -= len(data)
			l.mu.Unlock()

			if err := l.writeFn(data); err != nil {
				logger.Debug().Err(err).Str("listener_id", l.ID).Msg("write to listener failed")
				return
			}
		case <-l.closed:
			return
		}
	}
}

// Close stops the listener's writer task. Safe to call multiple times.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
}
