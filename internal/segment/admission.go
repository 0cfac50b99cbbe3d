package segment

import (
	"time"

	"github.com/interpretcore/core/internal/security"
)

// Admission is the per-room ingest token bucket guarding the Segment
// Processor's mailbox from an overloaded capture client, returning a
// retriable rejection instead of queuing unbounded work. It rekeys the
// shared rate-limiter primitive by roomId instead of client IP.
type Admission struct {
	limiter *security.RateLimiter
}

// NewAdmission creates an admission gate allowing ratePerSecond patches per
// room, bursting up to capacity.
// Complexity: O(1)
func NewAdmission(ratePerSecond, capacity int) *Admission {
	return &Admission{
		limiter: security.NewRateLimiter(ratePerSecond, time.Second, capacity),
	}
}

// Allow reports whether a patch for roomID may be admitted right now.
// Complexity: O(1)
func (a *Admission) Allow(roomID string) bool {
	return a.limiter.Allow(roomID)
}

// Reset clears a room's bucket, called on room teardown to release memory.
// Complexity: O(1)
func (a *Admission) Reset(roomID string) {
	a.limiter.Reset(roomID)
}
