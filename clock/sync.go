package clock

import (
	"sync"
	"time"
)

// Sync tracks the offset between the local clock and the server clock.
// The most recent sample always wins: no smoothing, so server corrections apply within one poll.
type Sync struct {
	mu     sync.RWMutex
	nowFn  func() time.Time
	offset time.Duration // localNow - serverNow
	synced bool
}

// Update replaces the offset using a server timestamp (unix ms) taken from a state response.
// Non-positive timestamps are ignored.
func (s *Sync) Update(serverTimeMs int64) {
	if serverTimeMs <= 0 {
		return
	}

	localNow := s.nowFn()
	serverNow := time.UnixMilli(serverTimeMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset = localNow.Sub(serverNow)
	s.synced = true
}

// Now returns the server-corrected current time (local time before the first sync).
func (s *Sync) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.nowFn()
	if !s.synced {
		return now
	}

	return now.Add(-s.offset)
}

// Offset returns the current offset and whether a sync happened.
func (s *Sync) Offset() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.offset, s.synced
}

// Reset forgets the offset.
func (s *Sync) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset, s.synced = 0, false
}

// NewSync creates a new Sync object; nil nowFn means time.Now.
func NewSync(nowFn func() time.Time) *Sync {
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Sync{nowFn: nowFn}
}
