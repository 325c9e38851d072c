/*
Copyright 2026 Warpgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package auth

import (
	"math"
	"sync"
	"time"

	"github.com/gravitational/ttlmap"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// BackoffConfig controls exponential IP-block and user-lockout behavior,
// per spec.md section 4.1 ("Rejection after N consecutive failures for the
// same remote address triggers exponential-backoff IP block (base minutes,
// multiplier, max). User lockout after M failures with optional
// auto-unlock after duration.").
type BackoffConfig struct {
	// MaxAttempts is the number of consecutive failures from one remote
	// address before it is blocked.
	MaxAttempts int
	// BlockBase is the initial block duration.
	BlockBase time.Duration
	// BlockMultiplier scales the block duration on each successive block.
	BlockMultiplier float64
	// BlockMax caps the block duration.
	BlockMax time.Duration

	// LockoutThreshold is the number of consecutive failures for one user
	// before the account is locked, independent of source address.
	LockoutThreshold int
	// LockoutDuration is how long a lockout lasts before auto-unlock; zero
	// means the lockout never auto-expires.
	LockoutDuration time.Duration
}

func (c *BackoffConfig) CheckAndSetDefaults() error {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BlockBase <= 0 {
		c.BlockBase = time.Minute
	}
	if c.BlockMultiplier < 1 {
		c.BlockMultiplier = 2
	}
	if c.BlockMax <= 0 {
		c.BlockMax = 30 * time.Minute
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 10
	}
	return nil
}

// ipRecord tracks one remote address's failure streak and current block.
type ipRecord struct {
	failures    int
	blockedAt   time.Time
	blockUntil  time.Time
	blockRounds int
	// escalated marks that an attempt made during the current block has
	// already advanced blockRounds to the next multiplier window; further
	// attempts while still blocked are rejected without escalating again,
	// so a single block episode only ever costs the attacker one extra
	// round regardless of how many times they retry inside it.
	escalated bool
}

// userRecord tracks one user's failure streak and lockout.
type userRecord struct {
	failures   int
	lockedAt   time.Time
	lockUntil  time.Time
}

// backoffTracker enforces BackoffConfig using an in-memory,
// expiry-aware map (github.com/gravitational/ttlmap, a direct teacher
// dependency) so abandoned entries don't accumulate forever. A plain
// sync.Mutex-guarded struct sits in front of it because ttlmap itself isn't
// safe for concurrent use from multiple goroutines without external
// locking, the same way the teacher's own rate limiter wraps it.
type backoffTracker struct {
	cfg   BackoffConfig
	clock clockwork.Clock

	mu    sync.Mutex
	byIP  *ttlmap.TtlMap
	byUsr *ttlmap.TtlMap
}

const backoffMapCapacity = 8192

func newBackoffTracker(cfg BackoffConfig, clock clockwork.Clock) (*backoffTracker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	byIP, err := ttlmap.NewMap(backoffMapCapacity)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	byUsr, err := ttlmap.NewMap(backoffMapCapacity)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backoffTracker{cfg: cfg, clock: clock, byIP: byIP, byUsr: byUsr}, nil
}

// ipBlocked reports whether remoteAddr is currently blocked, and if so,
// until when.
func (t *backoffTracker) ipBlocked(remoteAddr string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, exists := t.byIP.Get(remoteAddr)
	if !exists {
		return false, time.Time{}
	}
	rec := v.(*ipRecord)
	now := t.clock.Now()
	if rec.blockUntil.IsZero() || now.After(rec.blockUntil) {
		return false, time.Time{}
	}
	return true, rec.blockUntil
}

// userLocked reports whether userID is currently locked out.
func (t *backoffTracker) userLocked(userID string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, exists := t.byUsr.Get(userID)
	if !exists {
		return false, time.Time{}
	}
	rec := v.(*userRecord)
	if rec.lockedAt.IsZero() {
		return false, time.Time{}
	}
	if rec.lockUntil.IsZero() {
		// LockoutDuration of zero: the lockout does not auto-expire.
		return true, time.Time{}
	}
	if t.clock.Now().After(rec.lockUntil) {
		return false, time.Time{}
	}
	return true, rec.lockUntil
}

// recordFailure increments both the IP and user failure streaks, arming a
// block/lockout once their respective thresholds are crossed.
func (t *backoffTracker) recordFailure(remoteAddr, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()

	var ipRec *ipRecord
	if v, exists := t.byIP.Get(remoteAddr); exists {
		ipRec = v.(*ipRecord)
	} else {
		ipRec = &ipRecord{}
	}
	ipRec.failures++
	if ipRec.failures >= t.cfg.MaxAttempts {
		duration := t.cfg.BlockBase
		for i := 0; i < ipRec.blockRounds; i++ {
			duration = time.Duration(float64(duration) * t.cfg.BlockMultiplier)
			if duration > t.cfg.BlockMax {
				duration = t.cfg.BlockMax
				break
			}
		}
		ipRec.blockedAt = now
		ipRec.blockUntil = now.Add(duration)
		ipRec.blockRounds++
		ipRec.failures = 0
		ipRec.escalated = false
	}
	_ = t.byIP.Set(remoteAddr, ipRec, int(t.cfg.BlockMax.Seconds())+1)

	if userID == "" {
		return
	}
	var usrRec *userRecord
	if v, exists := t.byUsr.Get(userID); exists {
		usrRec = v.(*userRecord)
	} else {
		usrRec = &userRecord{}
	}
	usrRec.failures++
	ttlSeconds := int(t.cfg.LockoutDuration.Seconds())
	if usrRec.failures >= t.cfg.LockoutThreshold {
		usrRec.lockedAt = now
		if t.cfg.LockoutDuration > 0 {
			usrRec.lockUntil = now.Add(t.cfg.LockoutDuration)
		}
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 86400
		if !usrRec.lockedAt.IsZero() {
			// keep a non-expiring lockout's record for as long as possible
			ttlSeconds = math.MaxInt32
		}
	}
	_ = t.byUsr.Set(userID, usrRec, ttlSeconds)
}

// noteBlockedAttempt is called when an attempt arrives against a remote
// address that is already blocked. Per spec.md section 8 scenario 6, an
// attempt made inside an active block window must itself escalate the
// block to the next multiplier round rather than being a free, unpunished
// no-op — but only once per block episode, so a burst of retries against
// an already-blocked address doesn't compound into an unbounded block.
func (t *backoffTracker) noteBlockedAttempt(remoteAddr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, exists := t.byIP.Get(remoteAddr)
	if !exists {
		return
	}
	rec := v.(*ipRecord)
	now := t.clock.Now()
	if rec.blockUntil.IsZero() || now.After(rec.blockUntil) {
		return
	}
	if rec.escalated {
		return
	}

	duration := t.cfg.BlockBase
	for i := 0; i < rec.blockRounds; i++ {
		duration = time.Duration(float64(duration) * t.cfg.BlockMultiplier)
		if duration > t.cfg.BlockMax {
			duration = t.cfg.BlockMax
			break
		}
	}
	rec.blockedAt = now
	rec.blockUntil = now.Add(duration)
	rec.blockRounds++
	rec.escalated = true
	_ = t.byIP.Set(remoteAddr, rec, int(t.cfg.BlockMax.Seconds())+1)
}

// recordSuccess clears both the IP and user failure streaks after a
// successful authentication.
func (t *backoffTracker) recordSuccess(remoteAddr, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byIP.Remove(remoteAddr)
	if userID != "" {
		t.byUsr.Remove(userID)
	}
}
