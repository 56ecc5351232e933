package usm

import (
	"sync"
	"time"
)

// Clock tracks an SNMP engine's authoritative boots/time pair, per
// spec.md §9's explicit separation of engine-time from wall clock: engine
// time is "seconds since the engine last rebooted", measured off a
// monotonic reference rather than time.Now(), so that NTP adjustments or
// system clock steps never perturb USM's ±150s window check.
type Clock struct {
	mu      sync.Mutex
	boots   uint32
	started time.Time // monotonic reference for EngineTime's elapsed count
}

// NewClock returns a Clock starting at the given boot count, with its
// epoch anchored to now.
func NewClock(boots uint32) *Clock {
	return &Clock{boots: boots, started: time.Now()}
}

// Boots returns the current engine-boots counter.
func (c *Clock) Boots() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boots
}

// Time returns the current engine-time: whole seconds elapsed since
// started, saturating at 2^31-1 per RFC 3414 §2.3's snmpEngineTime range
// before rolling engine-boots forward.
func (c *Clock) Time() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeLocked()
}

func (c *Clock) timeLocked() uint32 {
	elapsed := time.Since(c.started)
	secs := elapsed / time.Second
	const max31 = (1 << 31) - 1
	if secs >= max31 {
		// Roll boots forward and reset the epoch, matching the reference
		// agent's handling of snmpEngineTime overflow.
		overflow := int64(secs) / max31
		c.boots += uint32(overflow)
		c.started = c.started.Add(time.Duration(overflow*max31) * time.Second)
		elapsed = time.Since(c.started)
		secs = elapsed / time.Second
	}
	return uint32(secs)
}

// Snapshot returns (boots, time) together, useful when constructing an
// outgoing message's msgAuthoritativeEngineBoots/Time fields atomically.
func (c *Clock) Snapshot() (boots, engineTime uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boots, c.timeLocked()
}

// WithinWindow reports whether a claimed (boots, time) pair from an
// incoming message is acceptable per RFC 3414 §3.2 step 7: boots must
// match (or the message rejected as stale once boots is less), and time
// must be within ±150 seconds of the local value when boots matches.
func (c *Clock) WithinWindow(msgBoots, msgTime uint32) bool {
	localBoots, localTime := c.Snapshot()
	const windowSecs = 150

	if msgBoots != localBoots {
		return false
	}
	var delta int64
	if msgTime >= localTime {
		delta = int64(msgTime) - int64(localTime)
	} else {
		delta = int64(localTime) - int64(msgTime)
	}
	return delta <= windowSecs
}

// Advance sets boots and re-anchors the clock's epoch so that the engine
// time reads engineTime now; used
// when synchronizing to a remote engine's authoritative clock in USM
// discovery, per spec.md §4.3.
func (c *Clock) Advance(boots, engineTime uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boots = boots
	c.started = time.Now().Add(-time.Duration(engineTime) * time.Second)
}
