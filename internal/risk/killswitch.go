package risk

import (
	"sync"
	"time"
)

// KillSwitch is the process-wide manual halt. Toggled only through the
// control surface; while engaged the gate funnel rejects every entry.
type KillSwitch struct {
	mu       sync.Mutex
	engaged  bool
	reason   string
	togglers int
	since    time.Time
}

func NewKillSwitch() *KillSwitch {
	return &KillSwitch{}
}

// Engaged reports the switch state and reason.
func (ks *KillSwitch) Engaged() (bool, string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.engaged, ks.reason
}

// Toggle flips the switch and returns the new state.
func (ks *KillSwitch) Toggle(reason string) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.engaged = !ks.engaged
	ks.togglers++
	if ks.engaged {
		ks.reason = reason
		ks.since = time.Now().UTC()
	} else {
		ks.reason = ""
		ks.since = time.Time{}
	}
	return ks.engaged
}

// Set forces a specific state.
func (ks *KillSwitch) Set(engaged bool, reason string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.engaged == engaged {
		return
	}
	ks.engaged = engaged
	ks.reason = reason
	if engaged {
		ks.since = time.Now().UTC()
	} else {
		ks.reason = ""
		ks.since = time.Time{}
	}
}
