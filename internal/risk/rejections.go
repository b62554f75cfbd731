package risk

import (
	"strings"
	"sync"
	"time"
)

const (
	rejectionStreamCap = 50
	dedupWindow        = 8 * time.Second
	dedupWindowMaxPos  = 60 * time.Second
	maxPositionsMarker = "max positions"
)

// RejectionRecord is one blocked entry for the UI stream.
type RejectionRecord struct {
	TS      time.Time `json:"ts"`
	Symbol  string    `json:"symbol"`
	Gate    string    `json:"gate"`
	Details string    `json:"details"`
}

// RejectionTracker keeps per-gate counters and a bounded de-duplicated
// stream of recent blocked events. Identical (symbol, gate, detail) triples
// inside the dedup window are collapsed; "max positions" rejections use a
// longer window because they fire every tick while the book is full.
type RejectionTracker struct {
	mu       sync.Mutex
	counters map[string]int
	stream   []RejectionRecord
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewRejectionTracker() *RejectionTracker {
	return &RejectionTracker{
		counters: make(map[string]int),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Record counts a rejection and, unless it is a recent duplicate, appends
// it to the stream. Returns whether the event entered the stream.
func (rt *RejectionTracker) Record(symbol, gate, details string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.counters[gate]++

	key := symbol + "|" + gate + "|" + details
	window := dedupWindow
	if strings.Contains(strings.ToLower(details), maxPositionsMarker) {
		window = dedupWindowMaxPos
	}
	now := rt.now()
	if last, ok := rt.lastSeen[key]; ok && now.Sub(last) < window {
		return false
	}
	rt.lastSeen[key] = now

	rt.stream = append(rt.stream, RejectionRecord{
		TS:      now.UTC(),
		Symbol:  symbol,
		Gate:    gate,
		Details: details,
	})
	if len(rt.stream) > rejectionStreamCap {
		rt.stream = rt.stream[len(rt.stream)-rejectionStreamCap:]
	}
	return true
}

// Counters returns a copy of the per-gate histogram.
func (rt *RejectionTracker) Counters() map[string]int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make(map[string]int, len(rt.counters))
	for k, v := range rt.counters {
		out[k] = v
	}
	return out
}

// Count returns one gate's counter.
func (rt *RejectionTracker) Count(gate string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.counters[gate]
}

// Recent returns a copy of the stream, newest last.
func (rt *RejectionTracker) Recent() []RejectionRecord {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]RejectionRecord, len(rt.stream))
	copy(out, rt.stream)
	return out
}

// SetClock overrides the time source for tests.
func (rt *RejectionTracker) SetClock(now func() time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.now = now
}
