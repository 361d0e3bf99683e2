// Package stats holds the supernode's monotonic process-lifetime counters,
// generalized from the teacher's single mutex-guarded sequence-number
// counter (RegisterGroup.sequenceNumber / sequenceNumberMutex in
// pkg/surp.go) into a small block of them.
package stats

import (
	"sync"
	"time"
)

// Counters are the statistics from spec §3: errors, reg_super,
// reg_super_nak, fwd, broadcast, last_fwd, last_reg_super, start_time.
//
// RegSuperNak is reserved per spec §7/§9: the reference never increments
// it, and this implementation follows suit rather than inventing a NAK
// policy the spec explicitly leaves open.
type Counters struct {
	mu sync.Mutex

	errors      uint64
	regSuper    uint64
	regSuperNak uint64
	fwd         uint64
	broadcast   uint64

	lastFwd      time.Time
	lastRegSuper time.Time
	startTime    time.Time
}

func New(now time.Time) *Counters {
	return &Counters{startTime: now}
}

func (c *Counters) IncErrors() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *Counters) IncRegSuper(now time.Time) {
	c.mu.Lock()
	c.regSuper++
	c.lastRegSuper = now
	c.mu.Unlock()
}

// IncRegSuperNak exists for wire-compatibility with the reserved counter;
// nothing in this implementation calls it (see package doc).
func (c *Counters) IncRegSuperNak() {
	c.mu.Lock()
	c.regSuperNak++
	c.mu.Unlock()
}

func (c *Counters) IncFwd(now time.Time) {
	c.mu.Lock()
	c.fwd++
	c.lastFwd = now
	c.mu.Unlock()
}

func (c *Counters) IncBroadcast() {
	c.mu.Lock()
	c.broadcast++
	c.mu.Unlock()
}

// Snapshot is an immutable, race-free copy of the current counters.
type Snapshot struct {
	Errors       uint64
	RegSuper     uint64
	RegSuperNak  uint64
	Fwd          uint64
	Broadcast    uint64
	LastFwd      time.Time
	LastRegSuper time.Time
	StartTime    time.Time
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Errors:       c.errors,
		RegSuper:     c.regSuper,
		RegSuperNak:  c.regSuperNak,
		Fwd:          c.fwd,
		Broadcast:    c.broadcast,
		LastFwd:      c.lastFwd,
		LastRegSuper: c.lastRegSuper,
		StartTime:    c.startTime,
	}
}
