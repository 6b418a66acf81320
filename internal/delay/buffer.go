// Package delay holds the time-shifted queue used for broadcast delay.
//
// Packets and synthetic start/stop messages share one ordered queue, so a
// delayed activation or deactivation takes effect at the right position in
// the replayed stream.
package delay

import (
	"sync"
	"time"

	"rapidoutput/pkg/models"
)

// Kind identifies what a queued entry carries
type Kind int

const (
	KindPacket Kind = iota
	KindStart
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Entry is one queued item. TS is the arrival time used to decide release.
type Entry struct {
	Kind   Kind
	TS     time.Time
	Packet *models.Packet // set for KindPacket
}

// Buffer is a FIFO of entries released once they are older than the active
// delay. It is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry

	active time.Duration
	flags  models.DelayFlags

	restartRefs int
}

// New creates an empty, inactive delay buffer
func New() *Buffer {
	return &Buffer{}
}

// Activate sets the delay applied to queued entries and the flags in effect
// for this activation
func (b *Buffer) Activate(d time.Duration, flags models.DelayFlags) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active = d
	b.flags = flags
}

// ActiveDelay returns the delay currently applied, 0 when inactive
func (b *Buffer) ActiveDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Preserve reports whether buffered entries survive a disconnect
func (b *Buffer) Preserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flags&models.DelayPreserve != 0
}

// PushPacket queues a packet. The buffer takes ownership of p.
func (b *Buffer) PushPacket(p *models.Packet, ts time.Time) {
	b.push(Entry{Kind: KindPacket, TS: ts, Packet: p})
}

// PushStart queues a delayed start and takes a restart reference
func (b *Buffer) PushStart(ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, Entry{Kind: KindStart, TS: ts})
	b.restartRefs++
}

// PushStop queues a delayed stop
func (b *Buffer) PushStop(ts time.Time) {
	b.push(Entry{Kind: KindStop, TS: ts})
}

func (b *Buffer) push(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
}

// Pop removes the oldest entry once more than the active delay has elapsed
// since it was queued. While reconnecting with preserve set nothing is
// released; instead the active delay grows to the age of the oldest entry so
// the backlog is replayed with the same offset once the sink is back.
func (b *Buffer) Pop(now time.Time, reconnecting bool) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return Entry{}, false
	}

	front := b.entries[0]
	elapsed := now.Sub(front.TS)

	if reconnecting && b.flags&models.DelayPreserve != 0 {
		if elapsed > b.active {
			b.active = elapsed
		}
		return Entry{}, false
	}

	if elapsed <= b.active {
		return Entry{}, false
	}

	b.entries[0] = Entry{}
	b.entries = b.entries[1:]
	return front, true
}

// ReleaseRestart drops one restart reference taken by PushStart
func (b *Buffer) ReleaseRestart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.restartRefs > 0 {
		b.restartRefs--
	}
}

// RestartRefs returns the number of queued or in-flight delayed starts
func (b *Buffer) RestartRefs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restartRefs
}

// Len returns the number of queued entries
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear discards every queued entry and deactivates the delay. It returns
// the number of discarded entries.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.entries)
	b.entries = nil
	b.active = 0
	b.restartRefs = 0
	return n
}
