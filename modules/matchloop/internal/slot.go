package internal

import (
	"sync/atomic"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

// liveFrame is one entry of the single-slot holder. snapshot nil = no body.
type liveFrame struct {
	snapshot *landmarks.Snapshot
	seq      uint64
}

// liveSlot holds only the most recent live snapshot.
//
// Semantics:
//   - put is lock-free and never blocks the pose source
//   - a whole frame is swapped atomically, so an evaluation never sees a
//     partially written landmark set
//   - intermediate frames are dropped, never queued; a frame overwritten
//     before any read counts as a drop
type liveSlot struct {
	current atomic.Pointer[liveFrame]
	lastSeq atomic.Uint64
	readSeq atomic.Uint64
	offered atomic.Uint64
	dropped atomic.Uint64
}

func (s *liveSlot) put(snapshot *landmarks.Snapshot) {
	f := &liveFrame{snapshot: snapshot, seq: s.lastSeq.Add(1)}
	s.offered.Add(1)

	prev := s.current.Swap(f)
	if prev != nil && prev.seq > s.readSeq.Load() {
		s.dropped.Add(1)
		slotDrops.Inc()
	}
}

// read returns the latest snapshot without consuming it. A slot that has
// never been written reads as "no body".
func (s *liveSlot) read() *landmarks.Snapshot {
	f := s.current.Load()
	if f == nil {
		return nil
	}
	for {
		seen := s.readSeq.Load()
		if f.seq <= seen || s.readSeq.CompareAndSwap(seen, f.seq) {
			break
		}
	}
	return f.snapshot
}

// reset empties the slot (stream torn down).
func (s *liveSlot) reset() {
	s.current.Store(nil)
}

// peek returns the latest snapshot without marking it read.
func (s *liveSlot) peek() *landmarks.Snapshot {
	if f := s.current.Load(); f != nil {
		return f.snapshot
	}
	return nil
}
