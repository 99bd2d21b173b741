package internal

// Stats returns an operational snapshot (implements Loop.Stats).
//
// Slot counters are atomic and may run slightly ahead of the rest.
func (l *loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		State:           l.state,
		TargetPoseID:    l.targetID,
		ThresholdPct:    l.threshold,
		FramesOffered:   l.slot.offered.Load(),
		SlotDrops:       l.slot.dropped.Load(),
		Evaluations:     l.evaluations,
		Throttled:       l.throttled,
		Republished:     l.republished,
		LastEvaluatedAt: l.lastEvaluatedAt,
		LastPublishedAt: l.lastPublishedAt,
	}
}
