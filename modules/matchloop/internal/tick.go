package internal

import (
	"log/slog"
	"time"

	"github.com/e7canasta/orion-posematch/modules/resultbus"
	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// Tick is the per-frame callback (implements Loop.Tick).
//
// Algorithm:
//  1. Outside Testing: return (no engine call)
//  2. Evaluation guard: if less than EvaluationInterval elapsed since the
//     last evaluation, count a throttled tick and return
//  3. Read the latest slot (nil = no body → zeroed result)
//  4. Evaluate against the cached target at the current threshold
//  5. Republish iff first result, |Δoverall| ≥ RepublishDelta, or the
//     matched flag flipped; otherwise keep the previous reference
//
// now is supplied by the caller so the guard follows the host's frame clock.
func (l *loop) Tick(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Testing {
		return
	}

	if !l.limiter.AllowN(now, 1) {
		l.throttled++
		throttledTicks.Inc()
		return
	}

	live := l.slot.read()

	start := time.Now()
	next := l.engine.Match(live, l.targetPose, l.threshold)
	evaluationDuration.Observe(time.Since(start).Seconds())

	l.evaluations++
	l.lastEvaluatedAt = now
	evaluations.Inc()
	overallScore.Observe(next.Overall)

	if !similarity.Changed(l.prev, next, l.cfg.RepublishDelta) {
		return
	}

	l.prev = &next
	l.republished++
	l.lastPublishedAt = now
	republished.Inc()

	if l.bus != nil {
		l.bus.Publish(resultbus.Message{
			PoseID:      l.targetID,
			PublishedAt: now,
			Result:      next,
		})
	}

	slog.Debug("match result republished",
		"pose_id", l.targetID,
		"overall", next.Overall,
		"matched", next.Matched,
		"threshold_pct", next.ThresholdPct,
	)
}
