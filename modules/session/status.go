package session

import (
	"time"

	"github.com/e7canasta/orion-posematch/modules/resultbus"
)

// PoseInfo describes one stored pose.
type PoseInfo struct {
	ID           string  `json:"id"`
	TolerancePct float64 `json:"tolerancePct"`
	Landmarks    int     `json:"landmarks"`
}

// Status is a point-in-time view of the session.
type Status struct {
	LevelID      string  `json:"levelId"`
	State        string  `json:"state"`
	TargetPoseID string  `json:"targetPoseId,omitempty"`
	ThresholdPct float64 `json:"thresholdPct"`
	Poses        int     `json:"poses"`
	BodyInView   bool    `json:"bodyInView"`
	Sensitivity  float64 `json:"sensitivity"`
	UptimeS      float64 `json:"uptimeS"`

	FramesOffered uint64 `json:"framesOffered"`
	SlotDrops     uint64 `json:"slotDrops"`
	Evaluations   uint64 `json:"evaluations"`
	Republished   uint64 `json:"republished"`

	Subscribers map[string]float64 `json:"subscriberDropRates,omitempty"`
}

// Status returns the current session status.
func (s *Session) Status() Status {
	ls := s.loop.Stats()

	st := Status{
		LevelID:       s.levelID,
		State:         ls.State.String(),
		TargetPoseID:  ls.TargetPoseID,
		ThresholdPct:  ls.ThresholdPct,
		Poses:         s.store.Len(),
		BodyInView:    !s.loop.Live().IsEmpty(),
		Sensitivity:   s.engine.Load().Sensitivity(),
		UptimeS:       time.Since(s.started).Seconds(),
		FramesOffered: ls.FramesOffered,
		SlotDrops:     ls.SlotDrops,
		Evaluations:   ls.Evaluations,
		Republished:   ls.Republished,
	}

	if ids := s.bus.Subscribers(); len(ids) > 0 {
		st.Subscribers = make(map[string]float64, len(ids))
		for _, id := range ids {
			stats, err := s.bus.Stats(id)
			if err != nil {
				continue
			}
			st.Subscribers[id] = resultbus.CalculateDropRate(stats)
		}
	}
	return st
}

// Poses lists the stored poses in id order.
func (s *Session) Poses() []PoseInfo {
	ids := s.store.IDs()
	out := make([]PoseInfo, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.store.Get(id)
		if !ok {
			continue
		}
		out = append(out, PoseInfo{ID: id, TolerancePct: rec.TolerancePct, Landmarks: rec.Pose.Len()})
	}
	return out
}
