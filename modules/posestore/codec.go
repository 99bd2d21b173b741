package posestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

// wrappedBlob is the current persisted shape.
type wrappedBlob struct {
	Pose         *landmarks.Snapshot `json:"pose"`
	TolerancePct *float64            `json:"tolerancePct,omitempty"`
}

func encodeBlob(r Record) ([]byte, error) {
	tol := r.TolerancePct
	return json.Marshal(wrappedBlob{Pose: r.Pose, TolerancePct: &tol})
}

// decodeBlob accepts both historical shapes:
//
//	wrapped: {"pose": {"landmarks": {...}}, "tolerancePct": 70}
//	legacy:  [{"x":..,"y":..,"z":..,"visibility":..}, ...]          (index order)
//	         {"poseLandmarks": [{...}, ...]}                          (index order)
//	         {"LEFT_SHOULDER": {...}, ...}                            (by name)
//	         {"landmarks": {...}}                                     (bare snapshot)
//
// tol is nil when the blob carries no tolerance.
func decodeBlob(data []byte) (pose *landmarks.Snapshot, tol *float64, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, errors.New("empty blob")
	}

	if data[0] == '[' {
		pose, err = decodeLandmarkArray(data)
		return pose, nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, fmt.Errorf("not a JSON object or array: %w", err)
	}

	if raw, ok := fields["pose"]; ok {
		var w wrappedBlob
		if err := json.Unmarshal(data, &w); err != nil {
			// "pose" may itself hold a legacy shape.
			pose, lerr := decodeLegacyObject(raw)
			if lerr != nil {
				return nil, nil, fmt.Errorf("wrapped pose: %w", err)
			}
			w.Pose = pose
			if rawTol, ok := fields["tolerancePct"]; ok {
				var v float64
				if json.Unmarshal(rawTol, &v) == nil {
					w.TolerancePct = &v
				}
			}
		}
		if w.Pose.IsEmpty() {
			return nil, nil, errors.New("wrapped pose has no landmarks")
		}
		return w.Pose, w.TolerancePct, nil
	}

	pose, err = decodeLegacyObject(data)
	return pose, nil, err
}

func decodeLegacyObject(data []byte) (*landmarks.Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return decodeLandmarkArray(data)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	if raw, ok := fields["poseLandmarks"]; ok {
		return decodeLandmarkArray(raw)
	}

	if _, ok := fields["landmarks"]; ok {
		var s landmarks.Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		if s.IsEmpty() {
			return nil, errors.New("snapshot has no landmarks")
		}
		return &s, nil
	}

	s := landmarks.NewSnapshot(time.Time{})
	for name, raw := range fields {
		i, err := landmarks.ParseIndex(name)
		if err != nil {
			return nil, err
		}
		var l landmarks.Landmark
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		s.Landmarks[i] = l
	}
	if s.IsEmpty() {
		return nil, errors.New("no landmarks")
	}
	return s, nil
}

func decodeLandmarkArray(data []byte) (*landmarks.Snapshot, error) {
	var points []*landmarks.Landmark
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("landmark array: %w", err)
	}
	s := landmarks.NewSnapshot(time.Time{})
	for i, p := range points {
		if i >= landmarks.Count {
			break
		}
		if p == nil {
			continue
		}
		s.Landmarks[landmarks.Index(i)] = *p
	}
	if s.IsEmpty() {
		return nil, errors.New("landmark array is empty")
	}
	return s, nil
}
