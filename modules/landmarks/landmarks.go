package landmarks

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Index identifies one tracked body point.
type Index int

const (
	Nose Index = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex

	// Pelvis is synthetic: midpoint of the two hips.
	Pelvis
	// SolarPlexis is synthetic, placed by Enrich.
	SolarPlexis
)

// StandardCount is the number of points delivered by the pose source.
const StandardCount = 33

// Count is the number of valid indices including the synthetic ones.
const Count = 35

var indexNames = [Count]string{
	"NOSE",
	"LEFT_EYE_INNER",
	"LEFT_EYE",
	"LEFT_EYE_OUTER",
	"RIGHT_EYE_INNER",
	"RIGHT_EYE",
	"RIGHT_EYE_OUTER",
	"LEFT_EAR",
	"RIGHT_EAR",
	"MOUTH_LEFT",
	"MOUTH_RIGHT",
	"LEFT_SHOULDER",
	"RIGHT_SHOULDER",
	"LEFT_ELBOW",
	"RIGHT_ELBOW",
	"LEFT_WRIST",
	"RIGHT_WRIST",
	"LEFT_PINKY",
	"RIGHT_PINKY",
	"LEFT_INDEX",
	"RIGHT_INDEX",
	"LEFT_THUMB",
	"RIGHT_THUMB",
	"LEFT_HIP",
	"RIGHT_HIP",
	"LEFT_KNEE",
	"RIGHT_KNEE",
	"LEFT_ANKLE",
	"RIGHT_ANKLE",
	"LEFT_HEEL",
	"RIGHT_HEEL",
	"LEFT_FOOT_INDEX",
	"RIGHT_FOOT_INDEX",
	"PELVIS",
	"SOLAR_PLEXIS",
}

var indexByName = func() map[string]Index {
	m := make(map[string]Index, Count)
	for i, name := range indexNames {
		m[name] = Index(i)
	}
	return m
}()

// Valid reports whether i is one of the 35 known indices.
func (i Index) Valid() bool {
	return i >= 0 && i < Count
}

// Synthetic reports whether i is derived by Enrich rather than delivered.
func (i Index) Synthetic() bool {
	return i == Pelvis || i == SolarPlexis
}

// String returns the canonical upper-snake name (e.g. "LEFT_SHOULDER").
func (i Index) String() string {
	if !i.Valid() {
		return fmt.Sprintf("INDEX(%d)", int(i))
	}
	return indexNames[i]
}

// ParseIndex resolves a canonical name back to its Index.
func ParseIndex(name string) (Index, error) {
	i, ok := indexByName[name]
	if !ok {
		return 0, fmt.Errorf("landmarks: unknown landmark %q", name)
	}
	return i, nil
}

// Landmark is one tracked body point in normalized frame coordinates.
type Landmark struct {
	X          float64 `json:"x" msgpack:"x"`
	Y          float64 `json:"y" msgpack:"y"`
	Z          float64 `json:"z" msgpack:"z"`
	Visibility float64 `json:"visibility" msgpack:"visibility"`
}

// Finite reports whether the planar coordinates are usable numbers.
func (l Landmark) Finite() bool {
	return !math.IsNaN(l.X) && !math.IsInf(l.X, 0) &&
		!math.IsNaN(l.Y) && !math.IsInf(l.Y, 0)
}

// Snapshot is the set of landmarks captured at one instant.
// Some indices may be absent.
type Snapshot struct {
	Landmarks  map[Index]Landmark
	CapturedAt time.Time
}

// NewSnapshot returns an empty snapshot stamped with capturedAt.
func NewSnapshot(capturedAt time.Time) *Snapshot {
	return &Snapshot{
		Landmarks:  make(map[Index]Landmark),
		CapturedAt: capturedAt,
	}
}

// FromSlice builds a snapshot from landmarks in index order, as delivered by
// the pose source. Entries beyond Count are ignored.
func FromSlice(points []Landmark, capturedAt time.Time) *Snapshot {
	s := NewSnapshot(capturedAt)
	for i, p := range points {
		if i >= Count {
			break
		}
		s.Landmarks[Index(i)] = p
	}
	return s
}

// Len returns the number of landmarks present. Nil-safe.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Landmarks)
}

// IsEmpty reports whether the snapshot carries no landmarks. Nil-safe.
func (s *Snapshot) IsEmpty() bool {
	return s.Len() == 0
}

// Get returns the landmark at i and whether it is present. Nil-safe.
func (s *Snapshot) Get(i Index) (Landmark, bool) {
	if s == nil {
		return Landmark{}, false
	}
	l, ok := s.Landmarks[i]
	return l, ok
}

// Clone returns a deep, independent copy. Nil in, nil out.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Landmarks:  make(map[Index]Landmark, len(s.Landmarks)),
		CapturedAt: s.CapturedAt,
	}
	for i, l := range s.Landmarks {
		out.Landmarks[i] = l
	}
	return out
}

type snapshotJSON struct {
	Landmarks  map[string]Landmark `json:"landmarks"`
	CapturedAt time.Time           `json:"capturedAt,omitempty"`
}

// MarshalJSON encodes landmarks keyed by canonical name.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Landmarks:  make(map[string]Landmark, len(s.Landmarks)),
		CapturedAt: s.CapturedAt,
	}
	for i, l := range s.Landmarks {
		if !i.Valid() {
			return nil, fmt.Errorf("landmarks: cannot encode invalid index %d", int(i))
		}
		out.Landmarks[i.String()] = l
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the MarshalJSON form. Unknown names are rejected.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Landmarks == nil {
		return fmt.Errorf("landmarks: snapshot has no landmarks field")
	}
	s.Landmarks = make(map[Index]Landmark, len(in.Landmarks))
	s.CapturedAt = in.CapturedAt
	for name, l := range in.Landmarks {
		i, err := ParseIndex(name)
		if err != nil {
			return err
		}
		s.Landmarks[i] = l
	}
	return nil
}
