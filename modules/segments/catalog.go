// Package segments holds the static catalog grouping landmarks into named
// anatomical regions. The similarity engine rolls per-landmark scores up into
// these regions so the overlay can color the body region by region.
//
// The catalog is loaded once at init and is read-only afterwards. A definition
// that references an unknown landmark index is a programming error and fails
// the load with ErrInvariantViolation; it is never a per-comparison condition.
package segments

import (
	"errors"
	"fmt"
	"math"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

// ErrInvariantViolation marks a malformed catalog definition.
var ErrInvariantViolation = errors.New("segments: invariant violation")

// Segment is a named, ordered group of at least two landmarks.
type Segment struct {
	Name    string
	Members []landmarks.Index
}

// Joint is a three-point angle definition measured at Vertex.
type Joint struct {
	Name   string
	A      landmarks.Index
	Vertex landmarks.Index
	C      landmarks.Index
}

// Angle returns the planar angle A-Vertex-C in degrees.
// ok is false when a point is missing or the angle is undefined.
func (j Joint) Angle(s *landmarks.Snapshot) (deg float64, ok bool) {
	a, okA := s.Get(j.A)
	v, okV := s.Get(j.Vertex)
	c, okC := s.Get(j.C)
	if !okA || !okV || !okC {
		return 0, false
	}

	ax, ay := a.X-v.X, a.Y-v.Y
	cx, cy := c.X-v.X, c.Y-v.Y
	na := math.Hypot(ax, ay)
	nc := math.Hypot(cx, cy)
	if na == 0 || nc == 0 {
		return 0, false
	}

	cos := (ax*cx + ay*cy) / (na * nc)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi, true
}

// Catalog is an immutable, validated set of segments and joints.
type Catalog struct {
	segments []Segment
	byName   map[string]int
	joints   []Joint
}

// Load validates the definitions and builds a Catalog.
// Returned errors wrap ErrInvariantViolation.
func Load(segs []Segment, joints []Joint) (*Catalog, error) {
	c := &Catalog{
		segments: make([]Segment, 0, len(segs)),
		byName:   make(map[string]int, len(segs)),
		joints:   make([]Joint, 0, len(joints)),
	}

	for _, s := range segs {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: segment with empty name", ErrInvariantViolation)
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate segment %q", ErrInvariantViolation, s.Name)
		}
		if len(s.Members) < 2 {
			return nil, fmt.Errorf("%w: segment %q has %d members (need ≥2)",
				ErrInvariantViolation, s.Name, len(s.Members))
		}
		for _, m := range s.Members {
			if !m.Valid() {
				return nil, fmt.Errorf("%w: segment %q references unknown landmark %d",
					ErrInvariantViolation, s.Name, int(m))
			}
		}

		members := make([]landmarks.Index, len(s.Members))
		copy(members, s.Members)
		c.byName[s.Name] = len(c.segments)
		c.segments = append(c.segments, Segment{Name: s.Name, Members: members})
	}

	for _, j := range joints {
		for _, m := range []landmarks.Index{j.A, j.Vertex, j.C} {
			if !m.Valid() {
				return nil, fmt.Errorf("%w: joint %q references unknown landmark %d",
					ErrInvariantViolation, j.Name, int(m))
			}
		}
		c.joints = append(c.joints, j)
	}

	return c, nil
}

// MustLoad is Load for static tables: it panics on a malformed definition.
func MustLoad(segs []Segment, joints []Joint) *Catalog {
	c, err := Load(segs, joints)
	if err != nil {
		panic(err)
	}
	return c
}

// Segments returns the segments in definition order.
// The returned slice must not be modified.
func (c *Catalog) Segments() []Segment {
	return c.segments
}

// Segment looks a segment up by name.
func (c *Catalog) Segment(name string) (Segment, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Segment{}, false
	}
	return c.segments[i], true
}

// Joints returns the joint-angle definitions.
func (c *Catalog) Joints() []Joint {
	return c.joints
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return defaultCatalog
}
