package segments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c := Default()
	require.NotNil(t, c)

	assert.Len(t, c.Segments(), len(defaultSegments))
	assert.Len(t, c.Joints(), len(defaultJoints))

	for _, s := range c.Segments() {
		assert.GreaterOrEqual(t, len(s.Members), 2, s.Name)
		for _, m := range s.Members {
			assert.True(t, m.Valid(), "%s references %d", s.Name, int(m))
		}
	}

	abdomen, ok := c.Segment("ABDOMEN")
	require.True(t, ok)
	assert.Equal(t, []landmarks.Index{landmarks.SolarPlexis, landmarks.Pelvis}, abdomen.Members)

	_, ok = c.Segment("TAIL")
	assert.False(t, ok)
}

func TestLoadRejectsMalformedDefinitions(t *testing.T) {
	tests := []struct {
		name   string
		segs   []Segment
		joints []Joint
	}{
		{
			name: "unknown index",
			segs: []Segment{{Name: "BAD", Members: []landmarks.Index{landmarks.LeftHip, landmarks.Index(99)}}},
		},
		{
			name: "single member",
			segs: []Segment{{Name: "LONELY", Members: []landmarks.Index{landmarks.LeftHip}}},
		},
		{
			name: "duplicate name",
			segs: []Segment{
				{Name: "HIPS", Members: []landmarks.Index{landmarks.LeftHip, landmarks.RightHip}},
				{Name: "HIPS", Members: []landmarks.Index{landmarks.LeftHip, landmarks.RightHip}},
			},
		},
		{
			name: "empty name",
			segs: []Segment{{Members: []landmarks.Index{landmarks.LeftHip, landmarks.RightHip}}},
		},
		{
			name:   "joint with unknown index",
			joints: []Joint{{Name: "BAD", A: landmarks.LeftHip, Vertex: landmarks.Index(-3), C: landmarks.LeftKnee}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(tt.segs, tt.joints)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, ErrInvariantViolation)
		})
	}
}

func TestMustLoadPanicsAtLoadTime(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad([]Segment{{Name: "BAD", Members: []landmarks.Index{landmarks.Index(40), landmarks.Nose}}}, nil)
	})
}

func TestLoadCopiesMembers(t *testing.T) {
	members := []landmarks.Index{landmarks.LeftHip, landmarks.RightHip}
	c, err := Load([]Segment{{Name: "HIPS", Members: members}}, nil)
	require.NoError(t, err)

	members[0] = landmarks.Nose

	s, _ := c.Segment("HIPS")
	assert.Equal(t, landmarks.LeftHip, s.Members[0])
}

func TestJointAngle(t *testing.T) {
	s := landmarks.NewSnapshot(time.Time{})
	s.Landmarks[landmarks.LeftShoulder] = landmarks.Landmark{X: 0.5, Y: 0.2}
	s.Landmarks[landmarks.LeftElbow] = landmarks.Landmark{X: 0.5, Y: 0.4}
	s.Landmarks[landmarks.LeftWrist] = landmarks.Landmark{X: 0.7, Y: 0.4}

	elbow := Joint{Name: "LEFT_ELBOW", A: landmarks.LeftShoulder, Vertex: landmarks.LeftElbow, C: landmarks.LeftWrist}

	deg, ok := elbow.Angle(s)
	require.True(t, ok)
	assert.InDelta(t, 90.0, deg, 1e-9)

	// Straight arm
	s.Landmarks[landmarks.LeftWrist] = landmarks.Landmark{X: 0.5, Y: 0.6}
	deg, ok = elbow.Angle(s)
	require.True(t, ok)
	assert.InDelta(t, 180.0, deg, 1e-9)

	// Degenerate: wrist on top of elbow
	s.Landmarks[landmarks.LeftWrist] = landmarks.Landmark{X: 0.5, Y: 0.4}
	_, ok = elbow.Angle(s)
	assert.False(t, ok)

	delete(s.Landmarks, landmarks.LeftWrist)
	_, ok = elbow.Angle(s)
	assert.False(t, ok)
}
