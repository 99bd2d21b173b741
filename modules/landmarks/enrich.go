package landmarks

import "math"

// solarPlexisFactor places SOLAR_PLEXIS along the torso. It is a tuned
// heuristic applied to the sum of shoulder and hip y, not a midpoint.
const solarPlexisFactor = 0.6

// faceSubset is averaged by FaceDepth.
var faceSubset = []Index{
	Nose,
	LeftEyeInner, LeftEye, LeftEyeOuter,
	RightEyeInner, RightEye, RightEyeOuter,
	LeftEar, RightEar,
	MouthLeft, MouthRight,
}

// Enrich returns a new snapshot with the synthetic PELVIS and SOLAR_PLEXIS
// points derived from the delivered ones.
//
// Placement:
//   - PELVIS: (x, y) midpoint of LEFT_HIP and RIGHT_HIP
//   - SOLAR_PLEXIS: x = PELVIS.x, y = (LEFT_SHOULDER.y + LEFT_HIP.y) * 0.6
//
// Synthetic z is the mean of the contributing z values and visibility the
// minimum of the contributing visibilities. A synthetic point whose inputs
// are missing is left out.
//
// Points with a non-finite x or y are dropped; a non-finite z or visibility
// becomes 0. The result can therefore be empty even for non-empty input.
//
// Nil or empty input is returned as-is. The input is never mutated.
func Enrich(s *Snapshot) *Snapshot {
	if s.IsEmpty() {
		return s
	}

	out := s.Clone()
	for i, l := range out.Landmarks {
		if !finite(l.X) || !finite(l.Y) {
			delete(out.Landmarks, i)
			continue
		}
		if !finite(l.Z) {
			l.Z = 0
		}
		if !finite(l.Visibility) {
			l.Visibility = 0
		}
		out.Landmarks[i] = l
	}

	lh, okL := out.Landmarks[LeftHip]
	rh, okR := out.Landmarks[RightHip]
	if !okL || !okR {
		delete(out.Landmarks, Pelvis)
		delete(out.Landmarks, SolarPlexis)
		return out
	}

	pelvis := Landmark{
		X:          (lh.X + rh.X) / 2,
		Y:          (lh.Y + rh.Y) / 2,
		Z:          (lh.Z + rh.Z) / 2,
		Visibility: math.Min(lh.Visibility, rh.Visibility),
	}
	out.Landmarks[Pelvis] = pelvis

	ls, ok := out.Landmarks[LeftShoulder]
	if !ok {
		delete(out.Landmarks, SolarPlexis)
		return out
	}
	out.Landmarks[SolarPlexis] = Landmark{
		X:          pelvis.X,
		Y:          (ls.Y + lh.Y) * solarPlexisFactor,
		Z:          (ls.Z + lh.Z) / 2,
		Visibility: math.Min(ls.Visibility, lh.Visibility),
	}

	return out
}

// FaceDepth averages z across the face landmarks present in s.
// Returns 0 when none are present. Diagnostic only; matching ignores depth.
func FaceDepth(s *Snapshot) float64 {
	var sum float64
	var n int
	for _, i := range faceSubset {
		if l, ok := s.Get(i); ok {
			sum += l.Z
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
