package similarity

import (
	"math"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
	"github.com/e7canasta/orion-posematch/modules/segments"
)

// DefaultSensitivity is the empirically tuned distance multiplier k.
const DefaultSensitivity = 2.0

// CorePoints is the fixed evaluation set.
var CorePoints = []landmarks.Index{
	landmarks.LeftShoulder, landmarks.RightShoulder,
	landmarks.LeftElbow, landmarks.RightElbow,
	landmarks.LeftWrist, landmarks.RightWrist,
	landmarks.LeftHip, landmarks.RightHip,
	landmarks.LeftKnee, landmarks.RightKnee,
	landmarks.LeftAnkle, landmarks.RightAnkle,
}

// Result is one comparison outcome. It is fully populated on every path and
// must be treated as immutable once returned.
type Result struct {
	Overall      float64            `json:"overall"`
	Matched      bool               `json:"matched"`
	ThresholdPct float64            `json:"thresholdPct"`
	PerFeature   map[string]float64 `json:"perFeature"`
	PerSegment   map[string]float64 `json:"perSegment"`
}

// Zero returns the result used for missing or unusable input.
func Zero(thresholdPct float64) Result {
	return Result{
		ThresholdPct: thresholdPct,
		PerFeature:   map[string]float64{},
		PerSegment:   map[string]float64{},
	}
}

// Config tunes the engine.
type Config struct {
	// Sensitivity is k in (1 - d*k). Non-positive values fall back to the default.
	Sensitivity float64 `yaml:"sensitivity"`
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{Sensitivity: DefaultSensitivity}
}

// Engine compares snapshots. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	sensitivity float64
	catalog     *segments.Catalog
}

// NewEngine builds an engine. A nil catalog selects segments.Default().
func NewEngine(cfg Config, catalog *segments.Catalog) *Engine {
	k := cfg.Sensitivity
	if !(k > 0) || math.IsInf(k, 0) {
		k = DefaultSensitivity
	}
	if catalog == nil {
		catalog = segments.Default()
	}
	return &Engine{sensitivity: k, catalog: catalog}
}

// Sensitivity returns the effective k.
func (e *Engine) Sensitivity() float64 {
	return e.sensitivity
}

// Match scores live against target. See the package documentation.
func (e *Engine) Match(live, target *landmarks.Snapshot, thresholdPct float64) Result {
	if live.IsEmpty() || target.IsEmpty() {
		return Zero(thresholdPct)
	}

	scores := make(map[landmarks.Index]float64, len(CorePoints))
	var sum float64
	for _, i := range CorePoints {
		l, okL := live.Get(i)
		t, okT := target.Get(i)
		if !okL || !okT || !l.Finite() || !t.Finite() {
			continue
		}
		s := e.featureScore(math.Hypot(l.X-t.X, l.Y-t.Y))
		scores[i] = s
		sum += s
	}

	if len(scores) == 0 {
		return Zero(thresholdPct)
	}

	res := Result{
		ThresholdPct: thresholdPct,
		PerFeature:   make(map[string]float64, len(scores)),
		PerSegment:   make(map[string]float64),
	}
	for i, s := range scores {
		res.PerFeature[i.String()] = s
	}
	res.Overall = sum / float64(len(scores))
	res.Matched = res.Overall >= thresholdPct

	for _, seg := range e.catalog.Segments() {
		var segSum float64
		var n int
		for _, m := range seg.Members {
			if s, ok := scores[m]; ok {
				segSum += s
				n++
			}
		}
		if n > 0 {
			res.PerSegment[seg.Name] = segSum / float64(n)
		}
	}

	return res
}

func (e *Engine) featureScore(d float64) float64 {
	return clamp((1-d*e.sensitivity)*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

var defaultEngine = NewEngine(DefaultConfig(), nil)

// Match scores with the default engine.
func Match(live, target *landmarks.Snapshot, thresholdPct float64) Result {
	return defaultEngine.Match(live, target, thresholdPct)
}

// Changed reports whether next differs meaningfully from prev: the overall
// score moved by at least delta or the matched flag flipped. A nil prev
// always counts as changed.
func Changed(prev *Result, next Result, delta float64) bool {
	if prev == nil {
		return true
	}
	if prev.Matched != next.Matched {
		return true
	}
	return math.Abs(next.Overall-prev.Overall) >= delta
}
