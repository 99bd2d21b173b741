// Package similarity scores how closely a live pose matches a stored target.
//
// # Algorithm
//
//  1. Only the 12 core landmarks are evaluated (shoulders, elbows, wrists,
//     hips, knees, ankles). Face and extremities are noisier and matter less
//     for whole-body matching.
//  2. For every core index present in both poses the planar distance
//     d = sqrt(Δx² + Δy²) is computed. Depth (z) is ignored: it is the
//     noisiest axis from a single camera. Forward/backward lean is therefore
//     invisible to the score (known limitation).
//  3. Per-feature score = clamp(0, 100, (1 - d*k) * 100), k = Sensitivity
//     (default 2, so d = 0.5 already scores 0).
//  4. Overall = mean of the per-feature scores; 0 when nothing is shared.
//  5. Per-segment = mean over the evaluated members of each catalog segment;
//     segments without evaluated members are omitted.
//  6. Matched = Overall >= threshold.
//
// # Reliability
//
// Match runs on every loop tick. It never panics and never returns an error:
// missing or unusable input yields a zeroed Result. Cost is bounded by the
// fixed core set; there is no allocation beyond the two result maps.
package similarity
