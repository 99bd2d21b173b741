// Package landmarks defines the body landmark model shared by every stage of
// the pose-matching pipeline and derives the synthetic joints the pose source
// does not supply.
//
// # Model
//
// A Snapshot is a partial mapping from Index to Landmark captured at one
// instant. The 33 standard indices follow the BlazePose topology (NOSE=0 …
// RIGHT_FOOT_INDEX=32). Two synthetic indices are appended:
//
//	PELVIS       (33) midpoint of the hips
//	SOLAR_PLEXIS (34) heuristic torso point, see Enrich
//
// Coordinates are normalized to the frame (x, y in 0..1, z relative depth).
// Visibility is the pose source's confidence in 0..1.
//
// # Immutability Contract
//
// Enrich never mutates its input. The pose source typically reuses its
// landmark buffer between frames, so every consumer that keeps a snapshot
// past the callback MUST hold its own copy (Clone or Enrich output).
//
// # Data Flow
//
//	pose source → Enrich → capture (posestore) or comparison (similarity)
package landmarks
