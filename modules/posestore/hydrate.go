package posestore

import (
	"log/slog"
	"slices"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

// Report summarizes a Hydrate call.
type Report struct {
	Loaded  int
	Skipped []*DataError
}

// Hydrate rebuilds the library from persisted entries, replacing its
// contents. Tolerance precedence per pose: tolerances map, then the value
// inside the blob, then the default.
//
// Hydrate tolerates partial failure: an entry in neither the wrapped nor a
// legacy shape is skipped and reported, and the rest still loads.
func (s *Store) Hydrate(blobs map[string][]byte, tolerances map[string]float64) Report {
	ids := make([]string, 0, len(blobs))
	for id := range blobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	records := make(map[string]Record, len(blobs))
	var report Report

	for _, id := range ids {
		pose, blobTol, err := decodeBlob(blobs[id])
		if err != nil {
			derr := &DataError{PoseID: id, Err: err}
			report.Skipped = append(report.Skipped, derr)
			slog.Warn("skipping malformed pose entry",
				"pose_id", id,
				"error", err,
			)
			continue
		}

		tol := s.defaultTolerance
		if blobTol != nil {
			tol = clampPct(*blobTol, tol)
		}
		if ext, ok := tolerances[id]; ok {
			tol = clampPct(ext, tol)
		}

		records[id] = Record{Pose: landmarks.Enrich(pose), TolerancePct: tol}
	}

	s.mu.Lock()
	s.records = records
	posesStored.Set(float64(len(records)))
	s.mu.Unlock()

	report.Loaded = len(records)

	slog.Info("pose library hydrated",
		"loaded", report.Loaded,
		"skipped", len(report.Skipped),
	)

	return report
}
