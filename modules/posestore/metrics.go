package posestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var posesStored = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "posematch_poses_stored",
	Help: "Number of target poses in the active library",
})
