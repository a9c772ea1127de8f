package image

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for stage results.
const (
	resultCached = "cached"
	resultPulled = "pulled"
	resultBuilt  = "built"
	resultFailed = "failed"
)

var imageBuildsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ere_image_builds_total",
		Help: "Image stage outcomes by stage and result.",
	},
	[]string{"stage", "result"},
)

func init() {
	prometheus.MustRegister(imageBuildsTotal)
}
