package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewSettingsCacheMetrics exposes the number of cached subscriber settings.
// size is read at scrape time.
func NewSettingsCacheMetrics(reg prometheus.Registerer, size func() int) prometheus.GaugeFunc {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "settings_cache",
		Name:      "entries",
		Help:      "Number of subscriber settings held in the local cache.",
	}, func() float64 { return float64(size()) })

	reg.MustRegister(g)
	return g
}
