package memory

import "github.com/prometheus/client_golang/prometheus"

var (
	availableMBGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studycore",
		Subsystem: "memory",
		Name:      "available_mb",
		Help:      "Available physical memory in MB at the last poll",
	})
	effectiveMBGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studycore",
		Subsystem: "memory",
		Name:      "effective_available_mb",
		Help:      "Available memory plus half of free swap, in MB",
	})
	pressureGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studycore",
		Subsystem: "memory",
		Name:      "pressure",
		Help:      "Memory pressure level (0=normal, 1=moderate, 2=critical)",
	})
)

func init() {
	prometheus.MustRegister(availableMBGauge, effectiveMBGauge, pressureGauge)
}

func observe(s Snapshot) {
	availableMBGauge.Set(float64(s.AvailableMB))
	effectiveMBGauge.Set(float64(s.EffectiveAvailableMB()))
	pressureGauge.Set(float64(s.Pressure))
}
