package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studycore",
			Subsystem: "engine",
			Name:      "loads_total",
			Help:      "Model load attempts by purpose and result",
		},
		[]string{"purpose", "result"},
	)
	unloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studycore",
			Subsystem: "engine",
			Name:      "unloads_total",
			Help:      "Model unloads by purpose and reason",
		},
		[]string{"purpose", "reason"},
	)
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studycore",
			Subsystem: "engine",
			Name:      "calls_total",
			Help:      "Generation and embedding calls by kind and result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, unloadsTotal, callsTotal)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
