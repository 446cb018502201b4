package tasks

import "github.com/prometheus/client_golang/prometheus"

var (
	finishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studycore",
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Tasks that reached a terminal status",
		},
		[]string{"status"},
	)
	pendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "studycore",
			Subsystem: "tasks",
			Name:      "pending",
			Help:      "Tasks waiting for the worker",
		},
	)
)

func init() {
	prometheus.MustRegister(finishedTotal, pendingGauge)
}
