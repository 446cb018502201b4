package download

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studycore_download_attempts_total",
			Help: "Download attempts by outcome.",
		},
		[]string{"result"},
	)
	bytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studycore_download_bytes_total",
			Help: "Bytes written by completed and partial downloads.",
		},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, bytesTotal)
}
