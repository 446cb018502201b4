package retrieval

import "github.com/prometheus/client_golang/prometheus"

var (
	retrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studycore_retrieval_requests_total",
			Help: "Retrieve calls by outcome.",
		},
		[]string{"result"},
	)
	retrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studycore_retrieval_duration_seconds",
			Help:    "Retrieve latency including query embedding.",
			Buckets: prometheus.DefBuckets,
		},
	)
	embeddingCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studycore_retrieval_embedding_cache_hits_total",
			Help: "Query embeddings served from cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(retrievalsTotal, retrievalDuration, embeddingCacheHits)
}
