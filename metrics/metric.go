package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	GRPCMetrics = grpcprometheus.NewServerMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = "KVServer"
		},
	)

	CacheKeyHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "KVServer",
		Name:      "cache_key_hits_total",
		Help:      "Point lookups that found a live entry.",
	})

	CacheKeyMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "KVServer",
		Name:      "cache_key_misses_total",
		Help:      "Point lookups that found nothing or a tombstone.",
	})

	RemoteLookupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "KVServer",
		Name:      "remote_lookup_errors_total",
		Help:      "Failed remote shard lookup calls.",
	})

	UDFExecutionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "KVServer",
		Name:      "udf_execution_seconds",
		Help:      "Wall time of one UDF invocation.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
	})

	DeltaRecordsLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "KVServer",
		Name:      "delta_records_loaded_total",
		Help:      "Records applied from delta files.",
	})
)

func init() {
	Registry.MustRegister(
		GRPCMetrics,
		CacheKeyHits,
		CacheKeyMisses,
		RemoteLookupErrors,
		UDFExecutionLatency,
		DeltaRecordsLoaded,
	)
	GRPCMetrics.EnableHandlingTimeHistogram(
		func(h *prometheus.HistogramOpts) {
			h.Namespace = "KVServer"
		},
	)
}
