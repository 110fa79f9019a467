package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	cutouts            *prometheus.CounterVec
	cutoutDuration     *prometheus.HistogramVec
	datalakeRead       *prometheus.HistogramVec
	datalakeBytes      *prometheus.CounterVec
	rowGroupsPruned    *prometheus.CounterVec
	decodeDuration     *prometheus.HistogramVec
	cacheOps           *prometheus.CounterVec
	cacheOpDuration    *prometheus.HistogramVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	invalidations      *prometheus.CounterVec
	invalidatedKeys    prometheus.Counter
	kafkaConsumerError *prometheus.CounterVec
	buildInfo          *prometheus.GaugeVec
}

var cur atomic.Pointer[collectors]

func init() {
	cur.Store(newCollectors(prometheus.DefaultRegisterer))
}

// Init rebinds all collectors to reg. With enabled=false the collectors are
// kept but not exported anywhere.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled {
		cur.Store(newCollectors(nil))
		return
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cur.Store(newCollectors(reg))
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func newCollectors(reg prometheus.Registerer) *collectors {
	latency := prometheus.ExponentialBuckets(0.005, 2, 12) // 5ms to ~20s

	return &collectors{
		httpRequests: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status", "schema"},
		)),
		httpDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: latency,
			},
			[]string{"method", "route", "status", "schema"},
		)),
		cutouts: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cutout_requests_total",
				Help: "Cutout retrievals by outcome.",
			},
			[]string{"schema", "kind", "format", "outcome"},
		)),
		cutoutDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cutout_duration_seconds",
				Help:    "End-to-end cutout retrieval latency.",
				Buckets: latency,
			},
			[]string{"schema", "format"},
		)),
		datalakeRead: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datalake_read_duration_seconds",
				Help:    "Latency of row fetches from the archive storage.",
				Buckets: latency,
			},
			[]string{"backend", "outcome"},
		)),
		datalakeBytes: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datalake_bytes_read_total",
				Help: "Bytes read from the archive storage.",
			},
			[]string{"backend"},
		)),
		rowGroupsPruned: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datalake_row_groups_pruned_total",
				Help: "Row groups skipped through bloom filters.",
			},
			[]string{"backend"},
		)),
		decodeDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stamp_decode_duration_seconds",
				Help:    "Latency of stamp decoding.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"format", "result"},
		)),
		cacheOps: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_op_total",
				Help: "Cache operations by result.",
			},
			[]string{"op", "tier", "result"},
		)),
		cacheOpDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_operation_duration_seconds",
				Help:    "Latency of cache operations.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op", "tier"},
		)),
		cacheHits: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cutout_cache_hits_total",
				Help: "Stamp payloads served from cache.",
			},
			[]string{"tier"},
		)),
		cacheMisses: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cutout_cache_misses_total",
				Help: "Stamp payloads not found in cache.",
			},
			[]string{"tier"},
		)),
		invalidations: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_invalidations_total",
				Help: "Processed invalidation events.",
			},
			[]string{"op", "result"},
		)),
		invalidatedKeys: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_invalidated_keys_total",
				Help: "Cache keys removed by invalidation events.",
			},
		)),
		kafkaConsumerError: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_consumer_errors_total",
				Help: "Kafka consumer errors by kind.",
			},
			[]string{"kind"},
		)),
		buildInfo: register(reg, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "app_build_info",
				Help: "Build information for the binary.",
			},
			[]string{"version"},
		)),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route, schema string, status int, durationSeconds float64) {
	c := cur.Load()
	st := strconv.Itoa(status)
	c.httpRequests.WithLabelValues(method, route, st, schema).Inc()
	c.httpDuration.WithLabelValues(method, route, st, schema).Observe(durationSeconds)
}

func ObserveCutout(schema, kind, format, outcome string, durationSeconds float64) {
	c := cur.Load()
	c.cutouts.WithLabelValues(schema, kind, format, outcome).Inc()
	c.cutoutDuration.WithLabelValues(schema, format).Observe(durationSeconds)
}

func ObserveDatalakeRead(backend, outcome string, durationSeconds float64, bytesRead int64) {
	c := cur.Load()
	c.datalakeRead.WithLabelValues(backend, outcome).Observe(durationSeconds)
	if bytesRead > 0 {
		c.datalakeBytes.WithLabelValues(backend).Add(float64(bytesRead))
	}
}

func AddRowGroupsPruned(backend string, n int) {
	if n <= 0 {
		return
	}
	cur.Load().rowGroupsPruned.WithLabelValues(backend).Add(float64(n))
}

func ObserveDecode(format string, err error, durationSeconds float64) {
	cur.Load().decodeDuration.WithLabelValues(format, result(err)).Observe(durationSeconds)
}

func ObserveCacheOp(op, tier string, err error, durationSeconds float64) {
	c := cur.Load()
	c.cacheOps.WithLabelValues(op, tier, result(err)).Inc()
	c.cacheOpDuration.WithLabelValues(op, tier).Observe(durationSeconds)
}

func AddCacheHits(tier string, n int) {
	if n > 0 {
		cur.Load().cacheHits.WithLabelValues(tier).Add(float64(n))
	}
}

func AddCacheMisses(tier string, n int) {
	if n > 0 {
		cur.Load().cacheMisses.WithLabelValues(tier).Add(float64(n))
	}
}

func ObserveInvalidation(op string, keys int, err error) {
	c := cur.Load()
	c.invalidations.WithLabelValues(op, result(err)).Inc()
	if keys > 0 {
		c.invalidatedKeys.Add(float64(keys))
	}
}

func IncKafkaConsumerError(kind string) {
	cur.Load().kafkaConsumerError.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	cur.Load().buildInfo.WithLabelValues(version).Set(1)
}
