package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "testomatio_reporter"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "requests_total",
		Help:      "Count of HTTP requests issued by pipes, by final status code",
	}, []string{
		"pipe",
		"method",
		"code",
	})

	requestFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "request_failures_total",
		Help:      "Count of requests that failed after all retries",
	}, []string{
		"pipe",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "request_retries_total",
		Help:      "Count of request retries",
	}, []string{
		"pipe",
	})

	batchesFlushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "batches_flushed_total",
		Help:      "Count of test batches sent",
	}, []string{
		"pipe",
	})

	testsReportedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_reported_total",
		Help:      "Count of tests delivered to a pipe, by status",
	}, []string{
		"pipe",
		"status",
	})

	testsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_dropped_total",
		Help:      "Count of tests not reported because reporting was canceled",
	}, []string{
		"pipe",
	})

	artifactsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "artifacts_total",
		Help:      "Count of artifact uploads, by result",
	}, []string{
		"result",
	})
)

// RecordRequest records a finished request; code 0 means no response.
func RecordRequest(pipe, method string, code int) {
	requestsTotal.WithLabelValues(pipe, method, strconv.Itoa(code)).Inc()
}

func RecordRequestFailure(pipe string) {
	requestFailuresTotal.WithLabelValues(pipe).Inc()
}

func RecordRetry(pipe string) {
	retriesTotal.WithLabelValues(pipe).Inc()
}

func RecordBatch(pipe string, size int) {
	batchesFlushedTotal.WithLabelValues(pipe).Inc()
	testsReportedTotal.WithLabelValues(pipe, "batched").Add(float64(size))
}

func RecordTest(pipe, status string) {
	if status == "" {
		status = "update"
	}
	testsReportedTotal.WithLabelValues(pipe, status).Inc()
}

func RecordDroppedTest(pipe string) {
	testsDroppedTotal.WithLabelValues(pipe).Inc()
}

func RecordArtifact(ok bool) {
	result := "uploaded"
	if !ok {
		result = "failed"
	}
	artifactsTotal.WithLabelValues(result).Inc()
}
