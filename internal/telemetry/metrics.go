package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "elms"

var (
	lmsRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lmsapi",
		Name:      "request_duration_seconds",
		Help:      "Duration of requests sent to the LMS API.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "status"})

	attemptsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "attempt",
		Name:      "started_total",
		Help:      "Attempts started.",
	})

	attemptsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "attempt",
		Name:      "finished_total",
		Help:      "Attempts submitted and graded, by what triggered the submission.",
	}, []string{"trigger"})

	submissionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "attempt",
		Name:      "submission_failures_total",
		Help:      "Submissions that failed and left the attempt active.",
	})

	attemptsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "attempt",
		Name:      "abandoned_total",
		Help:      "Attempts dropped without submission.",
	})

	activeViews = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "view",
		Name:      "active",
		Help:      "Mounted quiz views.",
	})

	eventFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "handler_failures_total",
		Help:      "Event handlers that returned an error or panicked.",
	}, []string{"event"})
)

func ObserveLMSRequest(op, status string, d time.Duration) {
	lmsRequestDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

func AttemptStarted() { attemptsStarted.Inc() }

func AttemptFinished(trigger string) { attemptsFinished.WithLabelValues(trigger).Inc() }

func SubmissionFailed() { submissionsFailed.Inc() }

func AttemptAbandoned() { attemptsAbandoned.Inc() }

func ViewMounted() { activeViews.Inc() }

func ViewUnmounted() { activeViews.Dec() }

func EventHandlerFailed(event string) { eventFailures.WithLabelValues(event).Inc() }
