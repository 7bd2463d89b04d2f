// Package metrics exposes the counters operators watch to catch
// reconciliation drift: finalizations by outcome, detected duplicates,
// refund redeliveries, and the one counter that should stay at zero —
// refunds that could not even be re-enqueued.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pixelmint",
		Name:      "jobs_finalized_total",
		Help:      "Generation jobs reaching a terminal state, by outcome.",
	}, []string{"outcome"})

	DuplicateFinalizations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixelmint",
		Name:      "duplicate_finalizations_total",
		Help:      "Terminal transitions attempted on already-terminal jobs (expected idempotency hits).",
	})

	RefundsRedelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixelmint",
		Name:      "refunds_redelivered_total",
		Help:      "Failure reconciliations handed to the durable retry queue.",
	})

	RefundEnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixelmint",
		Name:      "refund_enqueue_failures_total",
		Help:      "Failed refunds that could not be re-enqueued. Alert if nonzero.",
	})

	UnmatchedCallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pixelmint",
		Name:      "unmatched_callbacks_total",
		Help:      "Provider callbacks whose task id matched no local job.",
	})
)
