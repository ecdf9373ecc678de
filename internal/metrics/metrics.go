package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_scheduler_tasks_submitted_total",
		Help: "Tasks accepted by the runtime scheduler.",
	})
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_scheduler_tasks_finished_total",
		Help: "Tasks finished by outcome (ok|error|panic|cancelled).",
	}, []string{"outcome"})
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_scheduler_task_duration_seconds",
		Help:    "Task run time.",
		Buckets: prometheus.DefBuckets,
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_scheduler_queue_depth",
		Help: "Tasks waiting for a worker.",
	})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_dispatch_events_total",
		Help: "Inbound events by dispatch result (routed|unmatched|malformed|rejected|dropped).",
	}, []string{"result"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_order_transitions_total",
		Help: "Order state transitions.",
	}, []string{"from", "to"})
	DuplicateCallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_order_duplicate_callbacks_total",
		Help: "Approval callbacks answered from the stored result.",
	})
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_gateway_calls_total",
		Help: "Payment gateway calls by operation and outcome.",
	}, []string{"op", "outcome"})
	OrdersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_evicted_total",
		Help: "Terminal orders evicted from memory after retention.",
	})
)
