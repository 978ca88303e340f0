package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_placed_total",
		Help: "Orders committed by checkout",
	})

	checkoutRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_rejected_total",
		Help: "Checkouts rolled back, by reason",
	}, []string{"reason"})

	paymentsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payments_resolved_total",
		Help: "Payment sources that reached a terminal result",
	}, []string{"result"})

	ordersSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_swept_total",
		Help: "Unpaid orders cancelled by the abandoned-payment sweep",
	})

	bestEffortFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_best_effort_failures_total",
		Help: "Post-commit tasks (events, notifications, invoices) that failed",
	}, []string{"task"})
)
