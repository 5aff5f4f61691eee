package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_admission_requests_total",
		Help: "Total number of voucher admission attempts",
	})

	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seckill_admission_rejections_total",
		Help: "Admission attempts rejected, by reason",
	}, []string{"reason"})

	VoucherStockLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "seckill_voucher_stock_level",
		Help: "Current voucher stock level in Redis",
	}, []string{"voucher_id"})

	OrdersPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_orders_persisted_total",
		Help: "Orders durably written by the fulfillment worker",
	})

	PendingRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_pending_recovered_total",
		Help: "Queue entries reprocessed by the pending-list recovery sweep",
	})

	OrdersDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_orders_dead_lettered_total",
		Help: "Queue entries forwarded to the dead letter topic",
	})
)
