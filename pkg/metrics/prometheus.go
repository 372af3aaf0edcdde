// Package metrics exposes the Prometheus collector for loan operations.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	loansCreated       prometheus.Counter
	paymentsRecorded   prometheus.Counter
	paymentsRejected   prometheus.Counter
	overdueTransitions prometheus.Counter
	paymentAmount      prometheus.Histogram
	outstandingTotal   prometheus.Gauge
	loansByStatus      *prometheus.GaugeVec

	logger *slog.Logger
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		loansCreated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "loans_created_total",
			Help: "Total number of loans created",
		}),
		paymentsRecorded: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "payments_recorded_total",
			Help: "Total number of payments recorded",
		}),
		paymentsRejected: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "payments_rejected_total",
			Help: "Total number of payments rejected (overpayment or validation)",
		}),
		overdueTransitions: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "loans_overdue_transitions_total",
			Help: "Total number of loans that transitioned to overdue",
		}),
		paymentAmount: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_amount",
			Help:    "Distribution of recorded payment amounts",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
		}),
		outstandingTotal: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_outstanding_principal",
			Help: "Sum of outstanding principal across the portfolio",
		}),
		loansByStatus: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "loans_by_status",
			Help: "Number of loans per status",
		}, []string{"status"}),
		logger: logger,
	}
}

func (c *Collector) LoanCreated()             { c.loansCreated.Inc() }
func (c *Collector) PaymentRejected()         { c.paymentsRejected.Inc() }
func (c *Collector) OverdueTransition()       { c.overdueTransitions.Inc() }
func (c *Collector) SetOutstanding(v float64) { c.outstandingTotal.Set(v) }

func (c *Collector) PaymentRecorded(amount float64) {
	c.paymentsRecorded.Inc()
	c.paymentAmount.Observe(amount)
}

func (c *Collector) SetLoansByStatus(status string, count int) {
	c.loansByStatus.WithLabelValues(status).Set(float64(count))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on its own listener.
func (c *Collector) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		c.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return server
}
