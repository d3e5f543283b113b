package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecatforge/ecatd/pkg/fieldbus"
)

// telemetry exposes the master statistics over a prometheus endpoint.
// Strictly read side, it never touches the bus.
type telemetry struct {
	logger *slog.Logger
	server *http.Server
}

func newTelemetry(listen string, master *fieldbus.Master, clients *clientTable, logger *slog.Logger) *telemetry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ecatd_bus_active", Help: "Whether the bus is exchanging process data."},
		func() float64 {
			if master.Active() {
				return 1
			}
			return 0
		}))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ecatd_slaves", Help: "Slaves on the running bus, zero while inactive."},
		func() float64 { return float64(master.SlaveCount()) }))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ecatd_clients_active", Help: "Operator peers currently tracked."},
		func() float64 { return float64(clients.activeCount()) }))
	registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: "ecatd_cycles_total", Help: "Completed cyclic exchanges."},
		func() float64 { return float64(master.TimingStats().CyclesTotal) }))
	registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: "ecatd_cycles_missed_total", Help: "Cycle deadlines missed."},
		func() float64 { return float64(master.TimingStats().CyclesMissed) }))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ecatd_cycle_avg_us", Help: "Average cycle duration in microseconds."},
		func() float64 { return float64(master.TimingStats().AvgCycleUs) }))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ecatd_cycle_jitter_us", Help: "Cycle jitter in microseconds."},
		func() float64 { return float64(master.TimingStats().JitterUs) }))
	registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: "ecatd_working_counter_errors_total", Help: "Cyclic exchanges with a bad working counter."},
		func() float64 { return float64(master.ErrorStats().WorkingCounterErrors) }))
	registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: "ecatd_frame_errors_total", Help: "Bus frame errors."},
		func() float64 { return float64(master.ErrorStats().FrameErrors) }))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &telemetry{
		logger: logger.With("service", "[TELE]"),
		server: &http.Server{Addr: listen, Handler: mux},
	}
}

func (t *telemetry) start() {
	t.logger.Info("telemetry listening", "addr", t.server.Addr)
	go func() {
		err := t.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("telemetry server failed", "err", err)
		}
	}()
}

func (t *telemetry) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Warn("telemetry shutdown", "err", err)
	}
}
