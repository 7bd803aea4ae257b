// Package metrics exposes the broker's Prometheus metrics and a periodic
// process resource sampler, both purely observational: nothing in this
// package gates admission or delays delivery.
package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics bundles every counter/gauge the broker records.
type Metrics struct {
	ConnectionsTotal    prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	LoginsRejected      prometheus.Counter
	Disconnects         prometheus.Counter
	SessionsTotal       prometheus.Gauge
	DatagramsReceived   prometheus.Counter
	DatagramsMalformed  prometheus.Counter
	DatagramsRateLimited prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationErrors  prometheus.Counter
	SubscribeCommands   prometheus.Counter
	UnsubscribeCommands prometheus.Counter
	AdminCommands       *prometheus.CounterVec
	ProcessRSSBytes     prometheus.Gauge
	ProcessCPUPercent   prometheus.Gauge
}

// New registers every broker metric against a fresh registry and returns
// both, the way the teacher's metrics.go groups its prometheus.New* calls.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_connections_total",
			Help: "Total subscriber stream connections accepted.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_connections_active",
			Help: "Current number of subscriber streams with an active session.",
		}),
		LoginsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_logins_rejected_total",
			Help: "Total logins rejected because the identifier already has an active stream.",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_disconnects_total",
			Help: "Total subscriber stream disconnects.",
		}),
		SessionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_sessions_total",
			Help: "Total known client identifiers, active or inactive.",
		}),
		DatagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_datagrams_received_total",
			Help: "Total UDP datagrams read from the ingest socket.",
		}),
		DatagramsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_datagrams_malformed_total",
			Help: "Total datagrams dropped for failing the fixed-layout decode.",
		}),
		DatagramsRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_datagrams_rate_limited_total",
			Help: "Total datagrams dropped by the ingest rate limiter.",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_notifications_sent_total",
			Help: "Total notification frames written to subscriber streams.",
		}),
		NotificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_notification_errors_total",
			Help: "Total notification writes that failed, disconnecting the subscriber.",
		}),
		SubscribeCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_subscribe_commands_total",
			Help: "Total subscribe commands processed.",
		}),
		UnsubscribeCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_unsubscribe_commands_total",
			Help: "Total unsubscribe commands processed.",
		}),
		AdminCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_admin_commands_total",
			Help: "Total admin console commands by recognized/unlisted.",
		}, []string{"recognized"}),
		ProcessRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_process_rss_bytes",
			Help: "Resident set size of the broker process, sampled periodically.",
		}),
		ProcessCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_process_cpu_percent",
			Help: "CPU percent of the broker process, sampled periodically.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsTotal, m.ConnectionsActive, m.LoginsRejected, m.Disconnects,
		m.SessionsTotal, m.DatagramsReceived, m.DatagramsMalformed, m.DatagramsRateLimited,
		m.NotificationsSent, m.NotificationErrors, m.SubscribeCommands, m.UnsubscribeCommands,
		m.AdminCommands, m.ProcessRSSBytes, m.ProcessCPUPercent,
	)

	return m, reg
}

// Serve starts the metrics HTTP endpoint and blocks until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// SampleProcess periodically logs and records this process's RSS and CPU
// usage until ctx is done. It never influences admission or delivery
// decisions; it exists purely for operators watching dashboards.
func SampleProcess(ctx context.Context, interval time.Duration, m *Metrics, logger zerolog.Logger) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("process resource sampling disabled: could not open self process handle")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if memInfo, err := proc.MemoryInfo(); err == nil {
				m.ProcessRSSBytes.Set(float64(memInfo.RSS))
			}
			if cpuPercent, err := proc.CPUPercent(); err == nil {
				m.ProcessCPUPercent.Set(cpuPercent)
				logger.Debug().
					Float64("rss_mb", float64(mustRSS(proc))/1024/1024).
					Float64("cpu_percent", cpuPercent).
					Msg("process sample")
			}
		}
	}
}

func mustRSS(proc *process.Process) uint64 {
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return 0
	}
	return memInfo.RSS
}
