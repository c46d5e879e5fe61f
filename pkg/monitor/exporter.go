package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	monitors   = map[string]*Monitor{}
	monitorsMu sync.RWMutex

	avgTimeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "app_monitor_avg_time_ms",
		Help: "Average processing time in milliseconds for monitor",
	}, []string{"monitor"})

	successRateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "app_monitor_success_rate",
		Help: "Success rate (0..1) for monitor",
	}, []string{"monitor"})

	countGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "app_monitor_count",
		Help: "Number of samples in sliding window for monitor",
	}, []string{"monitor"})

	RouterSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "routergate_router_sessions",
		Help: "Live RouterOS API sessions per manager",
	}, []string{"manager"})

	RouterCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routergate_router_commands_total",
		Help: "RouterOS commands by outcome",
	}, []string{"outcome"})

	TerminalChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routergate_terminal_channels",
		Help: "Open terminal relays",
	})
)

func init() {
	prometheus.MustRegister(avgTimeGauge, successRateGauge, countGauge)
	prometheus.MustRegister(RouterSessions, RouterCommands, TerminalChannels)
}

// registerMonitor registers a monitor for metric collection.
func registerMonitor(m *Monitor) {
	if m == nil {
		return
	}
	monitorsMu.Lock()
	defer monitorsMu.Unlock()
	monitors[m.name] = m
}

// For returns the registered monitor called name, creating and starting it
// on first use.
func For(name string) *Monitor {
	monitorsMu.RLock()
	m, ok := monitors[name]
	monitorsMu.RUnlock()
	if ok {
		return m
	}

	monitorsMu.Lock()
	defer monitorsMu.Unlock()
	if m, ok = monitors[name]; ok {
		return m
	}
	m = NewMonitor(name, 200, 60000)
	monitors[name] = m
	m.Run()
	return m
}

// Register adds an existing monitor to collection and starts it.
func Register(m *Monitor) {
	registerMonitor(m)
	m.Run()
}

// Remove stops exporting name.
func Remove(name string) {
	monitorsMu.Lock()
	delete(monitors, name)
	monitorsMu.Unlock()
	avgTimeGauge.DeleteLabelValues(name)
	successRateGauge.DeleteLabelValues(name)
	countGauge.DeleteLabelValues(name)
}

// CollectMetrics samples all registered monitors and updates Prometheus gauges.
func CollectMetrics() {
	monitorsMu.RLock()
	defer monitorsMu.RUnlock()
	for name, m := range monitors {
		avg, succ, cnt := m.GetStats()
		avgTimeGauge.WithLabelValues(name).Set(avg)
		successRateGauge.WithLabelValues(name).Set(succ)
		countGauge.WithLabelValues(name).Set(float64(cnt))
	}
}

// StartSampler refreshes the gauges every interval until ctx is done.
func StartSampler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				CollectMetrics()
			}
		}
	}()
}

// Handler returns an http.Handler that serves Prometheus metrics, for mounting
// into gin.
func Handler() http.Handler {
	return promhttp.Handler()
}
