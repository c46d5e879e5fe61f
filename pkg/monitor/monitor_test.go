package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_WindowStats(t *testing.T) {
	m := NewMonitor("t", 3, 60000)
	now := time.Now().UnixMilli()

	m.insert(Task{sTime: now - 10, lTime: now, success: true}, now)
	m.insert(Task{sTime: now - 30, lTime: now, success: false}, now)
	avg, rate, n := m.GetStats()
	assert.Equal(t, 2, n)
	assert.InDelta(t, 20, avg, 0.001)
	assert.InDelta(t, 0.5, rate, 0.001)

	// ring overflow drops the oldest sample
	m.insert(Task{sTime: now - 5, lTime: now, success: true}, now)
	m.insert(Task{sTime: now - 5, lTime: now, success: true}, now)
	avg, rate, n = m.GetStats()
	assert.Equal(t, 3, n)
	assert.InDelta(t, 40.0/3, avg, 0.001)
	assert.InDelta(t, 2.0/3, rate, 0.001)
}

func TestMonitor_EvictsOldSamples(t *testing.T) {
	m := NewMonitor("t", 10, 1000)
	now := time.Now().UnixMilli()
	m.insert(Task{sTime: now - 5000, lTime: now - 4000, success: true}, now-4000)
	m.insert(Task{sTime: now - 10, lTime: now, success: false}, now)

	_, rate, n := m.GetStats()
	assert.Equal(t, 1, n)
	assert.Zero(t, rate)
}

func TestMonitor_RunAndCollect(t *testing.T) {
	InitMonitor()
	defer Shutdown()

	m := For("router:test")
	assert.Same(t, m, For("router:test"))

	m.Observe(15*time.Millisecond, true)
	require.Eventually(t, func() bool {
		_, _, n := m.GetStats()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	CollectMetrics()
	assert.InDelta(t, 1.0, testutil.ToFloat64(successRateGauge.WithLabelValues("router:test")), 0.001)

	Remove("router:test")
	monitorsMu.RLock()
	_, ok := monitors["router:test"]
	monitorsMu.RUnlock()
	assert.False(t, ok)
}

func TestMonitor_CompleteTaskNeverBlocks(t *testing.T) {
	m := NewMonitor("t", 1, 1000)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.CompleteTask(NewTask(), true)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CompleteTask blocked without a running loop")
	}
}
