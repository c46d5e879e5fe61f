package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	monitorCtx    context.Context
	monitorCancel context.CancelFunc
	ctxOnce       sync.Mutex
)

// Task is one timed operation.
type Task struct {
	sTime   int64
	lTime   int64
	success bool
}

// Monitor keeps a sliding window of recent tasks and reports the average
// latency and success rate over it.
type Monitor struct {
	name           string
	tasks          []Task
	count          int
	headindex      int
	tailindex      int
	maxLen         int
	windowdur      int64
	totalTimeCount int64
	successCount   int64
	rwmu           sync.RWMutex
	insertChan     chan Task
	dropped        int64
}

// NewMonitor creates a monitor holding at most maxLen samples no older than
// windowdur milliseconds.
func NewMonitor(name string, maxLen int, windowdur int64) *Monitor {
	if maxLen <= 0 {
		maxLen = 100
	}
	return &Monitor{
		name:       name,
		tasks:      make([]Task, maxLen),
		maxLen:     maxLen,
		windowdur:  windowdur,
		insertChan: make(chan Task, maxLen),
	}
}

func NewTask() *Task {
	return &Task{sTime: time.Now().UnixMilli()}
}

func (m *Monitor) Name() string { return m.name }

// CompleteTask records t. It never blocks the caller: when the window loop is
// behind, the sample is dropped.
func (m *Monitor) CompleteTask(t *Task, success bool) {
	if t == nil {
		return
	}
	t.lTime = time.Now().UnixMilli()
	t.success = success
	select {
	case m.insertChan <- *t:
	default:
		m.rwmu.Lock()
		m.dropped++
		m.rwmu.Unlock()
	}
}

// Observe records a task that took elapsed and finished now.
func (m *Monitor) Observe(elapsed time.Duration, success bool) {
	now := time.Now().UnixMilli()
	select {
	case m.insertChan <- Task{sTime: now - elapsed.Milliseconds(), lTime: now, success: success}:
	default:
		m.rwmu.Lock()
		m.dropped++
		m.rwmu.Unlock()
	}
}

func (m *Monitor) GetStats() (avgTime float64, successRate float64, count int) {
	m.rwmu.RLock()
	defer m.rwmu.RUnlock()
	if m.count == 0 {
		return 0, 0, 0
	}
	avgTime = float64(m.totalTimeCount) / float64(m.count)
	successRate = float64(m.successCount) / float64(m.count)
	count = m.count
	return
}

func (m *Monitor) Run() {
	ctx := baseContext()
	go func() {
		for {
			select {
			case <-ctx.Done():
				zap.L().Debug("monitor exiting", zap.String("monitor", m.name))
				return
			case t := <-m.insertChan:
				m.insert(t, time.Now().UnixMilli())
			}
		}
	}()
}

func (m *Monitor) insert(t Task, now int64) {
	m.rwmu.Lock()
	defer m.rwmu.Unlock()

	// evict samples that left the window
	for m.count > 0 {
		old := &m.tasks[m.headindex]
		if now-old.lTime < m.windowdur {
			break
		}
		m.evictHead()
	}
	// buffer full: overwrite the oldest
	if m.count == m.maxLen {
		m.evictHead()
	}

	m.tasks[m.tailindex] = t
	m.tailindex = (m.tailindex + 1) % m.maxLen
	m.count++
	m.totalTimeCount += t.lTime - t.sTime
	if t.success {
		m.successCount++
	}
}

func (m *Monitor) evictHead() {
	old := &m.tasks[m.headindex]
	m.totalTimeCount -= old.lTime - old.sTime
	if old.success {
		m.successCount--
	}
	m.headindex = (m.headindex + 1) % m.maxLen
	m.count--
}

func baseContext() context.Context {
	ctxOnce.Lock()
	defer ctxOnce.Unlock()
	if monitorCtx == nil {
		monitorCtx, monitorCancel = context.WithCancel(context.Background())
	}
	return monitorCtx
}

// InitMonitor prepares the package context all monitor loops run under.
func InitMonitor() {
	baseContext()
}

// Shutdown stops every monitor loop.
func Shutdown() {
	ctxOnce.Lock()
	defer ctxOnce.Unlock()
	if monitorCancel != nil {
		monitorCancel()
		monitorCtx, monitorCancel = nil, nil
	}
}
