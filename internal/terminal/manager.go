package terminal

import (
	"errors"
	"sort"
	"sync"

	"RouterGate/pkg/monitor"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

var (
	ErrTooManyChannels = errors.New("too many open terminals")
	ErrManagerClosed   = errors.New("terminal manager is closed")
)

// Manager tracks every open relay of this gateway.
type Manager struct {
	mu     sync.Mutex
	relays map[string]*Relay
	max    int
	closed bool
	node   *snowflake.Node
}

// NewManager limits the gateway to maxChannels concurrent terminals; zero
// means unlimited. machineID seeds the relay id generator and must be
// unique among gateways sharing logs.
func NewManager(maxChannels int, machineID int64) (*Manager, error) {
	node, err := snowflake.NewNode(machineID)
	if err != nil {
		return nil, err
	}
	return &Manager{
		relays: make(map[string]*Relay),
		max:    maxChannels,
		node:   node,
	}, nil
}

// admit names r and starts tracking it.
func (m *Manager) admit(r *Relay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.max > 0 && len(m.relays) >= m.max {
		return ErrTooManyChannels
	}
	r.id = m.node.Generate().String()
	r.logger = r.logger.With(zap.String("terminal", r.id), zap.Int64("router", r.routerID))
	r.onClose = m.remove
	m.relays[r.id] = r
	monitor.TerminalChannels.Set(float64(len(m.relays)))
	return nil
}

func (m *Manager) remove(r *Relay) {
	m.mu.Lock()
	if cur, ok := m.relays[r.id]; ok && cur == r {
		delete(m.relays, r.id)
	}
	monitor.TerminalChannels.Set(float64(len(m.relays)))
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.relays)
}

// List returns the open terminals of tenantID, oldest first. routerID 0
// lists all of the tenant's routers.
func (m *Manager) List(tenantID, routerID int64) []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.relays))
	for _, r := range m.relays {
		if r.tenantID != tenantID || (routerID != 0 && r.routerID != routerID) {
			continue
		}
		out = append(out, r.Info())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Kill closes one terminal of tenantID by id.
func (m *Manager) Kill(tenantID int64, id string) bool {
	m.mu.Lock()
	r, ok := m.relays[id]
	m.mu.Unlock()
	if !ok || r.tenantID != tenantID {
		return false
	}
	r.Close("closed by administrator")
	return true
}

// CloseAll closes every terminal and refuses new ones.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	relays := make([]*Relay, 0, len(m.relays))
	for _, r := range m.relays {
		relays = append(relays, r)
	}
	m.mu.Unlock()

	for _, r := range relays {
		r.Close("gateway shutting down")
	}
	for _, r := range relays {
		<-r.Done()
	}
	zap.L().Info("terminals closed", zap.Int("count", len(relays)))
}
