package router

import (
	"errors"
	"net"
	"strconv"
	"time"

	"RouterGate/pkg/routeros"
)

var (
	ErrRouterNotFound = errors.New("router not found")
	ErrRouterDisabled = errors.New("router is disabled")
)

// Router is one managed MikroTik device as stored in the inventory.
type Router struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  int64     `db:"tenant_id" json:"tenantId"`
	Name      string    `db:"name" json:"name"`
	Host      string    `db:"host" json:"host"`
	APIPort   int       `db:"api_port" json:"apiPort"`
	SSHPort   int       `db:"ssh_port" json:"sshPort"`
	Username  string    `db:"username" json:"-"`
	Password  string    `db:"password" json:"-"`
	UseTLS    bool      `db:"use_tls" json:"useTls"`
	Disabled  bool      `db:"disabled" json:"disabled"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Identity returns the API identity used for sessions to r.
func (r *Router) Identity() routeros.Identity {
	return routeros.Identity{
		RouterID: strconv.FormatInt(r.ID, 10),
		Host:     r.Host,
		Port:     r.APIPort,
		Username: r.Username,
		Password: r.Password,
		TLS:      r.UseTLS,
	}
}

// SSHAddress returns host:port for the SSH terminal backend.
func (r *Router) SSHAddress() string {
	port := r.SSHPort
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(port))
}

// View is a router with its live polling session, if any.
type View struct {
	Router
	Session *routeros.SessionInfo `json:"session,omitempty"`
}

// Status is what /status reports for one router.
type Status struct {
	RouterID int64                 `json:"routerId"`
	Name     string                `json:"name"`
	Session  *routeros.SessionInfo `json:"session,omitempty"`
	// Last holds the most recent state written by the status publisher, possibly by another gateway.
	Last map[string]string `json:"last,omitempty"`
}
