package routeros

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strconv"
)

const (
	DefaultAPIPort    = 8728
	DefaultAPITLSPort = 8729
)

// Identity is everything needed to open an API session to one router.
type Identity struct {
	RouterID string
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
}

// Address returns host:port, filling in the default API port.
func (id Identity) Address() string {
	port := id.Port
	if port == 0 {
		port = DefaultAPIPort
		if id.TLS {
			port = DefaultAPITLSPort
		}
	}
	return net.JoinHostPort(id.Host, strconv.Itoa(port))
}

// Key identifies the (router, credentials) pair a session is shared by.
// The password only contributes a digest so keys are safe to log.
func (id Identity) Key() string {
	sum := sha256.Sum256([]byte(id.Password))
	scheme := "api"
	if id.TLS {
		scheme = "api-ssl"
	}
	return scheme + "://" + id.Username + "@" + id.Address() + "#" + hex.EncodeToString(sum[:6])
}

// Name is used in logs and errors.
func (id Identity) Name() string {
	if id.RouterID != "" {
		return id.RouterID
	}
	return id.Address()
}

// Row is one !re sentence of a reply.
type Row map[string]string

// Get returns the value for key or "".
func (r Row) Get(key string) string {
	return r[key]
}

// Bool parses RouterOS yes/no and true/false values.
func (r Row) Bool(key string) bool {
	switch r[key] {
	case "true", "yes":
		return true
	}
	return false
}

// Int parses an integer attribute, returning 0 when absent or malformed.
func (r Row) Int(key string) int64 {
	v, err := strconv.ParseInt(r[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Uint parses an unsigned counter attribute.
func (r Row) Uint(key string) uint64 {
	v, err := strconv.ParseUint(r[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
