package dashboard

import (
	"math"
	"strings"

	"RouterGate/pkg/routeros"
)

type Interface struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	MTU            int64  `json:"mtu"`
	MACAddress     string `json:"macAddress"`
	Running        bool   `json:"running"`
	Disabled       bool   `json:"disabled"`
	RxByte         uint64 `json:"rxByte"`
	TxByte         uint64 `json:"txByte"`
	RxPacket       uint64 `json:"rxPacket"`
	TxPacket       uint64 `json:"txPacket"`
	RxError        uint64 `json:"rxError"`
	TxError        uint64 `json:"txError"`
	LastLinkUpTime string `json:"lastLinkUpTime,omitempty"`
	Comment        string `json:"comment,omitempty"`
}

type Traffic struct {
	Interface          string `json:"interface"`
	RxBitsPerSecond    uint64 `json:"rxBitsPerSecond"`
	TxBitsPerSecond    uint64 `json:"txBitsPerSecond"`
	RxPacketsPerSecond uint64 `json:"rxPacketsPerSecond"`
	TxPacketsPerSecond uint64 `json:"txPacketsPerSecond"`
}

type DHCPLease struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	MACAddress   string `json:"macAddress"`
	HostName     string `json:"hostName,omitempty"`
	Server       string `json:"server"`
	Status       string `json:"status"`
	ExpiresAfter string `json:"expiresAfter,omitempty"`
	LastSeen     string `json:"lastSeen,omitempty"`
	Dynamic      bool   `json:"dynamic"`
	Disabled     bool   `json:"disabled"`
	Comment      string `json:"comment,omitempty"`
}

type FirewallRule struct {
	ID           string `json:"id"`
	Table        string `json:"table"`
	Chain        string `json:"chain"`
	Action       string `json:"action"`
	Protocol     string `json:"protocol,omitempty"`
	SrcAddress   string `json:"srcAddress,omitempty"`
	DstAddress   string `json:"dstAddress,omitempty"`
	DstPort      string `json:"dstPort,omitempty"`
	InInterface  string `json:"inInterface,omitempty"`
	OutInterface string `json:"outInterface,omitempty"`
	Bytes        uint64 `json:"bytes"`
	Packets      uint64 `json:"packets"`
	Disabled     bool   `json:"disabled"`
	Dynamic      bool   `json:"dynamic"`
	Invalid      bool   `json:"invalid"`
	Comment      string `json:"comment,omitempty"`
}

type PPPSession struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Service   string `json:"service"`
	CallerID  string `json:"callerId"`
	Address   string `json:"address"`
	Uptime    string `json:"uptime"`
	Encoding  string `json:"encoding,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Radius    bool   `json:"radius"`
}

type PPPCounts struct {
	Active          int            `json:"active"`
	ByService       map[string]int `json:"byService"`
	Secrets         int            `json:"secrets"`
	DisabledSecrets int            `json:"disabledSecrets"`
	// Offline is enabled secrets without an active session.
	Offline int `json:"offline"`
}

type LogEntry struct {
	ID      string   `json:"id"`
	Time    string   `json:"time"`
	Topics  []string `json:"topics"`
	Message string   `json:"message"`
}

type SystemResource struct {
	Uptime            string  `json:"uptime"`
	Version           string  `json:"version"`
	BoardName         string  `json:"boardName"`
	Architecture      string  `json:"architecture"`
	CPU               string  `json:"cpu"`
	CPUCount          int64   `json:"cpuCount"`
	CPUFrequency      int64   `json:"cpuFrequency"`
	CPULoad           int64   `json:"cpuLoad"`
	FreeMemory        uint64  `json:"freeMemory"`
	TotalMemory       uint64  `json:"totalMemory"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	FreeHDDSpace      uint64  `json:"freeHddSpace"`
	TotalHDDSpace     uint64  `json:"totalHddSpace"`
}

// The functions below turn reply rows into the shapes above. Missing
// attributes become zero values so field names stay stable across polls.

func ToInterfaces(rows []routeros.Row) []Interface {
	out := make([]Interface, 0, len(rows))
	for _, r := range rows {
		out = append(out, Interface{
			ID:             r.Get(".id"),
			Name:           r.Get("name"),
			Type:           r.Get("type"),
			MTU:            r.Int("actual-mtu"),
			MACAddress:     r.Get("mac-address"),
			Running:        r.Bool("running"),
			Disabled:       r.Bool("disabled"),
			RxByte:         r.Uint("rx-byte"),
			TxByte:         r.Uint("tx-byte"),
			RxPacket:       r.Uint("rx-packet"),
			TxPacket:       r.Uint("tx-packet"),
			RxError:        r.Uint("rx-error"),
			TxError:        r.Uint("tx-error"),
			LastLinkUpTime: r.Get("last-link-up-time"),
			Comment:        r.Get("comment"),
		})
	}
	return out
}

func ToTraffic(iface string, rows []routeros.Row) Traffic {
	t := Traffic{Interface: iface}
	if len(rows) == 0 {
		return t
	}
	r := rows[0]
	t.RxBitsPerSecond = r.Uint("rx-bits-per-second")
	t.TxBitsPerSecond = r.Uint("tx-bits-per-second")
	t.RxPacketsPerSecond = r.Uint("rx-packets-per-second")
	t.TxPacketsPerSecond = r.Uint("tx-packets-per-second")
	return t
}

func ToDHCPLeases(rows []routeros.Row) []DHCPLease {
	out := make([]DHCPLease, 0, len(rows))
	for _, r := range rows {
		out = append(out, DHCPLease{
			ID:           r.Get(".id"),
			Address:      r.Get("address"),
			MACAddress:   r.Get("mac-address"),
			HostName:     r.Get("host-name"),
			Server:       r.Get("server"),
			Status:       r.Get("status"),
			ExpiresAfter: r.Get("expires-after"),
			LastSeen:     r.Get("last-seen"),
			Dynamic:      r.Bool("dynamic"),
			Disabled:     r.Bool("disabled"),
			Comment:      r.Get("comment"),
		})
	}
	return out
}

func ToFirewallRules(table string, rows []routeros.Row) []FirewallRule {
	out := make([]FirewallRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, FirewallRule{
			ID:           r.Get(".id"),
			Table:        table,
			Chain:        r.Get("chain"),
			Action:       r.Get("action"),
			Protocol:     r.Get("protocol"),
			SrcAddress:   r.Get("src-address"),
			DstAddress:   r.Get("dst-address"),
			DstPort:      r.Get("dst-port"),
			InInterface:  r.Get("in-interface"),
			OutInterface: r.Get("out-interface"),
			Bytes:        r.Uint("bytes"),
			Packets:      r.Uint("packets"),
			Disabled:     r.Bool("disabled"),
			Dynamic:      r.Bool("dynamic"),
			Invalid:      r.Bool("invalid"),
			Comment:      r.Get("comment"),
		})
	}
	return out
}

func ToPPPSessions(rows []routeros.Row) []PPPSession {
	out := make([]PPPSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, PPPSession{
			ID:        r.Get(".id"),
			Name:      r.Get("name"),
			Service:   r.Get("service"),
			CallerID:  r.Get("caller-id"),
			Address:   r.Get("address"),
			Uptime:    r.Get("uptime"),
			Encoding:  r.Get("encoding"),
			SessionID: r.Get("session-id"),
			Radius:    r.Bool("radius"),
		})
	}
	return out
}

// ToPPPCounts combines /ppp/active and /ppp/secret rows.
func ToPPPCounts(active, secrets []routeros.Row) PPPCounts {
	c := PPPCounts{Active: len(active), ByService: make(map[string]int)}
	online := make(map[string]bool, len(active))
	for _, r := range active {
		svc := r.Get("service")
		if svc == "" {
			svc = "unknown"
		}
		c.ByService[svc]++
		online[r.Get("name")] = true
	}
	for _, r := range secrets {
		c.Secrets++
		if r.Bool("disabled") {
			c.DisabledSecrets++
			continue
		}
		if !online[r.Get("name")] {
			c.Offline++
		}
	}
	return c
}

// ToLogs keeps the newest limit entries, oldest first.
func ToLogs(rows []routeros.Row, limit int) []LogEntry {
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]LogEntry, 0, len(rows))
	for _, r := range rows {
		var topics []string
		for _, t := range strings.Split(r.Get("topics"), ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
		if topics == nil {
			topics = []string{}
		}
		out = append(out, LogEntry{
			ID:      r.Get(".id"),
			Time:    r.Get("time"),
			Topics:  topics,
			Message: r.Get("message"),
		})
	}
	return out
}

func ToSystemResource(rows []routeros.Row) SystemResource {
	if len(rows) == 0 {
		return SystemResource{}
	}
	r := rows[0]
	s := SystemResource{
		Uptime:        r.Get("uptime"),
		Version:       r.Get("version"),
		BoardName:     r.Get("board-name"),
		Architecture:  r.Get("architecture-name"),
		CPU:           r.Get("cpu"),
		CPUCount:      r.Int("cpu-count"),
		CPUFrequency:  r.Int("cpu-frequency"),
		CPULoad:       r.Int("cpu-load"),
		FreeMemory:    r.Uint("free-memory"),
		TotalMemory:   r.Uint("total-memory"),
		FreeHDDSpace:  r.Uint("free-hdd-space"),
		TotalHDDSpace: r.Uint("total-hdd-space"),
	}
	if s.TotalMemory > 0 {
		used := float64(s.TotalMemory-min(s.FreeMemory, s.TotalMemory)) / float64(s.TotalMemory) * 100
		s.MemoryUsedPercent = math.Round(used*10) / 10
	}
	return s
}
