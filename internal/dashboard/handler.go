package dashboard

import (
	"context"
	"errors"
	"strconv"

	"RouterGate/internal/router"
	"RouterGate/pkg/response"
	"RouterGate/pkg/routeros"

	"github.com/gin-gonic/gin"
)

// Resolver finds the API identity of a tenant's router.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, routerID int64) (routeros.Identity, error)
}

type Handler struct {
	svc      *Service
	resolver Resolver
}

func NewHandler(svc *Service, resolver Resolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

// Register mounts the dashboard routes on g, which is expected to be /api/routers/:id.
func (h *Handler) Register(g gin.IRoutes) {
	g.GET("/dashboard/interfaces", h.Interfaces)
	g.GET("/dashboard/traffic", h.Traffic)
	g.GET("/dashboard/dhcp-leases", h.DHCPLeases)
	g.GET("/dashboard/firewall", h.Firewall)
	g.GET("/dashboard/ppp-active", h.PPPActive)
	g.GET("/dashboard/ppp-counts", h.PPPCounts)
	g.GET("/dashboard/logs", h.Logs)
	g.GET("/dashboard/resources", h.Resources)
}

func (h *Handler) identity(c *gin.Context) (routeros.Identity, bool) {
	rid, ok := router.RouterID(c)
	if !ok {
		return routeros.Identity{}, false
	}
	id, err := h.resolver.Resolve(c.Request.Context(), router.TenantID(c), rid)
	if err != nil {
		router.ReplyError(c, err)
		return routeros.Identity{}, false
	}
	return id, true
}

func replyError(c *gin.Context, err error) {
	if errors.Is(err, ErrUnknownTable) || errors.Is(err, ErrInvalidInterface) || errors.Is(err, ErrInvalidSession) {
		response.ReplyBadRequest(c, err.Error())
		return
	}
	router.ReplyError(c, err)
}

// serve resolves the router, runs get and writes the snapshot.
func serve[T any](h *Handler, c *gin.Context, get func(ctx context.Context, id routeros.Identity) (T, error)) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	snap, err := get(c.Request.Context(), id)
	if err != nil {
		replyError(c, err)
		return
	}
	response.ReplySuccessWithData(c, "ok", snap)
}

func (h *Handler) Interfaces(c *gin.Context) {
	serve(h, c, h.svc.Interfaces)
}

func (h *Handler) Traffic(c *gin.Context) {
	iface := c.Query("interface")
	serve(h, c, func(ctx context.Context, id routeros.Identity) (Traffic, error) {
		return h.svc.Traffic(ctx, id, iface)
	})
}

func (h *Handler) DHCPLeases(c *gin.Context) {
	serve(h, c, h.svc.DHCPLeases)
}

func (h *Handler) Firewall(c *gin.Context) {
	table := c.DefaultQuery("table", "filter")
	serve(h, c, func(ctx context.Context, id routeros.Identity) ([]FirewallRule, error) {
		return h.svc.FirewallRules(ctx, id, table)
	})
}

func (h *Handler) PPPActive(c *gin.Context) {
	serve(h, c, h.svc.PPPActive)
}

func (h *Handler) PPPCounts(c *gin.Context) {
	serve(h, c, h.svc.PPPCounts)
}

func (h *Handler) Logs(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.ReplyBadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	serve(h, c, func(ctx context.Context, id routeros.Identity) ([]LogEntry, error) {
		return h.svc.Logs(ctx, id, limit)
	})
}

func (h *Handler) Resources(c *gin.Context) {
	serve(h, c, h.svc.SystemResource)
}

// DisconnectPPP handles DELETE /api/routers/:id/ppp/active/:session.
func (h *Handler) DisconnectPPP(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	if err := h.svc.DisconnectPPP(c.Request.Context(), id, c.Param("session")); err != nil {
		replyError(c, err)
		return
	}
	response.ReplySuccess(c, "ppp session disconnected")
}
