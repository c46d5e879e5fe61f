package terminal

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"RouterGate/internal/router"
	"RouterGate/pkg/middleware"
	"RouterGate/pkg/response"
	"RouterGate/pkg/routeros"
	"RouterGate/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// close reasons must fit in a control frame
const maxCloseReason = 120

// Resolver finds a tenant's router in the inventory.
type Resolver interface {
	Get(ctx context.Context, tenantID, routerID int64) (*router.Router, error)
}

type Config struct {
	// Mode picks the opener when the client does not ask for one.
	Mode        string
	Size        Size
	OpenTimeout time.Duration
	Relay       RelayOptions
}

type Handler struct {
	mgr     *Manager
	routers Resolver
	openers map[string]Opener
	cfg     Config
}

func NewHandler(mgr *Manager, routers Resolver, openers map[string]Opener, cfg Config) *Handler {
	if cfg.Mode == "" {
		cfg.Mode = ModeSSH
	}
	if !cfg.Size.valid() {
		cfg.Size = Size{Cols: 80, Rows: 24}
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 15 * time.Second
	}
	return &Handler{mgr: mgr, routers: routers, openers: openers, cfg: cfg}
}

// Serve handles GET /api/terminal?token=&routerId=[&mode=&cols=&rows=].
// The caller is validated after the upgrade so a browser sees the reason in
// the close frame instead of a bare handshake failure.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("Failed to upgrade to WebSocket (terminal)", zap.Error(err))
		return
	}
	r := newRelay(conn, h.cfg.Relay)
	r.transition(StateIdle, StateHandshaking)
	r.watch()

	claims, err := utils.ParseToken(c.Query("token"))
	if err != nil {
		r.reject(websocket.ClosePolicyViolation, "invalid token")
		return
	}
	routerID, err := strconv.ParseInt(c.Query("routerId"), 10, 64)
	if err != nil || routerID <= 0 {
		r.reject(websocket.ClosePolicyViolation, "invalid routerId")
		return
	}
	mode := c.DefaultQuery("mode", h.cfg.Mode)
	opener, ok := h.openers[mode]
	if !ok {
		r.reject(websocket.ClosePolicyViolation, ErrUnknownMode.Error())
		return
	}
	size := h.cfg.Size
	if cols, rows := c.Query("cols"), c.Query("rows"); cols != "" && rows != "" {
		req := Size{}
		req.Cols, _ = strconv.Atoi(cols)
		req.Rows, _ = strconv.Atoi(rows)
		if req.valid() {
			size = req
		}
	}

	lookupCtx, cancel := context.WithTimeout(context.Background(), h.cfg.OpenTimeout)
	rt, err := h.routers.Get(lookupCtx, claims.TenantID, routerID)
	cancel()
	switch {
	case errors.Is(err, router.ErrRouterNotFound):
		r.reject(websocket.ClosePolicyViolation, "router not found")
		return
	case err != nil:
		zap.L().Error("terminal router lookup failed", zap.Int64("router", routerID), zap.Error(err))
		r.reject(websocket.CloseInternalServerErr, "router lookup failed")
		return
	case rt.Disabled:
		r.reject(websocket.ClosePolicyViolation, router.ErrRouterDisabled.Error())
		return
	}

	r.tenantID = claims.TenantID
	r.routerID = routerID
	r.userID = claims.UserID
	r.mode = mode
	if err := h.mgr.admit(r); err != nil {
		r.reject(websocket.CloseTryAgainLater, err.Error())
		return
	}

	// a browser that leaves mid-login aborts the open
	openCtx, cancel := context.WithTimeout(context.Background(), h.cfg.OpenTimeout)
	go func() {
		select {
		case <-r.readDone:
			cancel()
		case <-openCtx.Done():
		}
	}()
	stream, err := opener.Open(openCtx, Target{
		RouterID:   routerID,
		Identity:   rt.Identity(),
		SSHAddress: rt.SSHAddress(),
	}, size)
	cancel()
	if err != nil && r.browserLeft() {
		r.logger.Info("terminal abandoned during open", zap.String("mode", mode), zap.Error(err))
		r.shutdown(r.readEnd())
		return
	}
	if err != nil {
		code, reason := openFailure(err)
		r.logger.Warn("terminal open failed", zap.String("mode", mode), zap.Error(err))
		r.reject(code, reason)
		return
	}
	r.run(stream)
}

func openFailure(err error) (int, string) {
	code := websocket.CloseInternalServerErr
	switch routeros.KindOf(err) {
	case routeros.KindAuthFailed:
		code = websocket.ClosePolicyViolation
	case routeros.KindClosed:
		code = websocket.CloseTryAgainLater
	}
	reason := "open failed: " + err.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	return code, reason
}

// List handles GET /api/terminals for the caller's tenant.
func (h *Handler) List(c *gin.Context) {
	var routerID int64
	if v := c.Query("routerId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.ReplyBadRequest(c, "invalid routerId")
			return
		}
		routerID = id
	}
	response.ReplySuccessWithData(c, "ok", h.mgr.List(c.GetInt64(middleware.CtxTenantID), routerID))
}

// Kill handles DELETE /api/terminals/:tid.
func (h *Handler) Kill(c *gin.Context) {
	if !h.mgr.Kill(c.GetInt64(middleware.CtxTenantID), c.Param("tid")) {
		response.ReplyNotFound(c, "terminal not found")
		return
	}
	response.ReplySuccess(c, "terminal closed")
}
