package router

import (
	"errors"
	"strconv"

	"RouterGate/pkg/middleware"
	"RouterGate/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ExecuteRequest struct {
	Command string `json:"command" binding:"required,min=2,max=4096"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ReplyError maps inventory and router failures onto the response envelope.
func ReplyError(c *gin.Context, err error) {
	var bad *BadCommandError
	switch {
	case errors.Is(err, ErrRouterNotFound):
		response.ReplyNotFound(c, err.Error())
	case errors.Is(err, ErrRouterDisabled):
		response.ReplyConflict(c, err.Error())
	case errors.As(err, &bad):
		response.ReplyBadRequest(c, err.Error())
	default:
		status, _ := response.RouterStatus(err)
		if status >= 500 {
			zap.L().Warn("router request failed",
				zap.String("path", c.FullPath()),
				zap.String("router", c.Param("id")),
				zap.Error(err))
		}
		response.ReplyRouterError(c, err)
	}
}

// RouterID parses the :id path parameter, replying 400 when it is not a number.
func RouterID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ReplyBadRequest(c, "invalid router id")
		return 0, false
	}
	return id, true
}

// TenantID is the tenant of the authenticated caller.
func TenantID(c *gin.Context) int64 {
	return c.GetInt64(middleware.CtxTenantID)
}

func (h *Handler) List(c *gin.Context) {
	views, err := h.svc.List(c.Request.Context(), TenantID(c))
	if err != nil {
		zap.L().Error("list routers failed", zap.Error(err))
		response.ReplyError500(c, "list routers failed")
		return
	}
	response.ReplySuccessWithData(c, "ok", views)
}

func (h *Handler) Status(c *gin.Context) {
	id, ok := RouterID(c)
	if !ok {
		return
	}
	st, err := h.svc.Status(c.Request.Context(), TenantID(c), id)
	if err != nil {
		ReplyError(c, err)
		return
	}
	response.ReplySuccessWithData(c, "ok", st)
}

func (h *Handler) Disconnect(c *gin.Context) {
	id, ok := RouterID(c)
	if !ok {
		return
	}
	closed, err := h.svc.Disconnect(c.Request.Context(), TenantID(c), id)
	if err != nil {
		ReplyError(c, err)
		return
	}
	zap.L().Info("router disconnected by user",
		zap.Int64("router", id),
		zap.Int64("user", c.GetInt64(middleware.CtxUserID)),
		zap.Bool("had_session", closed))
	response.ReplySuccessWithData(c, "disconnected", gin.H{"closed": closed})
}

func (h *Handler) Execute(c *gin.Context) {
	id, ok := RouterID(c)
	if !ok {
		return
	}
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ReplyBadRequest(c, "Invalid request")
		return
	}
	rows, err := h.svc.Execute(c.Request.Context(), TenantID(c), id, req.Command)
	if err != nil {
		ReplyError(c, err)
		return
	}
	zap.L().Info("command executed",
		zap.Int64("router", id),
		zap.Int64("user", c.GetInt64(middleware.CtxUserID)),
		zap.Int("rows", len(rows)))
	response.ReplySuccessWithData(c, "ok", rows)
}
