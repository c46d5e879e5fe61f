package user

import (
	"errors"

	"RouterGate/pkg/middleware"
	"RouterGate/pkg/response"
	"RouterGate/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6,max=100"`
	Nickname string `json:"nickname" binding:"omitempty,max=50"`
	Role     string `json:"role" binding:"omitempty,oneof=admin user"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterHandler lets an admin add an operator to the admin's own tenant.
func (h *Handler) RegisterHandler(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ReplyBadRequest(c, err.Error())
		return
	}
	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		zap.L().Error("failed to hash password", zap.Error(err))
		response.ReplyError500(c, "Failed to hash password")
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	op := &Operator{
		TenantID:     c.GetInt64(middleware.CtxTenantID),
		Username:     req.Username,
		PasswordHash: hashedPassword,
		Nickname:     req.Nickname,
		Role:         req.Role,
	}
	if err := h.repo.Insert(c.Request.Context(), op); err != nil {
		if errors.Is(err, ErrDuplicate) {
			response.ReplyConflict(c, err.Error())
			return
		}
		response.ReplyError500(c, "Failed to create operator")
		return
	}
	zap.L().Info("operator created", zap.String("username", op.Username), zap.Int64("tenant", op.TenantID))
	response.ReplySuccessWithData(c, "Operator registered successfully", op)
}

func (h *Handler) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ReplyBadRequest(c, err.Error())
		return
	}
	op, err := h.repo.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			response.ReplyError500(c, "Failed to look up operator")
			return
		}
		response.ReplyUnauthorized(c, "Invalid username or password")
		return
	}
	if !utils.CheckPasswordHash(req.Password, op.PasswordHash) {
		response.ReplyUnauthorized(c, "Invalid username or password")
		return
	}

	token, err := utils.GenerateToken(op.Username, op.ID, op.TenantID, op.Role)
	if err != nil {
		zap.L().Error("failed to generate token", zap.Error(err))
		response.ReplyError500(c, "Failed to generate token")
		return
	}
	response.ReplySuccessWithData(c, "Login successful", gin.H{"token": token, "role": op.Role})
}
