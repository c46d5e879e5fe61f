package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"RouterGate/pkg/config"
	"RouterGate/pkg/middleware"
	"RouterGate/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu  sync.Mutex
	ops map[string]*Operator
}

func (m *memRepo) Insert(_ context.Context, op *Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[op.Username]; ok {
		return ErrDuplicate
	}
	op.ID = int64(len(m.ops) + 1)
	cp := *op
	m.ops[op.Username] = &cp
	return nil
}

func (m *memRepo) GetByUsername(_ context.Context, username string) (*Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func newEngine(repo Repository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(repo)
	r := gin.New()
	r.POST("/login", h.LoginHandler)
	r.POST("/api/operators", middleware.JWTAuthMiddleware(), middleware.RequireRole(utils.RoleAdmin), h.RegisterHandler)
	return r
}

func post(r http.Handler, path, token string, body interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	utils.SetJWTConfig(&config.JWTConfig{Secret: "user-test", ExpireDuration: 600})
	repo := &memRepo{ops: map[string]*Operator{}}
	r := newEngine(repo)

	adminTok, err := utils.GenerateToken("root", 1, 42, utils.RoleAdmin)
	require.NoError(t, err)
	userTok, err := utils.GenerateToken("noc", 2, 42, "user")
	require.NoError(t, err)

	w := post(r, "/api/operators", adminTok, RegisterRequest{Username: "alice", Password: "hunter22"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	op, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 42, op.TenantID, "operator joins the admin's tenant")
	assert.Equal(t, "user", op.Role)
	assert.NotContains(t, w.Body.String(), "hunter22")
	assert.NotContains(t, w.Body.String(), op.PasswordHash)

	assert.Equal(t, http.StatusConflict, post(r, "/api/operators", adminTok, RegisterRequest{Username: "alice", Password: "hunter22"}).Code)
	assert.Equal(t, http.StatusForbidden, post(r, "/api/operators", userTok, RegisterRequest{Username: "bob", Password: "hunter22"}).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/api/operators", adminTok, RegisterRequest{Username: "bo", Password: "x"}).Code)

	w = post(r, "/login", "", LoginRequest{Username: "alice", Password: "hunter22"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := utils.ParseToken(resp.Data.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.TenantID)
	assert.Equal(t, op.ID, claims.UserID)

	assert.Equal(t, http.StatusUnauthorized, post(r, "/login", "", LoginRequest{Username: "alice", Password: "wrong"}).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/login", "", LoginRequest{Username: "nobody", Password: "hunter22"}).Code)
}
