package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"RouterGate/pkg/middleware"
	"RouterGate/pkg/response"
	"RouterGate/pkg/routeros"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	routers map[int64]Router
	gets    atomic.Int64
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*Router, error) {
	r.gets.Add(1)
	rt, ok := r.routers[id]
	if !ok {
		return nil, ErrRouterNotFound
	}
	return &rt, nil
}

func (r *fakeRepo) ListByTenant(_ context.Context, tenantID int64) ([]Router, error) {
	var out []Router
	for _, rt := range r.routers {
		if rt.TenantID == tenantID {
			out = append(out, rt)
		}
	}
	return out, nil
}

type echoConn struct{}

func (echoConn) Run(_ context.Context, words []string) ([]routeros.Row, error) {
	if strings.HasSuffix(words[0], "/bogus") {
		return nil, routeros.ErrCommandRejected
	}
	return []routeros.Row{{"path": words[0], "words": strings.Join(words[1:], " ")}}, nil
}

func (echoConn) Close() error { return nil }

func echoDialer(password string) routeros.Dialer {
	return routeros.DialerFunc(func(_ context.Context, id routeros.Identity) (routeros.Conn, error) {
		if id.Password != password {
			return nil, routeros.ErrAuthFailed
		}
		return echoConn{}, nil
	})
}

type memStatus struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func (m *memStatus) Save(_ context.Context, routerID string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]map[string]string)
	}
	h := m.data[routerID]
	if h == nil {
		h = make(map[string]string)
		m.data[routerID] = h
	}
	for k, v := range fields {
		b, _ := json.Marshal(v)
		h[k] = strings.Trim(string(b), `"`)
	}
	return nil
}

func (m *memStatus) Load(_ context.Context, routerID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.data[routerID] {
		out[k] = v
	}
	return out, nil
}

func newTestService(t *testing.T, status StatusStore, opts ...routeros.Option) (*Service, *fakeRepo) {
	repo := &fakeRepo{routers: map[int64]Router{
		1: {ID: 1, TenantID: 10, Name: "core", Host: "10.0.0.1", Username: "api", Password: "pw"},
		2: {ID: 2, TenantID: 10, Name: "edge", Host: "10.0.0.2", Username: "api", Password: "pw", Disabled: true},
		3: {ID: 3, TenantID: 20, Name: "other", Host: "10.0.0.3", Username: "api", Password: "pw"},
		4: {ID: 4, TenantID: 10, Name: "badpw", Host: "10.0.0.4", Username: "api", Password: "nope"},
	}}
	mgr := routeros.NewManager(echoDialer("pw"), routeros.Options{RetryBackoff: time.Millisecond}, opts...)
	t.Cleanup(mgr.Close)
	return NewService(repo, mgr, status), repo
}

func TestService_Resolve(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	id, err := svc.Resolve(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, "1", id.RouterID)
	assert.Equal(t, "10.0.0.1:8728", id.Address())

	_, err = svc.Resolve(ctx, 10, 2)
	assert.ErrorIs(t, err, ErrRouterDisabled)

	_, err = svc.Resolve(ctx, 10, 3)
	assert.ErrorIs(t, err, ErrRouterNotFound, "other tenant's router is invisible")

	_, err = svc.Resolve(ctx, 10, 99)
	assert.ErrorIs(t, err, ErrRouterNotFound)

	before := repo.gets.Load()
	_, err = svc.Resolve(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, before, repo.gets.Load(), "inventory row is cached")

	svc.Forget(1)
	_, err = svc.Resolve(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, before+1, repo.gets.Load())
}

func TestService_ExecuteAndList(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	rows, err := svc.Execute(ctx, 10, 1, "/ip address print")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/ip/address/print", rows[0]["path"])

	_, err = svc.Execute(ctx, 10, 1, "ip address")
	var bad *BadCommandError
	assert.ErrorAs(t, err, &bad)

	views, err := svc.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, views, 3)
	for _, v := range views {
		if v.ID == 1 {
			require.NotNil(t, v.Session)
			assert.Equal(t, "Connected", v.Session.State)
		} else {
			assert.Nil(t, v.Session)
		}
	}

	closed, err := svc.Disconnect(ctx, 10, 1)
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = svc.Disconnect(ctx, 10, 1)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestStatusPublisher(t *testing.T) {
	store := &memStatus{}
	pub := NewStatusPublisher(store, 16)
	svc, _ := newTestService(t, store, routeros.WithObserver(pub))
	ctx := context.Background()

	_, err := svc.Execute(ctx, 10, 1, "/system/resource/print")
	require.NoError(t, err)
	_, err = svc.Execute(ctx, 10, 4, "/system/resource/print")
	require.Error(t, err)
	pub.Close()

	last, err := store.Load(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Connected", last["state"])
	assert.Equal(t, "/system/resource/print", last["last_command"])

	failed, err := store.Load(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, "Failed", failed["state"])
	assert.Equal(t, "AuthFailed", failed["last_error_kind"])

	st, err := svc.Status(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, "core", st.Name)
	assert.NotNil(t, st.Session)
	assert.Equal(t, "Connected", st.Last["state"])
}

func newTestEngine(svc *Service, tenantID int64, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc)
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(middleware.CtxTenantID, tenantID)
		c.Set(middleware.CtxUserID, int64(1))
		c.Set(middleware.CtxRole, role)
	})
	api.GET("/routers", h.List)
	api.GET("/routers/:id/status", h.Status)
	api.POST("/routers/:id/disconnect", h.Disconnect)
	api.POST("/routers/:id/execute", middleware.RequireRole("admin"), h.Execute)
	return r
}

func doJSON(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, response.StandardResponse) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp response.StandardResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestHandler_StatusCodes(t *testing.T) {
	svc, _ := newTestService(t, nil)
	admin := newTestEngine(svc, 10, "admin")
	viewer := newTestEngine(svc, 10, "viewer")

	tests := []struct {
		name   string
		r      *gin.Engine
		method string
		path   string
		body   string
		status int
		code   int
	}{
		{"list", viewer, http.MethodGet, "/api/routers", "", http.StatusOK, 0},
		{"status", viewer, http.MethodGet, "/api/routers/1/status", "", http.StatusOK, 0},
		{"bad id", viewer, http.MethodGet, "/api/routers/x/status", "", http.StatusBadRequest, 400},
		{"unknown router", viewer, http.MethodGet, "/api/routers/99/status", "", http.StatusNotFound, 404},
		{"foreign router", viewer, http.MethodGet, "/api/routers/3/status", "", http.StatusNotFound, 404},
		{"execute forbidden", viewer, http.MethodPost, "/api/routers/1/execute", `{"command":"/interface/print"}`, http.StatusForbidden, 403},
		{"execute", admin, http.MethodPost, "/api/routers/1/execute", `{"command":"/interface/print"}`, http.StatusOK, 0},
		{"execute disabled", admin, http.MethodPost, "/api/routers/2/execute", `{"command":"/interface/print"}`, http.StatusConflict, 409},
		{"execute rejected", admin, http.MethodPost, "/api/routers/1/execute", `{"command":"/ip/bogus"}`, http.StatusUnprocessableEntity, response.CodeRouterCommandRejected},
		{"execute auth failed", admin, http.MethodPost, "/api/routers/4/execute", `{"command":"/interface/print"}`, http.StatusBadGateway, response.CodeRouterAuthFailed},
		{"execute bad line", admin, http.MethodPost, "/api/routers/1/execute", `{"command":"interface"}`, http.StatusBadRequest, 400},
		{"execute no body", admin, http.MethodPost, "/api/routers/1/execute", `{}`, http.StatusBadRequest, 400},
		{"disconnect", viewer, http.MethodPost, "/api/routers/1/disconnect", "", http.StatusOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := doJSON(tt.r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}
