package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"RouterGate/pkg/routeros"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   int
	}{
		{routeros.ErrAuthFailed, http.StatusBadGateway, CodeRouterAuthFailed},
		{routeros.ErrUnreachable, http.StatusServiceUnavailable, CodeRouterUnreachable},
		{routeros.ErrTimeout, http.StatusGatewayTimeout, CodeRouterTimeout},
		{routeros.ErrProtocol, http.StatusBadGateway, CodeRouterProtocol},
		{routeros.ErrCommandRejected, http.StatusUnprocessableEntity, CodeRouterCommandRejected},
		{errors.New("boom"), http.StatusInternalServerError, 500},
	}
	for _, tt := range tests {
		status, code := RouterStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestReplyRouterError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ReplyRouterError(c, routeros.ErrTimeout)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	var body StandardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeRouterTimeout, body.Code)
	assert.Contains(t, body.Msg, "Timeout")
}
