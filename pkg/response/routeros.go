package response

import (
	"net/http"

	"RouterGate/pkg/routeros"

	"github.com/gin-gonic/gin"
)

// Application codes for router failures.
const (
	CodeRouterAuthFailed      = 1001
	CodeRouterUnreachable     = 1002
	CodeRouterTimeout         = 1003
	CodeRouterProtocol        = 1004
	CodeRouterCommandRejected = 1005
)

// RouterStatus maps a routeros failure to an HTTP status and application code.
func RouterStatus(err error) (status, code int) {
	switch routeros.KindOf(err) {
	case routeros.KindAuthFailed:
		return http.StatusBadGateway, CodeRouterAuthFailed
	case routeros.KindUnreachable, routeros.KindSessionExpired:
		return http.StatusServiceUnavailable, CodeRouterUnreachable
	case routeros.KindTimeout:
		return http.StatusGatewayTimeout, CodeRouterTimeout
	case routeros.KindProtocol:
		return http.StatusBadGateway, CodeRouterProtocol
	case routeros.KindCommandRejected:
		return http.StatusUnprocessableEntity, CodeRouterCommandRejected
	case routeros.KindClosed:
		return http.StatusServiceUnavailable, 503
	default:
		return http.StatusInternalServerError, 500
	}
}

// ReplyRouterError sends the mapped status for a routeros failure.
func ReplyRouterError(c *gin.Context, err error) {
	status, code := RouterStatus(err)
	c.JSON(status, StandardResponse{Code: code, Msg: err.Error()})
}
