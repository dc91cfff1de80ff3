package http

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
)

// statusFor maps error kinds to HTTP status codes
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindUnauthorized, apperr.KindUnverified, apperr.KindDisabled, apperr.KindPremiumRequired:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyExists, apperr.KindAlreadyConnected, apperr.KindNotConnected:
		return http.StatusConflict
	case apperr.KindPaymentFailed:
		return http.StatusPaymentRequired
	case apperr.KindRateLimited, apperr.KindBanned:
		return http.StatusTooManyRequests
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindNoCapacity, apperr.KindAddressExhausted, apperr.KindDependencyDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// renderError writes the error envelope. Causes stay server-side; the
// client sees only kind, message and details.
func renderError(c *gin.Context, err error) {
	ae := apperr.AsError(err)
	if ae.Kind == apperr.KindInternal {
		log.Printf("[http] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}

	body := gin.H{"code": string(ae.Kind), "message": ae.Message}
	if len(ae.Details) > 0 {
		body["details"] = ae.Details
	}
	c.JSON(statusFor(ae.Kind), gin.H{"error": body})
}

// renderBindError wraps gin binding failures in the same envelope
func renderBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
		"code":    string(apperr.KindInvalidInput),
		"message": err.Error(),
	}})
}
