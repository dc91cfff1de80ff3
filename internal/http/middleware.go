package http

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/vpn-core/internal/metrics"
	"github.com/wenwu/saas-platform/vpn-core/internal/protect"
	"github.com/wenwu/saas-platform/vpn-core/internal/service"
)

// JWTAuthMiddleware validates bearer tokens and stashes the subscriber
// identity on the context
func JWTAuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHENTICATED", "message": "missing authorization header"}})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHENTICATED", "message": "invalid authorization format"}})
			c.Abort()
			return
		}

		claims, err := authService.ParseToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHENTICATED", "message": "invalid token"}})
			c.Abort()
			return
		}

		c.Set("subscriberID", claims.Subject)
		c.Set("isSuperuser", claims.Superuser)
		c.Next()
	}
}

// SuperuserMiddleware gates operator-only endpoints; run after JWT auth
func SuperuserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("isSuperuser") {
			c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "UNAUTHORIZED", "message": "operator access required"}})
			c.Abort()
			return
		}
		c.Next()
	}
}

// InternalAuthMiddleware validates internal service calls
// 使用常量时间比较防止时序攻击
func InternalAuthMiddleware(internalSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Internal-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(internalSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHENTICATED", "message": "unauthorized internal access"}})
			c.Abort()
			return
		}
		c.Next()
	}
}

// WebhookAuthMiddleware validates the payment processor's shared secret
func WebhookAuthMiddleware(webhookSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(webhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHENTICATED", "message": "invalid webhook signature"}})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ProtectionMiddleware runs the guard chain (ban, DDoS, rate limits) for the
// given endpoint class. Whitelisted IPs and superusers bypass it entirely.
func ProtectionMiddleware(guard *protect.Guard, class protect.EndpointClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if guard.Bypassed(ip, c.GetBool("isSuperuser")) {
			c.Next()
			return
		}

		decision, err := guard.Check(c.Request.Context(), ip, c.GetString("subscriberID"), class)
		if err != nil {
			// The failover store should make this unreachable; fail open
			// rather than taking the API down with the kv store
			c.Next()
			return
		}

		if decision.Banned {
			metrics.RejectedTotal.WithLabelValues(decision.Reason).Inc()
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"code":    "BANNED",
				"message": "address is temporarily banned",
				"details": gin.H{"reason": decision.Reason, "retry_after_seconds": int(decision.RetryAfter.Seconds())},
			}})
			c.Abort()
			return
		}

		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
		}

		if !decision.Allowed {
			metrics.RejectedTotal.WithLabelValues(decision.Reason).Inc()
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"code":    "RATE_LIMITED",
				"message": "too many requests, slow down",
			}})
			c.Abort()
			return
		}

		c.Next()
	}
}

// CORSMiddleware allows the configured web origins
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Max-Age", "3600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// HostAllowlistMiddleware rejects requests whose Host header is not in the
// configured list; empty list disables the check
func HostAllowlistMiddleware(allowedHosts []string) gin.HandlerFunc {
	if len(allowedHosts) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	allowed := make(map[string]bool, len(allowedHosts))
	for _, host := range allowedHosts {
		allowed[host] = true
	}
	return func(c *gin.Context) {
		host := c.Request.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !allowed[host] {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "INVALID_INPUT", "message": "invalid host header"}})
			c.Abort()
			return
		}
		c.Next()
	}
}
