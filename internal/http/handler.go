package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
	"github.com/wenwu/saas-platform/vpn-core/internal/metrics"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
	"github.com/wenwu/saas-platform/vpn-core/internal/protect"
	"github.com/wenwu/saas-platform/vpn-core/internal/service"
	"github.com/wenwu/saas-platform/vpn-core/internal/ws"
)

type Handler struct {
	authService        *service.AuthService
	otpService         *service.OTPService
	entitlementService *service.EntitlementService
	sessionService     *service.SessionService
	guard              *protect.Guard
	hub                *ws.Hub
}

func NewHandler(
	authService *service.AuthService,
	otpService *service.OTPService,
	entitlementService *service.EntitlementService,
	sessionService *service.SessionService,
	guard *protect.Guard,
	hub *ws.Hub,
) *Handler {
	return &Handler{
		authService:        authService,
		otpService:         otpService,
		entitlementService: entitlementService,
		sessionService:     sessionService,
		guard:              guard,
		hub:                hub,
	}
}

// ==================== Auth Handlers ====================

// Register creates a subscriber account
func (h *Handler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Login exchanges credentials for a bearer token
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		// Wrong credentials feed the suspicious-activity counter
		if apperr.Is(err, apperr.KindUnauthenticated) {
			h.guard.RecordAuthFailure(c.Request.Context(), c.ClientIP())
		}
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh issues a fresh token off a still-valid one
func (h *Handler) Refresh(c *gin.Context) {
	resp, err := h.authService.Refresh(c.Request.Context(), c.GetString("subscriberID"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyEmail consumes an email verification code
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req models.VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	if err := h.authService.VerifyEmail(c.Request.Context(), &req); err != nil {
		if apperr.Is(err, apperr.KindInvalidInput) {
			h.guard.RecordAuthFailure(c.Request.Context(), c.ClientIP())
		}
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified"})
}

// ResendVerification mails a fresh verification code
func (h *Handler) ResendVerification(c *gin.Context) {
	var req models.PasswordResetRequest // same shape: just an email
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	if err := h.otpService.Issue(c.Request.Context(), req.Email, models.CodePurposeEmailVerify); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Verification code sent"})
}

// RequestPasswordReset mails a reset code
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req models.PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	if err := h.authService.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		renderError(c, err)
		return
	}
	// Same response whether or not the email exists
	c.JSON(http.StatusOK, gin.H{"message": "If the address is registered, a reset code has been sent"})
}

// ConfirmPasswordReset consumes a reset code and sets a new password
func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req models.PasswordResetConfirm
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	if err := h.authService.ConfirmPasswordReset(c.Request.Context(), &req); err != nil {
		if apperr.Is(err, apperr.KindInvalidInput) {
			h.guard.RecordAuthFailure(c.Request.Context(), c.ClientIP())
		}
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
}

// ==================== Profile Handlers ====================

// GetProfile returns the authenticated subscriber's account
func (h *Handler) GetProfile(c *gin.Context) {
	resp, err := h.authService.GetProfile(c.Request.Context(), c.GetString("subscriberID"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateProfile updates mutable profile fields
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	resp, err := h.authService.UpdateProfile(c.Request.Context(), c.GetString("subscriberID"), &req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ==================== Subscription Handlers ====================

// ListPlans returns the purchasable catalog
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.entitlementService.ListPlans(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// AssignPlan starts a subscription purchase
func (h *Handler) AssignPlan(c *gin.Context) {
	var req models.AssignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	resp, err := h.entitlementService.Assign(c.Request.Context(), c.GetString("subscriberID"), &req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetSubscription returns the subscriber's latest subscription
func (h *Handler) GetSubscription(c *gin.Context) {
	resp, err := h.entitlementService.GetSubscription(c.Request.Context(), c.GetString("subscriberID"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelSubscription turns off auto-renew; access runs until end of period
func (h *Handler) CancelSubscription(c *gin.Context) {
	resp, err := h.entitlementService.Cancel(c.Request.Context(), c.GetString("subscriberID"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PaymentCallback applies the processor webhook; replays are no-ops
func (h *Handler) PaymentCallback(c *gin.Context) {
	var req models.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	if err := h.entitlementService.ConfirmPayment(c.Request.Context(), &req); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ==================== VPN Handlers ====================

// ListServers returns servers visible to the subscriber's tier
func (h *Handler) ListServers(c *gin.Context) {
	sub, err := h.authService.GetSubscriber(c.Request.Context(), c.GetString("subscriberID"))
	if err != nil {
		renderError(c, err)
		return
	}

	servers, err := h.sessionService.ListServers(c.Request.Context(), sub, c.Query("location"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// Connect opens a tunnel session
func (h *Handler) Connect(c *gin.Context) {
	var req models.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	sub, err := h.authService.GetSubscriber(c.Request.Context(), c.GetString("subscriberID"))
	if err != nil {
		renderError(c, err)
		return
	}

	resp, err := h.sessionService.Connect(c.Request.Context(), sub, &req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(string(protect.ClassVPNConnect), "error").Inc()
		renderError(c, err)
		return
	}

	metrics.RequestsTotal.WithLabelValues(string(protect.ClassVPNConnect), "ok").Inc()
	metrics.SessionsOpenedTotal.Inc()
	metrics.SessionsConnected.Inc()
	c.JSON(http.StatusCreated, resp)
}

// Disconnect closes a session; closing twice succeeds with the stored summary
func (h *Handler) Disconnect(c *gin.Context) {
	var req models.DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	resp, err := h.sessionService.Disconnect(c.Request.Context(), c.GetString("subscriberID"), &req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(string(protect.ClassVPNDisconnect), "error").Inc()
		renderError(c, err)
		return
	}

	metrics.RequestsTotal.WithLabelValues(string(protect.ClassVPNDisconnect), "ok").Inc()
	if !resp.AlreadyDisconnected {
		metrics.SessionsClosedTotal.WithLabelValues(models.SessionEndedByClient).Inc()
		metrics.SessionsConnected.Dec()
	}
	c.JSON(http.StatusOK, resp)
}

// SessionStatus returns the live or latest session
func (h *Handler) SessionStatus(c *gin.Context) {
	resp, err := h.sessionService.Status(c.Request.Context(), c.GetString("subscriberID"), c.Query("session_id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ==================== Websocket Handlers ====================

// SessionChannel attaches the subscriber's live metrics push channel
func (h *Handler) SessionChannel(c *gin.Context) {
	h.hub.ServeSubscriber(c.Writer, c.Request, c.GetString("subscriberID"))
}

// AdminChannel attaches the operator aggregate channel
func (h *Handler) AdminChannel(c *gin.Context) {
	h.hub.ServeOperator(c.Writer, c.Request)
}
