package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wenwu/saas-platform/vpn-core/internal/config"
	"github.com/wenwu/saas-platform/vpn-core/internal/protect"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	admin   *AdminHandler
	guard   *protect.Guard
	cfg     *config.Config
	db      *pgxpool.Pool
	httpSrv *http.Server
}

func NewServer(cfg *config.Config, db *pgxpool.Pool, handler *Handler, admin *AdminHandler, guard *protect.Guard) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(HostAllowlistMiddleware(cfg.AllowedHosts))
	router.Use(CORSMiddleware(cfg.AllowedOrigins))

	s := &Server{
		router:  router,
		handler: handler,
		admin:   admin,
		guard:   guard,
		cfg:     cfg,
		db:      db,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if err := s.db.Ping(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": "vpn-core",
		})
	})

	// Prometheus scrape endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public auth API
	auth := s.router.Group("/api/v1/auth")
	{
		auth.POST("/register",
			ProtectionMiddleware(s.guard, protect.ClassAuthRegister), s.handler.Register)
		auth.POST("/login",
			ProtectionMiddleware(s.guard, protect.ClassAuthLogin), s.handler.Login)
		auth.POST("/verify-email",
			ProtectionMiddleware(s.guard, protect.ClassAuthLogin), s.handler.VerifyEmail)
		auth.POST("/verify-email/resend",
			ProtectionMiddleware(s.guard, protect.ClassAuthPasswordReset), s.handler.ResendVerification)
		auth.POST("/password-reset/request",
			ProtectionMiddleware(s.guard, protect.ClassAuthPasswordReset), s.handler.RequestPasswordReset)
		auth.POST("/password-reset/confirm",
			ProtectionMiddleware(s.guard, protect.ClassAuthPasswordReset), s.handler.ConfirmPasswordReset)
	}

	// Subscriber API - requires JWT
	v1 := s.router.Group("/api/v1")
	v1.Use(JWTAuthMiddleware(s.handler.authService))
	{
		general := ProtectionMiddleware(s.guard, protect.ClassGeneral)

		v1.POST("/auth/refresh",
			ProtectionMiddleware(s.guard, protect.ClassAuthLogin), s.handler.Refresh)

		v1.GET("/users/me", general, s.handler.GetProfile)
		v1.PUT("/users/me", general, s.handler.UpdateProfile)

		v1.GET("/plans", general, s.handler.ListPlans)
		v1.POST("/subscriptions",
			ProtectionMiddleware(s.guard, protect.ClassPayments), s.handler.AssignPlan)
		v1.GET("/subscriptions/me", general, s.handler.GetSubscription)
		v1.DELETE("/subscriptions/me",
			ProtectionMiddleware(s.guard, protect.ClassPayments), s.handler.CancelSubscription)

		v1.GET("/vpn/servers", general, s.handler.ListServers)
		v1.POST("/vpn/connect",
			ProtectionMiddleware(s.guard, protect.ClassVPNConnect), s.handler.Connect)
		v1.POST("/vpn/disconnect",
			ProtectionMiddleware(s.guard, protect.ClassVPNDisconnect), s.handler.Disconnect)
		v1.GET("/vpn/status", general, s.handler.SessionStatus)
	}

	// Payment processor webhook - shared-secret auth, not JWT
	s.router.POST("/api/v1/payments/callback",
		WebhookAuthMiddleware(s.cfg.Payment.WebhookSecret),
		ProtectionMiddleware(s.guard, protect.ClassPayments),
		s.handler.PaymentCallback)

	// Websocket channels
	wsGroup := s.router.Group("/ws")
	wsGroup.Use(JWTAuthMiddleware(s.handler.authService))
	{
		wsGroup.GET("/session",
			ProtectionMiddleware(s.guard, protect.ClassWebsocket), s.handler.SessionChannel)
		// Operator channel bypasses rate limiting via the superuser check
		wsGroup.GET("/admin", SuperuserMiddleware(), s.handler.AdminChannel)
	}

	// Internal API - called by the operator portal
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.POST("/servers", s.admin.CreateServer)
		internal.GET("/servers", s.admin.ListServers)
		internal.GET("/servers/:id", s.admin.GetServer)
		internal.PUT("/servers/:id", s.admin.UpdateServer)
		internal.DELETE("/servers/:id", s.admin.DeleteServer)

		internal.POST("/plans", s.admin.CreatePlan)
		internal.DELETE("/plans/:id", s.admin.RetirePlan)

		internal.PUT("/subscribers/:id/status", s.admin.UpdateSubscriberStatus)
	}
}

// Run serves until the listener fails
func (s *Server) Run(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
