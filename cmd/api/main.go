package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wenwu/saas-platform/vpn-core/internal/client"
	"github.com/wenwu/saas-platform/vpn-core/internal/config"
	"github.com/wenwu/saas-platform/vpn-core/internal/db"
	apihttp "github.com/wenwu/saas-platform/vpn-core/internal/http"
	"github.com/wenwu/saas-platform/vpn-core/internal/kv"
	"github.com/wenwu/saas-platform/vpn-core/internal/metrics"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
	"github.com/wenwu/saas-platform/vpn-core/internal/protect"
	"github.com/wenwu/saas-platform/vpn-core/internal/repository"
	"github.com/wenwu/saas-platform/vpn-core/internal/service"
	"github.com/wenwu/saas-platform/vpn-core/internal/ws"
)

func main() {
	log.Println("Starting VPN Core...")

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Initialize database
	pool, err := db.NewPool(rootCtx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize the kv store; protection degrades to in-memory if it's down
	var store protect.Store
	memory := protect.NewMemoryStore()
	redisClient, err := kv.NewClient(rootCtx, cfg.Redis.URL)
	if err != nil {
		log.Printf("Failed to connect to kv store, protection runs in-memory only: %v", err)
		store = memory
	} else {
		defer redisClient.Close()
		store = protect.NewFailoverStore(protect.NewRedisStore(redisClient), memory)
	}

	guard := protect.NewGuard(store, cfg.RateLimit, cfg.DDoS)

	// Initialize repositories
	subscriberRepo := repository.NewSubscriberRepository(pool)
	planRepo := repository.NewPlanRepository(pool)
	subscriptionRepo := repository.NewSubscriptionRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	serverRepo := repository.NewServerRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	usageRepo := repository.NewUsageRepository(pool)
	codeRepo := repository.NewCodeRepository(pool)

	// Initialize clients
	mailClient := client.NewMailClient(cfg.Mail.RelayURL, cfg.Mail.APIKey, cfg.Mail.From)

	// Initialize services
	otpService := service.NewOTPService(cfg, codeRepo, mailClient)
	authService := service.NewAuthService(cfg, subscriberRepo, otpService)
	entitlementService := service.NewEntitlementService(subscriberRepo, planRepo, subscriptionRepo, paymentRepo)
	sessionService := service.NewSessionService(cfg, serverRepo, sessionRepo, usageRepo, entitlementService)
	serverService := service.NewServerService(serverRepo)

	// Websocket hub: per-subscriber session frames plus the operator aggregate
	hub := ws.NewHub(cfg.Metrics.PushInterval,
		sessionSnapshot(sessionService),
		platformSnapshot(subscriberRepo, sessionRepo, serverRepo),
		wsOriginChecker(cfg.AllowedOrigins),
	)
	go hub.Run(rootCtx)
	go trackWSClients(rootCtx, hub)

	// Background maintenance loops
	go runEvery(rootCtx, cfg.Session.ReconcileInterval, func(ctx context.Context) {
		sessionService.ReapStale(ctx)
		sessionService.ReconcileLoads(ctx)
	})
	go runEvery(rootCtx, time.Minute, entitlementService.ExpireDue)

	// Initialize HTTP server
	handler := apihttp.NewHandler(authService, otpService, entitlementService, sessionService, guard, hub)
	admin := apihttp.NewAdminHandler(serverService, authService, planRepo)
	server := apihttp.NewServer(cfg, pool, handler, admin, guard)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	log.Println("Server exited")
}

// runEvery invokes fn on a fixed interval until ctx is canceled
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// sessionSnapshot adapts the session status into the hub's push frame
func sessionSnapshot(sessions *service.SessionService) ws.SnapshotFunc {
	return func(ctx context.Context, subscriberID string) (*ws.Snapshot, bool) {
		status, err := sessions.Status(ctx, subscriberID, "")
		if err != nil || !status.HasSession {
			return nil, false
		}

		snap := &ws.Snapshot{
			SessionID:     status.SessionID,
			Status:        status.Status,
			BytesSent:     status.BytesSent,
			BytesReceived: status.BytesReceived,
		}
		if status.Server != nil {
			snap.PingMs = status.Server.PingMs
			snap.ServerLoad = status.Server.CurrentLoad
		}

		// A disconnected session gets one final frame, then the channel closes
		done := status.Status != models.SessionStatusConnected
		return snap, done
	}
}

// platformSnapshot builds the operator dashboard frame
func platformSnapshot(subscribers *repository.SubscriberRepository, sessions *repository.SessionRepository, servers *repository.ServerRepository) ws.AggregateFunc {
	return func(ctx context.Context) interface{} {
		totalSubs, _ := subscribers.Count(ctx)
		openSessions, _ := sessions.CountConnected(ctx)
		activeServers, _ := servers.CountActive(ctx)
		return map[string]interface{}{
			"timestamp":      time.Now().Format(time.RFC3339),
			"subscribers":    totalSubs,
			"open_sessions":  openSessions,
			"active_servers": activeServers,
		}
	}
}

// wsOriginChecker applies the CORS origin list to websocket upgrades.
// Requests without an Origin header (native clients) are allowed.
func wsOriginChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allowed["*"] || allowed[origin]
	}
}

// trackWSClients mirrors the hub population into the prometheus gauge
func trackWSClients(ctx context.Context, hub *ws.Hub) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.WSClients.Set(float64(hub.ClientCount()))
		}
	}
}
