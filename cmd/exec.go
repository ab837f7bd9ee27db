package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"ticket-redemption/config"
	"ticket-redemption/handlers"
	"ticket-redemption/internal/checkin"
	"ticket-redemption/internal/gateway"
	"ticket-redemption/internal/ledger"
	"ticket-redemption/internal/notify"
	"ticket-redemption/internal/reconciler"
	"ticket-redemption/internal/webhook"
	_ "ticket-redemption/migrations"
	"ticket-redemption/security"
	"ticket-redemption/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg)
	defer redisClient.Close()

	// Initialize PubNub staff notifications
	var notifier notify.Notifier = notify.Noop{}
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		notifier = notify.NewPubNub(pubnub.NewPubNub(pnConfig), cfg.StaffChannel)
	}

	// Initialize services
	gw := gateway.NewClient(cfg)
	unitLedger := ledger.New(app)
	recService := reconciler.New(unitLedger, gw, redisClient, notifier, cfg.OrderLockTTL, cfg.ImportPageSize)
	checkinService := checkin.New(unitLedger, gw, notifier, recService)
	ingress := webhook.NewIngress(cfg.WebhookSecret, cfg.TicketTagMarker, redisClient, cfg.WebhookDedupTTL, recService)

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(ingress)
	checkinHandler := handlers.NewCheckinHandler(checkinService)
	adminHandler := handlers.NewAdminHandler(recService, unitLedger, cfg)

	rateLimiter := security.NewRateLimiter(redisClient, 30, time.Minute)
	adminAuth := security.NewAdminAuth(cfg.AdminTokenHash)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background tasks
	go scheduleImports(ctx, cfg, recService)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Webhook ingress
		e.Router.POST("/api/v1/webhooks/{topic}", webhookHandler.Receive)

		// Check-in
		e.Router.POST("/api/v1/checkin", checkinHandler.Redeem).BindFunc(rateLimiter.Limit)

		// Admin endpoints
		e.Router.POST("/api/v1/admin/import", adminHandler.TriggerImport).BindFunc(adminAuth.Require)
		e.Router.GET("/api/v1/orders/{orderNumber}/units", adminHandler.GetOrderUnits).BindFunc(adminAuth.Require)

		// Monitoring
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// scheduleImports periodically reconciles every tagged order so webhook
// gaps and post-redemption inconsistency windows heal without operator
// action.
func scheduleImports(ctx context.Context, cfg *config.Config, recService *reconciler.Service) {
	ticker := time.NewTicker(cfg.ImportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			runID, _ := utils.GenerateCode(4)
			since := time.Now().Add(-cfg.ImportLookback)
			outcome, err := recService.BulkImport(ctx, cfg.TicketTagMarker, since)
			if err != nil {
				slog.Error("scheduled import failed", "runId", runID, "error", err)
				continue
			}
			slog.Info("scheduled import completed",
				"runId", runID,
				"orders", outcome.Orders,
				"inserted", outcome.Inserted,
				"updated", outcome.Updated,
				"skipped", outcome.Skipped,
				"revoked", outcome.Revoked,
			)
		}
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
