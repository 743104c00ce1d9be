package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/handler"
	"github.com/ibrahimkeyboad/gowallet/internal/core/approval"
	"github.com/ibrahimkeyboad/gowallet/internal/core/config"
	"github.com/ibrahimkeyboad/gowallet/internal/core/identity"
	"github.com/ibrahimkeyboad/gowallet/internal/core/ledger"
	"github.com/ibrahimkeyboad/gowallet/internal/core/lifecycle"
	"github.com/ibrahimkeyboad/gowallet/internal/core/logging"
	"github.com/ibrahimkeyboad/gowallet/internal/core/notifications"
	"github.com/ibrahimkeyboad/gowallet/internal/core/security"
	"github.com/ibrahimkeyboad/gowallet/internal/core/worker"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("❌ Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Setup Logger
	slog.SetDefault(logging.New(os.Stdout, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the store
	store, err := openBackend(ctx, cfg)
	if err != nil {
		slog.Error("❌ Store initialization failed", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}

	// 4. Core services
	tokens := security.NewTokens(cfg.JWTSecret, cfg.JWTExpiration)
	identitySvc := identity.NewService(store.accounts, tokens)
	lifecycleSvc := lifecycle.NewService(store.accounts, cfg.Seeds)

	var opts []ledger.Option
	if cfg.WebhookURL != "" {
		opts = append(opts, ledger.WithNotifier(notifications.NewSettlementNotifier(store.jobs, cfg.WebhookURL)))
	}
	engine := ledger.NewEngine(store.accounts, store.log, opts...)
	workflow := approval.NewWorkflow(store.accounts, store.requests, store.log, engine, approval.Config{
		PendingLimit: cfg.Limits.Pending,
		ClaimTTL:     cfg.Limits.ApprovalClaim,
	})

	if cfg.Admin.Email != "" {
		if err := identitySvc.EnsureAdmin(ctx, identity.Registration{
			Name:         cfg.Admin.Name,
			MobileNumber: cfg.Admin.Mobile,
			Email:        cfg.Admin.Email,
			Pin:          cfg.Admin.Pin,
		}); err != nil {
			slog.Error("❌ Admin bootstrap failed", "error", err)
			os.Exit(1)
		}
	}

	// 5. Setup Fiber
	app := handler.NewApp(handler.Deps{
		Identity:       identitySvc,
		Lifecycle:      lifecycleSvc,
		Engine:         engine,
		Workflow:       workflow,
		Accounts:       store.accounts,
		Log:            store.log,
		Responses:      store.responses,
		HistoryLimit:   cfg.Limits.History,
		AllowedOrigins: cfg.AllowedOrigins,
		Ping:           store.ping,
	})

	// 6. Start Workers
	if cfg.WebhookURL != "" {
		worker.NewWebhookWorker(store.jobs, cfg.WebhookSecret, 5*time.Second).Start(ctx)
	}
	go reconcileSettlements(ctx, workflow, cfg.Limits.ReconcileAfter)

	// Run Server in a separate Goroutine so it doesn't block
	go func() {
		slog.Info("🚀 Server starting", "env", cfg.Env, "port", cfg.Port, "store", cfg.StoreDriver)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			stop()
		}
	}()

	// Block here until we receive a stop signal
	<-ctx.Done()
	slog.Info("🛑 Shutting down server...")

	// Stop accepting requests and finish active ones before the store goes away.
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store.close(closeCtx)

	slog.Info("👋 Server exited successfully")
}

// reconcileSettlements closes cash requests whose resolver died after the
// money moved. It runs once at startup and then every interval.
func reconcileSettlements(ctx context.Context, workflow *approval.Workflow, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if closed, err := workflow.Reconcile(ctx, interval); err != nil {
			slog.Error("Settlement reconciliation failed", "error", err)
		} else if closed > 0 {
			slog.Info("🔁 Settlement reconciliation closed requests", "count", closed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
