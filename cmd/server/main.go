package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/receipt-processor/api/handlers"
	"github.com/feichai0017/receipt-processor/api/routes"
	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/internal/bootstrap"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := bootstrap.NewLogger(cfg.Log, "server")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open infrastructure", logger.Error(err))
		os.Exit(1)
	}
	defer infra.Close()

	if err := infra.Migrate(ctx); err != nil {
		log.Error("Failed to migrate database", logger.Error(err))
		os.Exit(1)
	}

	dispatcher := infra.Dispatcher()
	coordinator := infra.Coordinator(dispatcher)

	// init handlers
	h := handlers.NewHandlers(coordinator, []handlers.Check{
		{Name: "postgres", Probe: infra.Store.Ping},
		{Name: "redis", Probe: infra.Queue.Ping},
	}, log)
	h.Health.WithQueueStats(infra.Queue)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, log)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		infra.Relay(dispatcher).Run(ctx)
	}()

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	wg.Wait()
	log.Info("Server stopped")
}
