package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"animehub/internal/admin"
	"animehub/internal/anime"
	"animehub/internal/auth"
	"animehub/internal/events"
	"animehub/internal/pipeline"
	"animehub/internal/state"
	"animehub/pkg/config"
	"animehub/pkg/database"
	"animehub/pkg/logger"
	"animehub/pkg/metrics"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Get().Fatal("load config", zap.Error(err))
	}
	if err := logger.Init(cfg.Log); err != nil {
		logger.Get().Fatal("init logger", zap.Error(err))
	}
	defer logger.Sync()
	log := logger.Get()

	db := database.MustOpen(cfg.Database)
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx, db); err != nil {
		cancelMigrate()
		log.Fatal("db migrate failed", zap.Error(err))
	}
	cancelMigrate()

	m := metrics.Default()
	hub := events.NewHub()
	var notifier *events.Notifier
	if cfg.Server.NotifyAddr != "" {
		notifier = events.NewNotifier(cfg.Server.NotifyAddr)
	}
	st := state.NewFile(cfg.Pipeline.StateDir)

	p, err := pipeline.FromConfig(cfg, db, st, m, pipeline.PublisherFunc(func(e pipeline.Event) {
		hub.BroadcastJSON(e)
		if notifier != nil {
			notifier.BroadcastJSON(e)
		}
	}))
	if err != nil {
		log.Fatal("build pipeline", zap.Error(err))
	}
	runner := pipeline.NewRunner(p)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	_ = router.SetTrustedProxies(cfg.Server.TrustedProxies)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "driver": cfg.Database.Driver})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":      "not_ready",
				"db_error":    err.Error(),
				"tcp_clients": stats.TCPClients,
				"ws_clients":  stats.WSClients,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":      "ready",
			"db":          "ok",
			"stage":       p.Stage(),
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/runs", events.WSHandler(hub))

	// Dashboard and read API (public)
	animeHandler := anime.NewHandler(anime.NewRepo(db))
	animeHandler.RegisterDashboard(router)
	animeHandler.RegisterRoutes(router.Group("/api"))

	// Admin (bearer token)
	tokens := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTTTL,
	}
	if !tokens.Enabled() {
		log.Warn("auth.jwt_secret is empty, admin routes are disabled")
	}
	adminGroup := router.Group("/admin", auth.AdminMiddleware(tokens))
	admin.NewHandler(runner, anime.NewRepo(db), db, st).RegisterRoutes(adminGroup)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	var feed *events.Server
	if cfg.Server.EventsAddr != "" {
		feed = events.NewServer(cfg.Server.EventsAddr, hub)
		if _, err := feed.Listen(); err != nil {
			log.Fatal("event feed listen", zap.String("addr", cfg.Server.EventsAddr), zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Serve(); err != nil {
				errCh <- err
			}
		}()
	}

	if notifier != nil {
		if _, err := notifier.Listen(); err != nil {
			log.Fatal("UDP notifier listen", zap.String("addr", cfg.Server.NotifyAddr), zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := notifier.Serve(); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("HTTP API server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	log.Info("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", zap.Error(err))
	}
	if feed != nil {
		if err := feed.Close(); err != nil {
			log.Error("event feed shutdown error", zap.Error(err))
		}
	}
	if notifier != nil {
		_ = notifier.Close()
	}
	hub.Close()

	// An in-flight run finishes its current stage work; state is already
	// checkpointed by the paginator.
	if runner.Running() {
		log.Info("waiting for pipeline run to finish")
	}
	runner.Wait()

	wg.Wait()
	log.Info("servers stopped")
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
