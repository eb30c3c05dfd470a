package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"huddle/internal/core/services"
	"huddle/internal/infrastructure/middleware"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/infrastructure/repositories"
	wssignal "huddle/internal/infrastructure/signal"
	"huddle/pkg/config"
	"huddle/pkg/logger"
	"huddle/pkg/tracing"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			log.Printf("Loaded config from: %s", path)
			break
		}
	}
	if err != nil {
		log.Printf("Could not load config from any path, using defaults")
		cfg = config.Default()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}

	factory, err := repositories.NewRepositoryFactory(cfg, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize repositories", "error", err)
	}
	defer factory.Close()

	repo := factory.CreateRoomRepository()
	roomService := services.NewRoomService(repo)
	metrics := monitoring.NewPrometheusCollector()

	wsServer := wssignal.NewWebSocketServer(repo, roomService, metrics, wssignal.Options{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		ReadTimeout:       cfg.Signal.ReadTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
	}, sugar)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.NewHTTPRateLimitMiddleware(
		cfg.RateLimiting.Enabled,
		cfg.RateLimiting.HTTP.RequestsPerSecond,
		cfg.RateLimiting.HTTP.Burst,
	))

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		if err := factory.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"connections": wsServer.ConnectedParticipants(),
		})
	})

	server := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: router,
	}

	go func() {
		sugar.Infow("starting signaling relay", "address", cfg.Signal.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		sugar.Errorw("server shutdown failed", "error", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		sugar.Errorw("tracer shutdown failed", "error", err)
	}
}
