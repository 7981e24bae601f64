package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mlops/config"
	"mlops/db"
	mhttp "mlops/http"
	"mlops/inference"
	"mlops/logging"
	"mlops/monitoring"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	modelPath := flag.String("model", "", "model artifact path (overrides model.path)")
	port := flag.Int("port", 0, "listen port (overrides http.port)")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// 2. Load the model once; a failure leaves the service in degraded mode
	state := inference.Load(cfg.Model.Type, cfg.Model.Path, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := monitoring.NewHub(logger)
	go hub.Run(ctx)
	observers := inference.Observers{hub}

	// 3. Prediction history is optional
	var predictionLog *db.PredictionLog
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Error("prediction history disabled", zap.String("path", cfg.Database.Path), zap.Error(err))
		} else {
			defer store.Close()
			predictionLog = db.NewPredictionLog(store, logger, 0)
			observers = append(observers, predictionLog)
			logger.Info("database initialized", zap.String("path", cfg.Database.Path))
		}
	}

	// 4. Start HTTP server
	handler := &mhttp.Handler{
		State:    state,
		Observer: observers,
		Stream:   http.HandlerFunc(hub.ServeWS),
		Logger:   logger,
	}
	serverConfig := mhttp.DefaultServerConfig()
	serverConfig.Host = cfg.HTTP.Host
	serverConfig.Port = cfg.HTTP.Port
	serverConfig.Timeout = cfg.HTTP.Timeout
	server := mhttp.NewServer(serverConfig, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	cancel()
	if predictionLog != nil {
		predictionLog.Close()
	}
	logger.Info("exiting")
}
