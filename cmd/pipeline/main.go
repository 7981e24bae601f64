package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mlops/config"
	"mlops/db"
	"mlops/logging"
	"mlops/pipeline"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	once := flag.Bool("once", false, "run the DAG once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	args, err := pipeline.DefaultArgsFrom(cfg.Pipeline)
	if err != nil {
		logger.Fatal("invalid pipeline config", zap.Error(err))
	}

	var store pipeline.TrainingStore
	if cfg.Database.Path != "" {
		s, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer s.Close()
		store = s
	}

	dag, err := pipeline.NewTrainingDAG(pipeline.TrainingConfigFrom(cfg), args, store, logger)
	if err != nil {
		logger.Fatal("failed to build DAG", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		record := dag.Run(ctx, pipeline.TriggerManual)
		if !record.Succeeded() {
			logger.Error("pipeline run failed", zap.String("run_id", record.ID), zap.Any("tasks", record.Tasks))
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	scheduler, err := pipeline.NewScheduler(dag, pipeline.SchedulerConfigFrom(cfg), logger)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}
	if err := scheduler.Run(ctx); err != nil {
		logger.Fatal("scheduler failed", zap.Error(err))
	}
	logger.Info("pipeline stopped", zap.Any("stats", scheduler.GetStats()))
}
