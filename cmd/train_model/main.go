package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"mlops/config"
	"mlops/db"
	"mlops/logging"
	"mlops/ml"
	"mlops/pipeline"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	dataPath := flag.String("data", "", "training dataset path (overrides dataset.path)")
	modelPath := flag.String("model_path", "", "model output path (overrides model.path)")
	estimators := flag.Int("n_estimators", 0, "number of trees (overrides training.n_estimators)")
	maxDepth := flag.Int("max_depth", -1, "max tree depth, 0 for unbounded (overrides training.max_depth)")
	testRatio := flag.Float64("test_ratio", 0, "test ratio (overrides training.test_ratio)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dataPath != "" {
		cfg.Dataset.Path = *dataPath
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	if *estimators > 0 {
		cfg.Training.NEstimators = *estimators
	}
	if *maxDepth >= 0 {
		cfg.Training.MaxDepth = *maxDepth
	}
	if *testRatio > 0 {
		cfg.Training.TestRatio = *testRatio
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	training := pipeline.TrainingConfigFrom(cfg)
	ds, err := ml.ReadCSV(training.DatasetPath)
	if err != nil {
		logger.Fatal("failed to load dataset", zap.String("path", training.DatasetPath), zap.Error(err))
	}

	model, metrics, err := ml.Train(ds, training.Train)
	if err != nil {
		logger.Fatal("failed to train model", zap.Error(err))
	}
	logger.Info("model trained",
		zap.Int("n_estimators", training.Train.NEstimators),
		zap.Float64("train_accuracy", metrics.TrainAccuracy),
		zap.Float64("test_accuracy", metrics.TestAccuracy))

	if err := ml.SaveModel(training.ModelPath, model); err != nil {
		logger.Fatal("failed to save model", zap.String("path", training.ModelPath), zap.Error(err))
	}
	now := time.Now()
	if err := ml.WriteMetrics(training.MetricsPath, metrics, now); err != nil {
		logger.Fatal("failed to save metrics", zap.String("path", training.MetricsPath), zap.Error(err))
	}

	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer store.Close()
		err = store.SaveTrainingLog(context.Background(), db.TrainingLog{
			ModelName:     model.Type(),
			Accuracy:      metrics.TestAccuracy,
			TrainAccuracy: metrics.TrainAccuracy,
			TrainedAt:     now,
			DataPoints:    metrics.NSamples,
		})
		if err != nil {
			logger.Error("failed to record training run", zap.Error(err))
		}
	}

	logger.Info("model saved", zap.String("path", training.ModelPath), zap.String("metrics", training.MetricsPath))
}
