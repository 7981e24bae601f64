package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"mlops/config"
	"mlops/logging"
	"mlops/ml"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	output := flag.String("output", "", "dataset output path (overrides dataset.path)")
	samples := flag.Int("n_samples", 0, "number of rows (overrides dataset.n_samples)")
	seed := flag.Int64("seed", -1, "random seed (overrides dataset.seed)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *output != "" {
		cfg.Dataset.Path = *output
	}
	if *samples > 0 {
		cfg.Dataset.NSamples = *samples
	}
	if *seed >= 0 {
		cfg.Dataset.Seed = *seed
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ds, err := ml.GenerateDataset(cfg.Dataset.NSamples, cfg.Dataset.Seed)
	if err != nil {
		logger.Fatal("failed to generate dataset", zap.Error(err))
	}
	if err := ml.WriteCSV(cfg.Dataset.Path, ds); err != nil {
		logger.Fatal("failed to write dataset", zap.String("path", cfg.Dataset.Path), zap.Error(err))
	}

	rows, cols := ds.Shape()
	logger.Info("dataset created",
		zap.String("path", cfg.Dataset.Path),
		zap.Int("rows", rows),
		zap.Int("columns", cols),
		zap.Int64("seed", cfg.Dataset.Seed))
}
