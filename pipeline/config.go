package pipeline

import (
	"mlops/config"
	"mlops/ml"
)

// TrainingConfigFrom maps the dataset, model and training sections onto the training DAG.
func TrainingConfigFrom(cfg *config.Config) TrainingConfig {
	return TrainingConfig{
		DatasetPath: cfg.Dataset.Path,
		ModelPath:   cfg.Model.Path,
		MetricsPath: cfg.Training.MetricsPath,
		Train: ml.TrainOptions{
			NEstimators: cfg.Training.NEstimators,
			MaxDepth:    cfg.Training.MaxDepth,
			TestRatio:   cfg.Training.TestRatio,
			Seed:        cfg.Training.Seed,
		},
	}
}

func DefaultArgsFrom(cfg config.PipelineConfig) (DefaultArgs, error) {
	start, err := cfg.StartTime()
	if err != nil {
		return DefaultArgs{}, err
	}
	return DefaultArgs{
		Owner:      cfg.Owner,
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		StartDate:  start,
	}, nil
}

func SchedulerConfigFrom(cfg *config.Config) SchedulerConfig {
	sc := SchedulerConfig{
		Schedule:    cfg.Pipeline.Schedule,
		RunOnStart:  cfg.Pipeline.RunOnStart,
		HistorySize: cfg.Pipeline.HistorySize,
	}
	if cfg.Pipeline.WatchDataset {
		sc.WatchPath = cfg.Dataset.Path
	}
	return sc
}
