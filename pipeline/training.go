package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mlops/db"
	"mlops/ml"
)

const (
	TrainingDAGID = "train_pipeline"

	TaskLoadData    = "load_data"
	TaskTrainModel  = "train_model"
	TaskSaveMetrics = "save_metrics"
)

// TrainingStore records finished training runs; *db.Store satisfies it.
type TrainingStore interface {
	SaveTrainingLog(ctx context.Context, log db.TrainingLog) error
}

type TrainingConfig struct {
	DatasetPath string
	ModelPath   string
	MetricsPath string
	Train       ml.TrainOptions
}

type trainingTasks struct {
	cfg    TrainingConfig
	store  TrainingStore
	logger *zap.Logger
	now    func() time.Time
}

// NewTrainingDAG builds load_data >> train_model >> save_metrics. Tasks pass
// data through the dataset, model and metrics files. store may be nil.
func NewTrainingDAG(cfg TrainingConfig, args DefaultArgs, store TrainingStore, logger *zap.Logger) (*DAG, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dag := NewDAG(TrainingDAGID, "ML model training pipeline", args, logger)
	tasks := &trainingTasks{cfg: cfg, store: store, logger: dag.logger, now: time.Now}

	if err := dag.AddTask(TaskLoadData, tasks.loadData); err != nil {
		return nil, err
	}
	if err := dag.AddTask(TaskTrainModel, tasks.trainModel, TaskLoadData); err != nil {
		return nil, err
	}
	if err := dag.AddTask(TaskSaveMetrics, tasks.saveMetrics, TaskTrainModel); err != nil {
		return nil, err
	}
	return dag, nil
}

func (t *trainingTasks) loadData(ctx context.Context) error {
	ds, err := ml.ReadCSV(t.cfg.DatasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	rows, cols := ds.Shape()
	t.logger.Info("loaded data", zap.String("path", t.cfg.DatasetPath), zap.Int("rows", rows), zap.Int("columns", cols))
	return nil
}

func (t *trainingTasks) trainModel(ctx context.Context) error {
	ds, err := ml.ReadCSV(t.cfg.DatasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	model, metrics, err := ml.Train(ds, t.cfg.Train)
	if err != nil {
		return err
	}
	if err := ml.SaveModel(t.cfg.ModelPath, model); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	t.logger.Info("model trained",
		zap.String("path", t.cfg.ModelPath),
		zap.Float64("train_accuracy", metrics.TrainAccuracy),
		zap.Float64("test_accuracy", metrics.TestAccuracy))
	return nil
}

func (t *trainingTasks) saveMetrics(ctx context.Context) error {
	ds, err := ml.ReadCSV(t.cfg.DatasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	model, err := ml.LoadModelType(ml.TypeRandomForest, t.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	metrics, err := ml.EvaluateSplit(model, ds, t.cfg.Train)
	if err != nil {
		return err
	}
	now := t.now()
	if err := ml.WriteMetrics(t.cfg.MetricsPath, metrics, now); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	t.logger.Info("metrics saved",
		zap.String("path", t.cfg.MetricsPath),
		zap.Float64("train_accuracy", metrics.TrainAccuracy),
		zap.Float64("test_accuracy", metrics.TestAccuracy))

	if t.store == nil {
		return nil
	}
	return t.store.SaveTrainingLog(ctx, db.TrainingLog{
		ModelName:     model.Type(),
		Accuracy:      metrics.TestAccuracy,
		TrainAccuracy: metrics.TrainAccuracy,
		TrainedAt:     now,
		DataPoints:    metrics.NSamples,
	})
}
