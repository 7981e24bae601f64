package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type TrainOptions struct {
	NEstimators int
	MaxDepth    int
	TestRatio   float64
	Seed        int64
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{NEstimators: 10, TestRatio: 0.2, Seed: 42}
}

type Metrics struct {
	TrainAccuracy float64 `json:"train_accuracy"`
	TestAccuracy  float64 `json:"test_accuracy"`
	NSamples      int     `json:"n_samples"`
	NFeatures     int     `json:"n_features"`
	Timestamp     string  `json:"timestamp,omitempty"`
}

// Report holds accuracy plus precision and recall for the positive class.
type Report struct {
	Accuracy  float64
	Precision float64
	Recall    float64
}

// Train splits ds, fits a random forest on the training part and scores both parts.
func Train(ds *Dataset, opts TrainOptions) (*RandomForest, Metrics, error) {
	train, test, err := TrainTestSplit(ds, opts.TestRatio, opts.Seed)
	if err != nil {
		return nil, Metrics{}, err
	}
	model := NewRandomForest(ForestOptions{
		NEstimators: opts.NEstimators,
		MaxDepth:    opts.MaxDepth,
		Seed:        opts.Seed,
	})
	if err := model.Train(train.Features, train.Targets); err != nil {
		return nil, Metrics{}, fmt.Errorf("train model: %w", err)
	}
	metrics, err := scoreSplit(model, ds, train, test)
	if err != nil {
		return nil, Metrics{}, err
	}
	return model, metrics, nil
}

// EvaluateSplit re-creates the split of Train and scores an already fitted model on it.
func EvaluateSplit(model Classifier, ds *Dataset, opts TrainOptions) (Metrics, error) {
	train, test, err := TrainTestSplit(ds, opts.TestRatio, opts.Seed)
	if err != nil {
		return Metrics{}, err
	}
	return scoreSplit(model, ds, train, test)
}

func scoreSplit(model Classifier, ds, train, test *Dataset) (Metrics, error) {
	trainScore, err := Score(model, train.Features, train.Targets)
	if err != nil {
		return Metrics{}, fmt.Errorf("score train set: %w", err)
	}
	testScore, err := Score(model, test.Features, test.Targets)
	if err != nil {
		return Metrics{}, fmt.Errorf("score test set: %w", err)
	}
	return Metrics{
		TrainAccuracy: trainScore,
		TestAccuracy:  testScore,
		NSamples:      ds.Len(),
		NFeatures:     len(ds.Columns),
	}, nil
}

// Score is the mean accuracy of model on the given rows.
func Score(model Classifier, features [][]float64, labels []int) (float64, error) {
	report, err := Evaluate(model, features, labels, 1)
	if err != nil {
		return 0, err
	}
	return report.Accuracy, nil
}

func Evaluate(model Classifier, features [][]float64, labels []int, positive int) (Report, error) {
	if len(features) == 0 {
		return Report{}, errors.New("no rows to evaluate")
	}
	if len(features) != len(labels) {
		return Report{}, errors.New("features and labels size mismatch")
	}

	var correct, truePositive, predictedPositive, actualPositive int
	for i, row := range features {
		label, err := model.Classify(row)
		if err != nil {
			return Report{}, fmt.Errorf("row %d: %w", i, err)
		}
		if label == labels[i] {
			correct++
		}
		if label == positive {
			predictedPositive++
		}
		if labels[i] == positive {
			actualPositive++
			if label == positive {
				truePositive++
			}
		}
	}

	report := Report{Accuracy: float64(correct) / float64(len(features))}
	if predictedPositive > 0 {
		report.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		report.Recall = float64(truePositive) / float64(actualPositive)
	}
	return report, nil
}

// WriteMetrics stores metrics as indented JSON, stamping the time when none is set.
func WriteMetrics(path string, metrics Metrics, now time.Time) error {
	if metrics.Timestamp == "" && !now.IsZero() {
		metrics.Timestamp = now.Format(time.RFC3339)
	}
	payload, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func ReadMetrics(path string) (Metrics, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Metrics{}, err
	}
	var metrics Metrics
	if err := json.Unmarshal(payload, &metrics); err != nil {
		return Metrics{}, fmt.Errorf("decode metrics %s: %w", path, err)
	}
	return metrics, nil
}
