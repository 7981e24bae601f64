// Package inference holds the loaded classifier and turns feature rows into predictions.
package inference

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"mlops/ml"
)

const Version = "1.0.0"

var (
	ErrModelNotLoaded = errors.New("model not loaded")
	ErrNonFiniteInput = errors.New("input contains NaN or infinity")
)

// State is the service's model holder. It is built once before the
// listener opens and only read afterwards, so it carries no lock.
type State struct {
	model    ml.Classifier
	path     string
	loadedAt time.Time
}

// Load reads the artifact at path. Failures are logged and produce an
// empty State so the service can still start in degraded mode.
func Load(modelType, path string, logger *zap.Logger) *State {
	model, err := ml.LoadModelType(modelType, path)
	if err != nil {
		logger.Error("failed to load model", zap.String("path", path), zap.Error(err))
		return &State{path: path}
	}
	logger.Info("model loaded successfully",
		zap.String("path", path),
		zap.String("type", model.Type()),
		zap.Ints("classes", model.Classes()))
	return &State{model: model, path: path, loadedAt: time.Now()}
}

// NewState wraps an already constructed classifier; nil means no model.
func NewState(model ml.Classifier) *State {
	s := &State{model: model}
	if model != nil {
		s.loadedAt = time.Now()
	}
	return s
}

// Loaded reports whether a model is available for prediction.
func (s *State) Loaded() bool {
	return s != nil && s.model != nil
}

// LoadedAt returns when the model was loaded, or the zero time.
func (s *State) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Result is the outcome of one inference call. Err is set instead of Label and Probability on failure.
type Result struct {
	Label       int
	Probability float64
	Err         error
}

func (r Result) OK() bool { return r.Err == nil }

// Predict classifies a single row and reports the highest class probability as confidence.
// It never panics: failures inside the model come back in Result.Err.
func (s *State) Predict(features []float64) (result Result) {
	if !s.Loaded() {
		return Result{Err: ErrModelNotLoaded}
	}
	defer func() {
		if r := recover(); r != nil {
			result = Result{Err: fmt.Errorf("%v", r)}
		}
	}()

	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{Err: fmt.Errorf("%w: feature%d is %v", ErrNonFiniteInput, i+1, v)}
		}
	}

	label, err := s.model.Classify(features)
	if err != nil {
		return Result{Err: err}
	}
	probabilities, err := s.model.ClassProbabilities(features)
	if err != nil {
		return Result{Err: err}
	}
	if len(probabilities) == 0 {
		return Result{Err: errors.New("model returned no class probabilities")}
	}
	confidence := probabilities[0]
	for _, p := range probabilities[1:] {
		if p > confidence {
			confidence = p
		}
	}
	return Result{Label: label, Probability: confidence}
}
