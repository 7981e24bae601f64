package ml

import "errors"

var (
	ErrNotTrained       = errors.New("model not trained")
	ErrUnsupportedModel = errors.New("unsupported model type")
	ErrFeatureCount     = errors.New("feature count mismatch")
	ErrInvalidModel     = errors.New("invalid model state")
)

// Classifier is the capability the inference service needs from a loaded artifact.
type Classifier interface {
	// Classify returns the predicted class label for a single row.
	Classify(features []float64) (int, error)
	// ClassProbabilities returns one probability per entry of Classes, in the same order.
	ClassProbabilities(features []float64) ([]float64, error)
	Classes() []int
}

type MLModel interface {
	Classifier
	Train(features [][]float64, labels []int) error
	Type() string
}
