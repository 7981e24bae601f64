package inference

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"mlops/ml"
)

// scenarioRequest is the reference request used by the API examples.
var scenarioRequest = Request{Feature1: 0.496714, Feature2: 1.399355, Feature3: -0.675178, Feature4: -1.907808}

type panickingModel struct{}

func (panickingModel) Classify([]float64) (int, error) { panic("index out of range") }
func (panickingModel) ClassProbabilities([]float64) ([]float64, error) {
	return nil, nil
}
func (panickingModel) Classes() []int { return []int{0, 1} }

type emptyModel struct{}

func (emptyModel) Classify([]float64) (int, error)                 { return 0, nil }
func (emptyModel) ClassProbabilities([]float64) ([]float64, error) { return nil, nil }
func (emptyModel) Classes() []int                                  { return nil }

func TestLoadFixtureScenario(t *testing.T) {
	state := Load(ml.TypeRandomForest, filepath.Join("testdata", "model.json"), zap.NewNop())
	if !state.Loaded() {
		t.Fatal("expected fixture model to load")
	}

	first := state.Predict(scenarioRequest.Vector())
	if !first.OK() {
		t.Fatalf("unexpected error: %v", first.Err)
	}
	if first.Label != 1 || first.Probability != 0.75 {
		t.Fatalf("expected prediction 1 with probability 0.75, got %+v", first)
	}
	for i := 0; i < 5; i++ {
		if again := state.Predict(scenarioRequest.Vector()); again != first {
			t.Fatalf("expected identical results, got %+v and %+v", first, again)
		}
	}
}

func TestLoadMissingArtifactIsDegraded(t *testing.T) {
	state := Load("", filepath.Join(t.TempDir(), "model.json"), zap.NewNop())
	if state.Loaded() {
		t.Fatal("expected degraded state")
	}
	result := state.Predict(scenarioRequest.Vector())
	if !errors.Is(result.Err, ErrModelNotLoaded) || result.Label != 0 || result.Probability != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestLoadRejectsOtherFamily(t *testing.T) {
	state := Load(ml.TypeDecisionTree, filepath.Join("testdata", "model.json"), zap.NewNop())
	if state.Loaded() {
		t.Fatal("expected family mismatch to leave the state empty")
	}
}

func TestPredictRecoversFromPanic(t *testing.T) {
	result := NewState(panickingModel{}).Predict([]float64{1, 2, 3, 4})
	if result.OK() || result.Err.Error() != "index out of range" {
		t.Fatalf("expected recovered panic, got %+v", result)
	}
}

func TestPredictRejectsEmptyDistribution(t *testing.T) {
	if result := NewState(emptyModel{}).Predict([]float64{1, 2, 3, 4}); result.OK() {
		t.Fatalf("expected error, got %+v", result)
	}
}

func TestPredictWrongWidth(t *testing.T) {
	state := Load("", filepath.Join("testdata", "model.json"), zap.NewNop())
	result := state.Predict([]float64{1, 2})
	if !errors.Is(result.Err, ml.ErrFeatureCount) {
		t.Fatalf("expected ErrFeatureCount, got %v", result.Err)
	}
}

func TestLoadMalformedTreeIsDegraded(t *testing.T) {
	for name, artifact := range map[string]string{
		"cycle":          `{"type":"decision_tree","version":"1","model":{"classes":[0,1],"n_features":4,"nodes":[{"feature_idx":0,"threshold":0,"left_child":0,"right_child":0,"is_leaf":false}]}}`,
		"bad confidence": `{"type":"decision_tree","version":"1","model":{"classes":[0,1],"n_features":4,"nodes":[{"feature_idx":-1,"left_child":-1,"right_child":-1,"is_leaf":true,"distribution":[3,-2]}]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.json")
			if err := os.WriteFile(path, []byte(artifact), 0o644); err != nil {
				t.Fatal(err)
			}
			state := Load("", path, zap.NewNop())
			if state.Loaded() {
				t.Fatal("expected malformed artifact to leave the state empty")
			}
			if result := state.Predict(scenarioRequest.Vector()); !errors.Is(result.Err, ErrModelNotLoaded) {
				t.Fatalf("unexpected result: %+v", result)
			}
		})
	}
}

func TestPredictRejectsNonFiniteFeatures(t *testing.T) {
	state := Load("", filepath.Join("testdata", "model.json"), zap.NewNop())
	for _, features := range [][]float64{
		{math.NaN(), 1, 1, 1},
		{1, math.Inf(1), 1, 1},
		{1, 1, 1, math.Inf(-1)},
	} {
		result := state.Predict(features)
		if !errors.Is(result.Err, ErrNonFiniteInput) {
			t.Fatalf("expected ErrNonFiniteInput for %v, got %+v", features, result)
		}
	}
}

// The dataset, split and forest are all seeded, so the whole chain from
// synthesis to a reloaded artifact pins one answer for the sample row.
func TestScenarioFromSeededTraining(t *testing.T) {
	ds, err := ml.GenerateDataset(1000, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	model, metrics, err := ml.Train(ds, ml.DefaultTrainOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.TrainAccuracy != 0.97625 || metrics.TestAccuracy != 0.54 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}

	path := filepath.Join(t.TempDir(), "models", "model.json")
	if err := ml.SaveModel(path, model); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := Load(ml.TypeRandomForest, path, zap.NewNop())
	if !state.Loaded() {
		t.Fatal("expected trained model to load")
	}

	result := state.Predict(scenarioRequest.Vector())
	if !result.OK() {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	// five trees vote for each class; ties go to the first class
	if result.Label != 0 || result.Probability != 0.5 {
		t.Fatalf("expected prediction 0 with probability 0.5, got %+v", result)
	}
}
