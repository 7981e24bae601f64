package ml

import (
	"errors"
	"math"
	"testing"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 2, 2}

	model := NewDecisionTree(2)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, err := model.Classify([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	probs, err := model.ClassProbabilities([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(probs) != 2 || probs[1] != 1 {
		t.Fatalf("expected pure leaf for class 2, got %v", probs)
	}
	if classes := model.Classes(); len(classes) != 2 || classes[0] != 0 || classes[1] != 2 {
		t.Fatalf("unexpected classes: %v", classes)
	}
}

func TestDecisionTreeDeepTreeUsesAbsoluteChildIndices(t *testing.T) {
	// alternating labels along one axis force several levels of nesting
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}}
	labels := []int{0, 1, 0, 1, 0, 1, 0, 1}

	model := NewDecisionTree(0)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, row := range features {
		label, err := model.Classify(row)
		if err != nil {
			t.Fatalf("row %d: unexpected error: %v", i, err)
		}
		if label != labels[i] {
			t.Fatalf("row %d: expected %d, got %d", i, labels[i], label)
		}
	}
}

func TestDecisionTreeMaxDepthLeavesMixedDistribution(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}}
	labels := []int{0, 1, 1, 1}

	model := NewDecisionTree(0)
	model.opts.MaxDepth = 1
	model.opts.MinSamplesSplit = 5
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probs, err := model.ClassProbabilities([]float64{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(probs[0]-0.25) > 1e-12 || math.Abs(probs[1]-0.75) > 1e-12 {
		t.Fatalf("expected [0.25 0.75], got %v", probs)
	}
}

func TestDecisionTreeErrors(t *testing.T) {
	model := NewDecisionTree(3)
	if _, err := model.Classify([]float64{1, 2}); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
	if err := model.Train(nil, nil); err == nil {
		t.Fatal("expected error for empty training set")
	}
	if err := model.Train([][]float64{{1}, {2, 3}}, []int{0, 1}); !errors.Is(err, ErrFeatureCount) {
		t.Fatalf("expected ErrFeatureCount for ragged rows, got %v", err)
	}
	if err := model.Train([][]float64{{1, 1}, {2, 2}}, []int{0, 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := model.Classify([]float64{1}); !errors.Is(err, ErrFeatureCount) {
		t.Fatalf("expected ErrFeatureCount, got %v", err)
	}
}
