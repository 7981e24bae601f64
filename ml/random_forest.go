package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

const TypeRandomForest = "random_forest"

// ForestOptions configures RandomForest training.
type ForestOptions struct {
	NEstimators int
	// MaxDepth of each tree; 0 grows trees until leaves are pure.
	MaxDepth int
	// MaxFeatures considered per split; 0 means sqrt of the feature count.
	MaxFeatures int
	Seed        int64
}

// DefaultForestOptions returns ten fully grown trees seeded with 42.
func DefaultForestOptions() ForestOptions {
	return ForestOptions{NEstimators: 10, Seed: 42}
}

// RandomForest averages the class distributions of bootstrap-trained decision trees.
type RandomForest struct {
	trees     []*DecisionTree
	classes   []int
	nFeatures int
	opts      ForestOptions
}

type forestState struct {
	Classes   []int           `json:"classes"`
	NFeatures int             `json:"n_features"`
	Trees     []*DecisionTree `json:"trees"`
}

// NewRandomForest returns an untrained forest.
func NewRandomForest(opts ForestOptions) *RandomForest {
	if opts.NEstimators <= 0 {
		opts.NEstimators = 10
	}
	return &RandomForest{opts: opts}
}

func (rf *RandomForest) Type() string { return TypeRandomForest }

func (rf *RandomForest) Classes() []int {
	return append([]int(nil), rf.classes...)
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}

	classes := uniqueLabels(labels)
	nFeatures := len(features[0])
	maxFeatures := rf.opts.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}

	rng := rand.New(rand.NewSource(rf.opts.Seed))
	trees := make([]*DecisionTree, 0, rf.opts.NEstimators)
	n := len(features)
	for t := 0; t < rf.opts.NEstimators; t++ {
		treeRng := rand.New(rand.NewSource(rng.Int63()))

		sampleX := make([][]float64, n)
		sampleY := make([]int, n)
		for i := 0; i < n; i++ {
			pick := treeRng.Intn(n)
			sampleX[i] = features[pick]
			sampleY[i] = labels[pick]
		}

		tree := &DecisionTree{
			opts: TreeOptions{MaxDepth: rf.opts.MaxDepth, MaxFeatures: maxFeatures},
			rng:  treeRng,
		}
		if err := tree.fit(sampleX, sampleY, classes); err != nil {
			return fmt.Errorf("tree %d: %w", t, err)
		}
		trees = append(trees, tree)
	}

	rf.trees = trees
	rf.classes = classes
	rf.nFeatures = nFeatures
	return nil
}

func (rf *RandomForest) ClassProbabilities(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != rf.nFeatures {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrFeatureCount, rf.nFeatures, len(features))
	}
	sum := make([]float64, len(rf.classes))
	for i, tree := range rf.trees {
		dist, err := tree.leafDistribution(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if len(dist) != len(sum) {
			return nil, fmt.Errorf("tree %d: class count mismatch", i)
		}
		for c, p := range dist {
			sum[c] += p
		}
	}
	for c := range sum {
		sum[c] /= float64(len(rf.trees))
	}
	return sum, nil
}

func (rf *RandomForest) Classify(features []float64) (int, error) {
	probs, err := rf.ClassProbabilities(features)
	if err != nil {
		return 0, err
	}
	return rf.classes[argmax(probs)], nil
}

func (rf *RandomForest) MarshalJSON() ([]byte, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	return json.Marshal(forestState{Classes: rf.classes, NFeatures: rf.nFeatures, Trees: rf.trees})
}

func (rf *RandomForest) UnmarshalJSON(payload []byte) error {
	var state forestState
	if err := json.Unmarshal(payload, &state); err != nil {
		return err
	}
	if len(state.Trees) == 0 || len(state.Classes) == 0 {
		return ErrNotTrained
	}
	for i, tree := range state.Trees {
		if tree == nil {
			return fmt.Errorf("tree %d: %w", i, ErrNotTrained)
		}
		if !equalClasses(tree.classes, state.Classes) {
			return fmt.Errorf("%w: tree %d classes %v do not match forest classes %v", ErrInvalidModel, i, tree.classes, state.Classes)
		}
		if tree.nFeatures != state.NFeatures {
			return fmt.Errorf("tree %d: %w", i, ErrFeatureCount)
		}
	}
	rf.trees = state.Trees
	rf.classes = state.Classes
	rf.nFeatures = state.NFeatures
	rf.opts.NEstimators = len(state.Trees)
	return nil
}

func equalClasses(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
