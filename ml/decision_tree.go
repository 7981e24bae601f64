package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const TypeDecisionTree = "decision_tree"

// TreeOptions controls tree growth. Zero values mean unbounded depth and all features per split.
type TreeOptions struct {
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     int
}

// DecisionTree is a CART classifier stored as a flat node slice.
type DecisionTree struct {
	nodes     []TreeNode
	classes   []int
	nFeatures int
	opts      TreeOptions
	rng       *rand.Rand
}

type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Distribution []float64 `json:"distribution,omitempty"`
}

type treeState struct {
	Classes   []int      `json:"classes"`
	NFeatures int        `json:"n_features"`
	Nodes     []TreeNode `json:"nodes"`
}

// NewDecisionTree returns an untrained tree limited to maxDepth levels.
func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{opts: TreeOptions{MaxDepth: maxDepth}}
}

func (dt *DecisionTree) Type() string { return TypeDecisionTree }

func (dt *DecisionTree) Classes() []int {
	return append([]int(nil), dt.classes...)
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}
	return dt.fit(features, labels, uniqueLabels(labels))
}

// fit grows the tree against an explicit class list so that trees inside a forest
// share one probability layout even when a bootstrap sample misses a class.
func (dt *DecisionTree) fit(features [][]float64, labels []int, classes []int) error {
	classIndex := make(map[int]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	y := make([]int, len(labels))
	for i, label := range labels {
		idx, ok := classIndex[label]
		if !ok {
			return fmt.Errorf("label %d not in class list", label)
		}
		y[i] = idx
	}

	dt.classes = append([]int(nil), classes...)
	dt.nFeatures = len(features[0])
	dt.nodes = nil

	idx := make([]int, len(features))
	for i := range idx {
		idx[i] = i
	}
	dt.grow(features, y, idx, 0)
	return nil
}

func (dt *DecisionTree) Classify(features []float64) (int, error) {
	dist, err := dt.leafDistribution(features)
	if err != nil {
		return 0, err
	}
	return dt.classes[argmax(dist)], nil
}

func (dt *DecisionTree) ClassProbabilities(features []float64) ([]float64, error) {
	dist, err := dt.leafDistribution(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), dist...), nil
}

func (dt *DecisionTree) leafDistribution(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != dt.nFeatures {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrFeatureCount, dt.nFeatures, len(features))
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			if len(node.Distribution) != len(dt.classes) {
				return nil, errors.New("invalid tree state: leaf distribution does not match classes")
			}
			return node.Distribution, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) MarshalJSON() ([]byte, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	return json.Marshal(treeState{Classes: dt.classes, NFeatures: dt.nFeatures, Nodes: dt.nodes})
}

func (dt *DecisionTree) UnmarshalJSON(payload []byte) error {
	var state treeState
	if err := json.Unmarshal(payload, &state); err != nil {
		return err
	}
	if err := state.validate(); err != nil {
		return err
	}
	dt.classes = state.Classes
	dt.nFeatures = state.NFeatures
	dt.nodes = state.Nodes
	return nil
}

// validate rejects node layouts that grow could not have produced. Children
// always follow their parent, which also rules out cycles.
func (s treeState) validate() error {
	if len(s.Nodes) == 0 || len(s.Classes) == 0 {
		return ErrNotTrained
	}
	if s.NFeatures <= 0 {
		return fmt.Errorf("%w: n_features %d", ErrInvalidModel, s.NFeatures)
	}
	for i, node := range s.Nodes {
		if node.IsLeaf {
			if err := validateDistribution(node.Distribution, len(s.Classes)); err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= s.NFeatures {
			return fmt.Errorf("%w: node %d splits on feature %d of %d", ErrInvalidModel, i, node.FeatureIdx, s.NFeatures)
		}
		if math.IsNaN(node.Threshold) {
			return fmt.Errorf("%w: node %d has NaN threshold", ErrInvalidModel, i)
		}
		for _, child := range []int{node.LeftChild, node.RightChild} {
			if child <= i || child >= len(s.Nodes) {
				return fmt.Errorf("%w: node %d has child %d", ErrInvalidModel, i, child)
			}
		}
	}
	return nil
}

func validateDistribution(dist []float64, nClasses int) error {
	if len(dist) != nClasses {
		return fmt.Errorf("%w: distribution has %d entries for %d classes", ErrInvalidModel, len(dist), nClasses)
	}
	sum := 0.0
	for _, p := range dist {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: probability %v outside [0, 1]", ErrInvalidModel, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: distribution sums to %v", ErrInvalidModel, sum)
	}
	return nil
}

// grow appends the subtree for idx to dt.nodes and returns the index of its root.
func (dt *DecisionTree) grow(features [][]float64, y []int, idx []int, depth int) int {
	counts := classCounts(y, idx, len(dt.classes))
	dist := normalize(counts, len(idx))
	best := argmax(dist)

	nodeIdx := len(dt.nodes)
	dt.nodes = append(dt.nodes, TreeNode{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   dt.classes[best],
		IsLeaf:       true,
		Distribution: dist,
	})

	minSplit := dt.opts.MinSamplesSplit
	if minSplit < 2 {
		minSplit = 2
	}
	if (dt.opts.MaxDepth > 0 && depth >= dt.opts.MaxDepth) || len(idx) < minSplit || isPure(counts) {
		return nodeIdx
	}

	featureIdx, threshold, ok := dt.findBestSplit(features, y, idx, counts)
	if !ok {
		return nodeIdx
	}

	leftIdx, rightIdx := splitIndices(features, idx, featureIdx, threshold)
	if len(leftIdx) == 0 || len(rightIdx) == 0 {
		return nodeIdx
	}

	left := dt.grow(features, y, leftIdx, depth+1)
	right := dt.grow(features, y, rightIdx, depth+1)

	dt.nodes[nodeIdx] = TreeNode{
		FeatureIdx: featureIdx,
		Threshold:  threshold,
		LeftChild:  left,
		RightChild: right,
		ClassLabel: dt.classes[best],
		IsLeaf:     false,
	}
	return nodeIdx
}

// candidateFeatures returns the feature visiting order; random when the tree has an rng.
func (dt *DecisionTree) candidateFeatures() []int {
	if dt.rng != nil {
		return dt.rng.Perm(dt.nFeatures)
	}
	order := make([]int, dt.nFeatures)
	for i := range order {
		order[i] = i
	}
	return order
}

func (dt *DecisionTree) findBestSplit(features [][]float64, y []int, idx []int, parentCounts []int) (int, float64, bool) {
	maxFeatures := dt.opts.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > dt.nFeatures {
		maxFeatures = dt.nFeatures
	}

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	visited := 0
	sorted := append([]int(nil), idx...)
	for _, featureIdx := range dt.candidateFeatures() {
		if visited >= maxFeatures {
			break
		}
		sort.SliceStable(sorted, func(a, b int) bool {
			return features[sorted[a]][featureIdx] < features[sorted[b]][featureIdx]
		})

		left := make([]int, len(parentCounts))
		right := append([]int(nil), parentCounts...)
		total := len(sorted)
		found := false
		for i := 0; i < total-1; i++ {
			label := y[sorted[i]]
			left[label]++
			right[label]--

			current := features[sorted[i]][featureIdx]
			next := features[sorted[i+1]][featureIdx]
			if current == next {
				continue
			}
			found = true
			impurity := weightedGini(left, i+1, right, total-i-1)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = midpoint(current, next)
			}
		}
		// constant features do not count against max features
		if found {
			visited++
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func splitIndices(features [][]float64, idx []int, featureIdx int, threshold float64) ([]int, []int) {
	leftIdx := make([]int, 0, len(idx))
	rightIdx := make([]int, 0, len(idx))
	for _, i := range idx {
		if features[i][featureIdx] <= threshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	return leftIdx, rightIdx
}

func midpoint(a, b float64) float64 {
	m := a + (b-a)/2
	if m >= b {
		return a
	}
	return m
}

func weightedGini(left []int, leftTotal int, right []int, rightTotal int) float64 {
	total := float64(leftTotal + rightTotal)
	return (float64(leftTotal)/total)*gini(left, leftTotal) + (float64(rightTotal)/total)*gini(right, rightTotal)
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(total)
		impurity -= prob * prob
	}
	return impurity
}

func classCounts(y []int, idx []int, nClasses int) []int {
	counts := make([]int, nClasses)
	for _, i := range idx {
		counts[y[i]]++
	}
	return counts
}

func normalize(counts []int, total int) []float64 {
	dist := make([]float64, len(counts))
	if total == 0 {
		return dist
	}
	for i, count := range counts {
		dist[i] = float64(count) / float64(total)
	}
	return dist
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, count := range counts {
		if count > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// argmax returns the first index holding the largest value.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func uniqueLabels(labels []int) []int {
	seen := make(map[int]struct{}, 2)
	classes := make([]int, 0, 2)
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		classes = append(classes, label)
	}
	sort.Ints(classes)
	return classes
}

func validateTrainingSet(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("features have no columns")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d columns, expected %d", ErrFeatureCount, i, len(row), width)
		}
	}
	return nil
}
