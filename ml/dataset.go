package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
)

const TargetColumn = "target"

func FeatureNames() []string {
	return []string{"feature1", "feature2", "feature3", "feature4"}
}

// Dataset is a feature matrix with one integer target per row.
type Dataset struct {
	Columns  []string
	Features [][]float64
	Targets  []int
}

func (d *Dataset) Len() int { return len(d.Targets) }

// Shape reports rows and columns including the target column.
func (d *Dataset) Shape() (int, int) {
	return len(d.Targets), len(d.Columns) + 1
}

func (d *Dataset) subset(indices []int) *Dataset {
	out := &Dataset{
		Columns:  d.Columns,
		Features: make([][]float64, len(indices)),
		Targets:  make([]int, len(indices)),
	}
	for i, idx := range indices {
		out.Features[i] = d.Features[idx]
		out.Targets[i] = d.Targets[idx]
	}
	return out
}

// GenerateDataset draws standard-normal features and a uniform binary target.
func GenerateDataset(n int, seed int64) (*Dataset, error) {
	if n <= 0 {
		return nil, errors.New("n must be positive")
	}
	rng := rand.New(rand.NewSource(seed))
	names := FeatureNames()

	// column-major draws so each feature is one contiguous sample, then the target
	columns := make([][]float64, len(names))
	for c := range columns {
		columns[c] = make([]float64, n)
		for i := range columns[c] {
			columns[c][i] = rng.NormFloat64()
		}
	}
	ds := &Dataset{
		Columns:  names,
		Features: make([][]float64, n),
		Targets:  make([]int, n),
	}
	for i := 0; i < n; i++ {
		row := make([]float64, len(names))
		for c := range names {
			row[c] = columns[c][i]
		}
		ds.Features[i] = row
	}
	for i := range ds.Targets {
		ds.Targets[i] = rng.Intn(2)
	}
	return ds, nil
}

func WriteCSV(path string, ds *Dataset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := append(append([]string(nil), ds.Columns...), TargetColumn)
	if err := w.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for i, row := range ds.Features {
		for c, v := range row {
			record[c] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		record[len(row)] = strconv.Itoa(ds.Targets[i])
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

// ReadCSV loads a dataset whose header contains a target column; every other column is a feature.
func ReadCSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty dataset", path)
		}
		return nil, err
	}

	targetIdx := -1
	ds := &Dataset{}
	featureIdx := make([]int, 0, len(header))
	for i, name := range header {
		if name == TargetColumn {
			targetIdx = i
			continue
		}
		ds.Columns = append(ds.Columns, name)
		featureIdx = append(featureIdx, i)
	}
	if targetIdx < 0 {
		return nil, fmt.Errorf("%s: missing %q column", path, TargetColumn)
	}
	if len(featureIdx) == 0 {
		return nil, fmt.Errorf("%s: no feature columns", path)
	}

	line := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		row := make([]float64, len(featureIdx))
		for c, idx := range featureIdx {
			v, err := strconv.ParseFloat(record[idx], 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %s: %w", path, line, header[idx], err)
			}
			row[c] = v
		}
		target, err := strconv.Atoi(record[targetIdx])
		if err != nil {
			return nil, fmt.Errorf("%s line %d column %s: %w", path, line, TargetColumn, err)
		}
		ds.Features = append(ds.Features, row)
		ds.Targets = append(ds.Targets, target)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("%s: empty dataset", path)
	}
	return ds, nil
}

// TrainTestSplit shuffles row indices with seed and puts ceil(n*testRatio) rows in the test set.
func TrainTestSplit(ds *Dataset, testRatio float64, seed int64) (train, test *Dataset, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("test ratio %v outside (0, 1)", testRatio)
	}
	n := ds.Len()
	nTest := int(math.Ceil(float64(n) * testRatio))
	if nTest <= 0 || nTest >= n {
		return nil, nil, fmt.Errorf("cannot split %d rows with test ratio %v", n, testRatio)
	}
	indices := rand.New(rand.NewSource(seed)).Perm(n)
	return ds.subset(indices[nTest:]), ds.subset(indices[:nTest]), nil
}
