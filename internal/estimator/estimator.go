// Package estimator defines the contract shared by all classifiers and their
// JSON persistence format.
package estimator

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNotFitted is returned when Predict is called before a successful Fit.
var ErrNotFitted = errors.New("estimator is not fitted")

// Classifier is the minimal interface every model implements.
type Classifier interface {
	// Name identifies the model in reports and saved files.
	Name() string
	// Fit trains on an (n, d) design matrix and n integer labels.
	Fit(x *mat.Dense, y []int) error
	// Predict returns one class label per row of x.
	Predict(x *mat.Dense) ([]int, error)
}

// Probabilistic is implemented by classifiers that can score class
// probabilities, one row per sample, one column per class.
type Probabilistic interface {
	Classifier
	Probabilities(x *mat.Dense) (*mat.Dense, error)
}

// ValidateTraining checks a training set before fitting: non-empty, finite
// features, labels within [0, numClasses) and matching the matrix row count.
func ValidateTraining(x *mat.Dense, y []int, numClasses int) error {
	if x == nil || len(y) == 0 {
		return errors.New("empty training set")
	}
	rows, cols := x.Dims()
	if rows != len(y) {
		return errors.Errorf("%d samples but %d labels", rows, len(y))
	}
	if cols == 0 {
		return errors.New("training set has no features")
	}
	for _, v := range x.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("training set contains NaN or Inf")
		}
	}
	for i, label := range y {
		if label < 0 || label >= numClasses {
			return errors.Errorf("label %d at row %d out of range [0, %d)", label, i, numClasses)
		}
	}
	return nil
}

// CheckFeatures verifies that x is compatible with a model trained on
// numFeatures columns.
func CheckFeatures(x *mat.Dense, numFeatures int) error {
	rows, cols := x.Dims()
	if rows == 0 {
		return errors.New("empty input")
	}
	if cols != numFeatures {
		return errors.Errorf("expected %d features, got %d", numFeatures, cols)
	}
	return nil
}

// Argmax returns the index of the largest value in the row, breaking ties
// toward the smaller index.
func Argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
