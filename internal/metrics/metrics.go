// Package metrics implements the evaluation measures used to compare the
// classifiers.
package metrics

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Accuracy is the fraction of predictions matching the true labels.
func Accuracy(yTrue, yPred []int) (float64, error) {
	if err := checkPair(yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// ZeroOneLoss is the misclassification rate, 1 - accuracy.
func ZeroOneLoss(yTrue, yPred []int) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// ConfusionMatrix returns a (k, k) matrix with true labels on rows and
// predicted labels on columns.
func ConfusionMatrix(yTrue, yPred []int, numClasses int) (*mat.Dense, error) {
	if err := checkPair(yTrue, yPred); err != nil {
		return nil, err
	}
	cm := mat.NewDense(numClasses, numClasses, nil)
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			return nil, errors.Errorf("label pair (%d, %d) out of range [0, %d)", t, p, numClasses)
		}
		cm.Set(t, p, cm.At(t, p)+1)
	}
	return cm, nil
}

// PerClassError computes the misclassification rate of each true class from
// a confusion matrix. Classes absent from the data report zero error.
func PerClassError(cm *mat.Dense) []float64 {
	k, _ := cm.Dims()
	out := make([]float64, k)
	for i := 0; i < k; i++ {
		total, wrong := 0.0, 0.0
		for j := 0; j < k; j++ {
			total += cm.At(i, j)
			if i != j {
				wrong += cm.At(i, j)
			}
		}
		if total > 0 {
			out[i] = wrong / total
		}
	}
	return out
}

// FoldSummary aggregates a per-fold error series.
type FoldSummary struct {
	Mean float64
	Std  float64
}

// Summarize reports mean and sample standard deviation of fold errors.
func Summarize(errs []float64) (FoldSummary, error) {
	if len(errs) == 0 {
		return FoldSummary{}, errors.New("no fold errors to summarize")
	}
	mean, err := stats.Mean(errs)
	if err != nil {
		return FoldSummary{}, err
	}
	std := 0.0
	if len(errs) > 1 {
		std, err = stats.StandardDeviationSample(errs)
		if err != nil {
			return FoldSummary{}, err
		}
	}
	return FoldSummary{Mean: mean, Std: std}, nil
}

func checkPair(yTrue, yPred []int) error {
	if len(yTrue) == 0 {
		return errors.New("empty label vectors")
	}
	if len(yTrue) != len(yPred) {
		return errors.Errorf("length mismatch: %d true vs %d predicted", len(yTrue), len(yPred))
	}
	return nil
}
