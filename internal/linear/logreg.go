// Package linear implements multinomial logistic regression as a single
// softmax layer trained by the neural package.
package linear

import (
	"encoding/json"

	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/estimator"
	"github.com/AndreiCostinescu/ml1-mnist/internal/neural"
)

const modelName = "logreg"

// LogisticRegression is a linear classifier with a softmax output and
// optional L1/L2 penalties.
type LogisticRegression struct {
	L1           float64
	L2           float64
	NumBatches   int
	MaxEpochs    int
	LearningRate float64
	Optimizer    string
	Patience     int
	Shuffle      bool
	Seed         int64

	net *neural.Network
}

// New returns an untrained model with library defaults for anything left
// zero.
func New() *LogisticRegression {
	return &LogisticRegression{Shuffle: true}
}

func init() {
	estimator.Register(modelName, func() estimator.Persistable { return New() })
}

// Name implements estimator.Classifier.
func (lr *LogisticRegression) Name() string { return modelName }

func (lr *LogisticRegression) build() *neural.Network {
	return neural.New(neural.Config{
		// no hidden layers: dense(numClasses) + softmax
		L1:           lr.L1,
		L2:           lr.L2,
		NumBatches:   lr.NumBatches,
		MaxEpochs:    lr.MaxEpochs,
		LearningRate: lr.LearningRate,
		Optimizer:    lr.Optimizer,
		Patience:     lr.Patience,
		Shuffle:      lr.Shuffle,
		Seed:         lr.Seed,
	})
}

// Fit implements estimator.Classifier.
func (lr *LogisticRegression) Fit(x *mat.Dense, y []int) error {
	lr.net = lr.build()
	return lr.net.Fit(x, y)
}

// Predict implements estimator.Classifier.
func (lr *LogisticRegression) Predict(x *mat.Dense) ([]int, error) {
	if lr.net == nil {
		return nil, estimator.ErrNotFitted
	}
	return lr.net.Predict(x)
}

// Probabilities implements estimator.Probabilistic.
func (lr *LogisticRegression) Probabilities(x *mat.Dense) (*mat.Dense, error) {
	if lr.net == nil {
		return nil, estimator.ErrNotFitted
	}
	return lr.net.Probabilities(x)
}

// History exposes the underlying training history for learning-curve plots.
func (lr *LogisticRegression) History() []neural.Epoch {
	if lr.net == nil {
		return nil
	}
	return lr.net.History
}

// MarshalParams implements estimator.Persistable by delegating to the
// underlying network.
func (lr *LogisticRegression) MarshalParams() (json.RawMessage, error) {
	if lr.net == nil {
		return nil, estimator.ErrNotFitted
	}
	return lr.net.MarshalParams()
}

// UnmarshalParams implements estimator.Persistable.
func (lr *LogisticRegression) UnmarshalParams(raw json.RawMessage) error {
	net := neural.New(neural.Config{})
	if err := net.UnmarshalParams(raw); err != nil {
		return err
	}
	lr.net = net
	cfg := net.Config()
	lr.L1, lr.L2 = cfg.L1, cfg.L2
	lr.NumBatches = cfg.NumBatches
	lr.MaxEpochs = cfg.MaxEpochs
	lr.LearningRate = cfg.LearningRate
	lr.Optimizer = cfg.Optimizer
	lr.Patience = cfg.Patience
	lr.Shuffle = cfg.Shuffle
	lr.Seed = cfg.Seed
	return nil
}
