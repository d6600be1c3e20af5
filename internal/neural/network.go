package neural

import (
	"encoding/json"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/dataset"
	"github.com/AndreiCostinescu/ml1-mnist/internal/estimator"
)

const modelName = "nn"

// Config collects the network architecture and training hyperparameters.
// Zero values are replaced by defaults in New.
type Config struct {
	// Hidden lists the widths of the hidden layers; empty means a single
	// linear layer, i.e. multinomial logistic regression.
	Hidden     []int   `json:"hidden"`
	Activation string  `json:"activation"`
	L1         float64 `json:"l1"`
	L2         float64 `json:"l2"`
	// NumBatches splits each epoch into this many minibatches.
	NumBatches   int     `json:"num_batches"`
	MaxEpochs    int     `json:"max_epochs"`
	LearningRate float64 `json:"learning_rate"`
	Optimizer    string  `json:"optimizer"`
	Momentum     float64 `json:"momentum"`
	// Patience enables early stopping on validation accuracy; zero
	// disables it.
	Patience int     `json:"patience"`
	ValRatio float64 `json:"val_ratio"`
	Shuffle  bool    `json:"shuffle"`
	Seed     int64   `json:"seed"`
}

func withDefaults(cfg Config) Config {
	if cfg.Activation == "" {
		cfg.Activation = ReLU
	}
	if cfg.NumBatches == 0 {
		cfg.NumBatches = 10
	}
	if cfg.MaxEpochs == 0 {
		cfg.MaxEpochs = 20
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 1e-3
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = Adam
	}
	if cfg.ValRatio == 0 {
		cfg.ValRatio = 0.15
	}
	return cfg
}

// Epoch records the training history of one pass over the data.
type Epoch struct {
	Loss     float64 `json:"loss"`
	TrainAcc float64 `json:"train_acc"`
	ValAcc   float64 `json:"val_acc"`
}

// Network is a feed-forward classifier with a softmax output layer.
type Network struct {
	cfg    Config
	layers []layer

	numFeatures int
	numClasses  int
	fitted      bool

	// History holds per-epoch loss and accuracy for learning-curve plots.
	History []Epoch
	// BestEpoch is the epoch whose weights were kept when early stopping
	// triggered, -1 otherwise.
	BestEpoch int
}

// New builds an untrained network from cfg.
func New(cfg Config) *Network {
	return &Network{cfg: withDefaults(cfg), BestEpoch: -1}
}

func init() {
	estimator.Register(modelName, func() estimator.Persistable { return New(Config{}) })
}

// Name implements estimator.Classifier.
func (n *Network) Name() string { return modelName }

// Config returns the effective configuration.
func (n *Network) Config() Config { return n.cfg }

// Fit trains the network. When early stopping is enabled a stratified
// validation split of cfg.ValRatio is held out of x internally.
func (n *Network) Fit(x *mat.Dense, y []int) error {
	if n.cfg.Patience <= 0 {
		return n.FitValidated(x, y, nil, nil)
	}
	splitter := &dataset.Splitter{Shuffle: true, Seed: n.cfg.Seed}
	trainIdx, valIdx, err := splitter.Split(y, 1-n.cfg.ValRatio, true)
	if err != nil {
		return err
	}
	xTrain, yTrain := dataset.Subset(x, y, trainIdx)
	xVal, yVal := dataset.Subset(x, y, valIdx)
	return n.FitValidated(xTrain, yTrain, xVal, yVal)
}

// FitValidated trains on the given set and, when a validation set is
// supplied, tracks validation accuracy for early stopping.
func (n *Network) FitValidated(x *mat.Dense, y []int, xVal *mat.Dense, yVal []int) error {
	numClasses := 0
	for _, label := range y {
		if label >= numClasses {
			numClasses = label + 1
		}
	}
	if numClasses < 2 {
		return errors.New("need at least 2 classes")
	}
	if err := estimator.ValidateTraining(x, y, numClasses); err != nil {
		return err
	}
	if err := validActivation(n.cfg.Activation); err != nil {
		return err
	}
	if n.cfg.NumBatches < 1 {
		return errors.Errorf("batches per epoch must be positive, got %d", n.cfg.NumBatches)
	}
	if n.cfg.MaxEpochs < 1 {
		return errors.Errorf("max epochs must be positive, got %d", n.cfg.MaxEpochs)
	}
	if n.cfg.LearningRate <= 0 {
		return errors.Errorf("learning rate must be positive, got %g", n.cfg.LearningRate)
	}

	rows, cols := x.Dims()
	n.numFeatures = cols
	n.numClasses = numClasses
	n.History = nil
	n.BestEpoch = -1

	rng := rand.New(rand.NewSource(n.cfg.Seed))
	n.layers = nil
	for _, width := range n.cfg.Hidden {
		if width < 1 {
			return errors.Errorf("hidden layer width must be positive, got %d", width)
		}
		n.layers = append(n.layers, &dense{out: width, l1: n.cfg.L1, l2: n.cfg.L2}, &activation{kind: n.cfg.Activation})
	}
	n.layers = append(n.layers, &dense{out: numClasses, l1: n.cfg.L1, l2: n.cfg.L2}, &activation{kind: Softmax})

	width := cols
	for _, l := range n.layers {
		width = l.initialize(rng, width)
	}

	targets, err := dataset.OneHot(y, numClasses)
	if err != nil {
		return err
	}

	opt, err := newOptimizer(n.cfg)
	if err != nil {
		return err
	}

	numBatches := n.cfg.NumBatches
	if numBatches > rows {
		numBatches = rows
	}
	batchSize := rows / numBatches

	indices := make([]int, rows)
	for i := range indices {
		indices[i] = i
	}

	bestValAcc := -1.0
	var bestWeights [][]float64
	wait := 0

	n.fitted = true // predict is used below for the epoch history
	for epoch := 0; epoch < n.cfg.MaxEpochs; epoch++ {
		if n.cfg.Shuffle {
			rng.Shuffle(rows, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		}

		epochLoss := 0.0
		for b := 0; b < numBatches; b++ {
			start := b * batchSize
			end := start + batchSize
			if b == numBatches-1 {
				end = rows
			}
			batch := indices[start:end]

			xb, _ := dataset.Subset(x, y, batch)
			tb := mat.NewDense(len(batch), numClasses, nil)
			for i, j := range batch {
				tb.SetRow(i, targets.RawRowView(j))
			}

			probs := n.forward(xb)
			loss := crossEntropy(probs, tb)
			for _, l := range n.layers {
				loss += l.penalty()
			}
			epochLoss += loss

			// softmax cross-entropy gradient at the output
			grad := mat.NewDense(len(batch), numClasses, nil)
			grad.Sub(probs, tb)
			grad.Scale(1/float64(len(batch)), grad)

			for i := len(n.layers) - 1; i >= 0; i-- {
				grad = n.layers[i].backward(grad)
			}

			var pgs []paramGrad
			for _, l := range n.layers {
				pgs = append(pgs, l.params()...)
			}
			opt.step(pgs)
		}

		record := Epoch{Loss: epochLoss / float64(numBatches)}
		if pred, err := n.Predict(x); err == nil {
			record.TrainAcc = accuracy(y, pred)
		}
		if xVal != nil {
			pred, err := n.Predict(xVal)
			if err != nil {
				return err
			}
			record.ValAcc = accuracy(yVal, pred)
		}
		n.History = append(n.History, record)

		if xVal != nil && n.cfg.Patience > 0 {
			if record.ValAcc > bestValAcc {
				bestValAcc = record.ValAcc
				bestWeights = n.snapshot()
				n.BestEpoch = epoch
				wait = 0
			} else {
				wait++
				if wait >= n.cfg.Patience {
					break
				}
			}
		}
	}

	if bestWeights != nil {
		n.restore(bestWeights)
	}
	return nil
}

func (n *Network) forward(x *mat.Dense) *mat.Dense {
	out := x
	for _, l := range n.layers {
		out = l.forward(out)
	}
	return out
}

// Probabilities returns the softmax outputs, one row per sample.
func (n *Network) Probabilities(x *mat.Dense) (*mat.Dense, error) {
	if !n.fitted {
		return nil, estimator.ErrNotFitted
	}
	if err := estimator.CheckFeatures(x, n.numFeatures); err != nil {
		return nil, err
	}
	return n.forward(x), nil
}

// Predict returns the argmax class per row.
func (n *Network) Predict(x *mat.Dense) ([]int, error) {
	probs, err := n.Probabilities(x)
	if err != nil {
		return nil, err
	}
	rows, _ := probs.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		out[i] = estimator.Argmax(probs.RawRowView(i))
	}
	return out, nil
}

func (n *Network) snapshot() [][]float64 {
	var out [][]float64
	for _, l := range n.layers {
		for _, pg := range l.params() {
			out = append(out, append([]float64(nil), pg.w...))
		}
	}
	return out
}

func (n *Network) restore(weights [][]float64) {
	i := 0
	for _, l := range n.layers {
		for _, pg := range l.params() {
			copy(pg.w, weights[i])
			i++
		}
	}
}

func accuracy(yTrue, yPred []int) float64 {
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

type params struct {
	Config      Config      `json:"config"`
	NumFeatures int         `json:"num_features"`
	NumClasses  int         `json:"num_classes"`
	Weights     [][]float64 `json:"weights"`
	History     []Epoch     `json:"history,omitempty"`
}

// MarshalParams implements estimator.Persistable.
func (n *Network) MarshalParams() (json.RawMessage, error) {
	if !n.fitted {
		return nil, estimator.ErrNotFitted
	}
	return json.Marshal(params{
		Config:      n.cfg,
		NumFeatures: n.numFeatures,
		NumClasses:  n.numClasses,
		Weights:     n.snapshot(),
		History:     n.History,
	})
}

// UnmarshalParams implements estimator.Persistable.
func (n *Network) UnmarshalParams(raw json.RawMessage) error {
	var p params
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.NumFeatures <= 0 || p.NumClasses < 2 {
		return errors.New("inconsistent network parameters")
	}

	n.cfg = withDefaults(p.Config)
	n.numFeatures = p.NumFeatures
	n.numClasses = p.NumClasses
	n.History = p.History
	n.BestEpoch = -1

	rng := rand.New(rand.NewSource(n.cfg.Seed))
	n.layers = nil
	for _, width := range n.cfg.Hidden {
		n.layers = append(n.layers, &dense{out: width, l1: n.cfg.L1, l2: n.cfg.L2}, &activation{kind: n.cfg.Activation})
	}
	n.layers = append(n.layers, &dense{out: p.NumClasses, l1: n.cfg.L1, l2: n.cfg.L2}, &activation{kind: Softmax})
	width := p.NumFeatures
	for _, l := range n.layers {
		width = l.initialize(rng, width)
	}

	var expected int
	for _, l := range n.layers {
		expected += len(l.params())
	}
	if len(p.Weights) != expected {
		return errors.Errorf("expected %d weight blocks, got %d", expected, len(p.Weights))
	}
	i := 0
	for _, l := range n.layers {
		for _, pg := range l.params() {
			if len(pg.w) != len(p.Weights[i]) {
				return errors.Errorf("weight block %d has length %d, expected %d", i, len(p.Weights[i]), len(pg.w))
			}
			copy(pg.w, p.Weights[i])
			i++
		}
	}
	n.fitted = true
	return nil
}
