// Package gp implements a Gaussian process classifier with a binary Laplace
// approximation (Rasmussen & Williams, algorithms 3.1 and 3.2) extended to
// multiple classes one-vs-rest.
package gp

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/estimator"
)

const modelName = "gp"

// Classifier approximates the latent posterior at its mode with Newton
// iterations, one binary model per class sharing the kernel matrix.
type Classifier struct {
	Kernel  RBF
	MaxIter int
	Tol     float64
	// Jitter is added to the kernel diagonal for numerical stability.
	Jitter float64

	x           *mat.Dense
	numClasses  int
	numFeatures int
	models      []binaryModel
}

// binaryModel holds the fitted quantities needed for prediction: the
// gradient t - pi at the mode, the square root of the Hessian diagonal W and
// the Cholesky factor of B = I + W^1/2 K W^1/2.
type binaryModel struct {
	fHat  []float64
	grad  []float64
	wSqrt []float64
	chol  *mat.Cholesky
}

// New returns a classifier with textbook defaults.
func New() *Classifier {
	return &Classifier{
		Kernel:  RBF{Variance: 1, LengthScale: 8},
		MaxIter: 30,
		Tol:     1e-6,
		Jitter:  1e-6,
	}
}

func init() {
	estimator.Register(modelName, func() estimator.Persistable { return New() })
}

// Name implements estimator.Classifier.
func (c *Classifier) Name() string { return modelName }

// Fit computes the shared kernel matrix once and finds the Laplace mode for
// every one-vs-rest binary problem. Cost grows cubically with the training
// set size; callers cap it.
func (c *Classifier) Fit(x *mat.Dense, y []int) error {
	if err := c.Kernel.validate(); err != nil {
		return err
	}
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

	rows, cols := x.Dims()
	c.x = mat.DenseCopyOf(x)
	c.numClasses = numClasses
	c.numFeatures = cols

	gram := c.Kernel.Matrix(c.x, c.x)
	for i := 0; i < rows; i++ {
		gram.Set(i, i, gram.At(i, i)+c.Jitter)
	}

	c.models = make([]binaryModel, numClasses)
	for class := 0; class < numClasses; class++ {
		targets := make([]float64, rows)
		for i, label := range y {
			if label == class {
				targets[i] = 1
			}
		}
		fHat, err := findMode(gram, targets, c.MaxIter, c.Tol)
		if err != nil {
			return errors.Wrapf(err, "class %d", class)
		}
		model, err := finalize(gram, targets, fHat)
		if err != nil {
			return errors.Wrapf(err, "class %d", class)
		}
		c.models[class] = model
	}
	return nil
}

// findMode runs Newton iterations for the latent posterior mode
// (Rasmussen & Williams algorithm 3.1, the numerically stable update).
func findMode(gram *mat.Dense, targets []float64, maxIter int, tol float64) ([]float64, error) {
	n := len(targets)
	f := make([]float64, n)
	fNew := make([]float64, n)

	for iter := 0; iter < maxIter; iter++ {
		pi, wSqrt := moments(f)

		chol, err := factorizeB(gram, wSqrt)
		if err != nil {
			return nil, err
		}

		// b = W f + (t - pi)
		b := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			b.SetVec(i, wSqrt[i]*wSqrt[i]*f[i]+targets[i]-pi[i])
		}

		// a = b - W^1/2 B^-1 W^1/2 K b
		kb := mat.NewVecDense(n, nil)
		kb.MulVec(gram, b)
		scaled := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			scaled.SetVec(i, wSqrt[i]*kb.AtVec(i))
		}
		solved := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(solved, scaled); err != nil {
			return nil, errors.Wrap(err, "solving B system")
		}
		a := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			a.SetVec(i, b.AtVec(i)-wSqrt[i]*solved.AtVec(i))
		}

		fVec := mat.NewVecDense(n, fNew)
		fVec.MulVec(gram, a)

		delta := 0.0
		for i := 0; i < n; i++ {
			delta = math.Max(delta, math.Abs(fNew[i]-f[i]))
		}
		copy(f, fNew)
		if delta < tol {
			break
		}
	}
	return f, nil
}

// finalize recomputes the prediction-time quantities at a given mode.
func finalize(gram *mat.Dense, targets, fHat []float64) (binaryModel, error) {
	pi, wSqrt := moments(fHat)
	chol, err := factorizeB(gram, wSqrt)
	if err != nil {
		return binaryModel{}, err
	}
	n := len(targets)
	grad := make([]float64, n)
	for i := 0; i < n; i++ {
		grad[i] = targets[i] - pi[i]
	}
	return binaryModel{fHat: fHat, grad: grad, wSqrt: wSqrt, chol: chol}, nil
}

// moments evaluates the logistic likelihood: pi = sigma(f) and W^1/2 with
// W = pi (1 - pi).
func moments(f []float64) (pi, wSqrt []float64) {
	pi = make([]float64, len(f))
	wSqrt = make([]float64, len(f))
	for i, v := range f {
		p := 1 / (1 + math.Exp(-v))
		pi[i] = p
		wSqrt[i] = math.Sqrt(p * (1 - p))
	}
	return pi, wSqrt
}

// factorizeB builds and factorizes B = I + W^1/2 K W^1/2.
func factorizeB(gram *mat.Dense, wSqrt []float64) (*mat.Cholesky, error) {
	n := len(wSqrt)
	b := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := wSqrt[i] * gram.At(i, j) * wSqrt[j]
			if i == j {
				v++
			}
			b.SetSym(i, j, v)
		}
	}
	chol := &mat.Cholesky{}
	if ok := chol.Factorize(b); !ok {
		return nil, errors.New("B matrix is not positive definite")
	}
	return chol, nil
}

// Probabilities implements algorithm 3.2 per test point and class, then
// normalizes the one-vs-rest scores into a distribution.
func (c *Classifier) Probabilities(x *mat.Dense) (*mat.Dense, error) {
	if c.x == nil {
		return nil, estimator.ErrNotFitted
	}
	if err := estimator.CheckFeatures(x, c.numFeatures); err != nil {
		return nil, err
	}

	rows, _ := x.Dims()
	trainRows, _ := c.x.Dims()
	kStar := c.Kernel.Matrix(x, c.x)

	out := mat.NewDense(rows, c.numClasses, nil)
	u := mat.NewVecDense(trainRows, nil)
	z := mat.NewVecDense(trainRows, nil)

	for i := 0; i < rows; i++ {
		kRow := kStar.RawRowView(i)
		shares := out.RawRowView(i)
		for class, model := range c.models {
			// predictive mean of the latent function
			mean := floats.Dot(kRow, model.grad)

			// predictive variance via v = L \ (W^1/2 k*)
			for j := 0; j < trainRows; j++ {
				u.SetVec(j, model.wSqrt[j]*kRow[j])
			}
			if err := model.chol.SolveVecTo(z, u); err != nil {
				return nil, errors.Wrap(err, "solving for predictive variance")
			}
			variance := c.Kernel.Variance - mat.Dot(u, z)
			if variance < 0 {
				variance = 0
			}

			// probit approximation of the averaged predictive
			// probability
			shares[class] = 1 / (1 + math.Exp(-mean/math.Sqrt(1+math.Pi*variance/8)))
		}
		sum := floats.Sum(shares)
		if sum > 0 {
			floats.Scale(1/sum, shares)
		}
	}
	return out, nil
}

// Predict implements estimator.Classifier.
func (c *Classifier) Predict(x *mat.Dense) ([]int, error) {
	probs, err := c.Probabilities(x)
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

type params struct {
	Kernel      RBF         `json:"kernel"`
	MaxIter     int         `json:"max_iter"`
	Tol         float64     `json:"tol"`
	Jitter      float64     `json:"jitter"`
	NumClasses  int         `json:"num_classes"`
	NumFeatures int         `json:"num_features"`
	X           []float64   `json:"x"`
	Modes       [][]float64 `json:"modes"`
	Targets     [][]float64 `json:"targets"`
}

// MarshalParams implements estimator.Persistable. Only the latent modes and
// training data are stored; the factorizations are rebuilt on load.
func (c *Classifier) MarshalParams() (json.RawMessage, error) {
	if c.x == nil {
		return nil, estimator.ErrNotFitted
	}
	trainRows, _ := c.x.Dims()
	p := params{
		Kernel:      c.Kernel,
		MaxIter:     c.MaxIter,
		Tol:         c.Tol,
		Jitter:      c.Jitter,
		NumClasses:  c.numClasses,
		NumFeatures: c.numFeatures,
		X:           c.x.RawMatrix().Data,
		Modes:       make([][]float64, c.numClasses),
		Targets:     make([][]float64, c.numClasses),
	}
	for class, model := range c.models {
		p.Modes[class] = model.fHat
		targets := make([]float64, trainRows)
		for i := range targets {
			targets[i] = model.grad[i] + sigmoid(model.fHat[i])
		}
		p.Targets[class] = targets
	}
	return json.Marshal(p)
}

// UnmarshalParams implements estimator.Persistable.
func (c *Classifier) UnmarshalParams(raw json.RawMessage) error {
	var p params
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.NumFeatures <= 0 || p.NumClasses < 2 || len(p.X)%p.NumFeatures != 0 {
		return errors.New("inconsistent gp parameters")
	}
	if len(p.Modes) != p.NumClasses || len(p.Targets) != p.NumClasses {
		return errors.New("inconsistent gp mode count")
	}

	c.Kernel = p.Kernel
	c.MaxIter = p.MaxIter
	c.Tol = p.Tol
	c.Jitter = p.Jitter
	c.numClasses = p.NumClasses
	c.numFeatures = p.NumFeatures
	rows := len(p.X) / p.NumFeatures
	c.x = mat.NewDense(rows, p.NumFeatures, p.X)

	gram := c.Kernel.Matrix(c.x, c.x)
	for i := 0; i < rows; i++ {
		gram.Set(i, i, gram.At(i, i)+c.Jitter)
	}

	c.models = make([]binaryModel, p.NumClasses)
	for class := 0; class < p.NumClasses; class++ {
		if len(p.Modes[class]) != rows || len(p.Targets[class]) != rows {
			return errors.Errorf("class %d has %d modes and %d targets for %d training rows",
				class, len(p.Modes[class]), len(p.Targets[class]), rows)
		}
		model, err := finalize(gram, p.Targets[class], p.Modes[class])
		if err != nil {
			return errors.Wrapf(err, "class %d", class)
		}
		c.models[class] = model
	}
	return nil
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
