// Package neural implements a small feed-forward network trained with
// minibatch gradient descent. It is also the training engine behind the
// logistic regression model.
package neural

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Activation kinds.
const (
	ReLU    = "relu"
	Sigmoid = "sigmoid"
	Tanh    = "tanh"
	Softmax = "softmax"
)

// paramGrad pairs a flat parameter slice with its gradient so optimizers can
// update in place.
type paramGrad struct {
	w []float64
	g []float64
}

type layer interface {
	// initialize sets up parameters for the given input width and returns
	// the output width.
	initialize(rng *rand.Rand, in int) int
	forward(x *mat.Dense) *mat.Dense
	backward(grad *mat.Dense) *mat.Dense
	params() []paramGrad
	penalty() float64
}

// dense is a fully connected layer with optional L1/L2 weight penalties.
type dense struct {
	out    int
	l1, l2 float64

	w  *mat.Dense // (in, out)
	b  []float64
	dw *mat.Dense
	db []float64

	x *mat.Dense // input cached for backward
}

func (d *dense) initialize(rng *rand.Rand, in int) int {
	// Glorot-scaled Gaussian init
	scale := math.Sqrt(2 / float64(in+d.out))
	data := make([]float64, in*d.out)
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	d.w = mat.NewDense(in, d.out, data)
	d.b = make([]float64, d.out)
	d.dw = mat.NewDense(in, d.out, nil)
	d.db = make([]float64, d.out)
	return d.out
}

func (d *dense) forward(x *mat.Dense) *mat.Dense {
	d.x = x
	rows, _ := x.Dims()
	y := mat.NewDense(rows, d.out, nil)
	y.Mul(x, d.w)
	for i := 0; i < rows; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += d.b[j]
		}
	}
	return y
}

func (d *dense) backward(grad *mat.Dense) *mat.Dense {
	d.dw.Mul(d.x.T(), grad)

	// weight-penalty gradients
	if d.l1 != 0 || d.l2 != 0 {
		raw := d.dw.RawMatrix().Data
		weights := d.w.RawMatrix().Data
		for i, w := range weights {
			raw[i] += d.l2 * w
			if d.l1 != 0 {
				if w > 0 {
					raw[i] += d.l1
				} else if w < 0 {
					raw[i] -= d.l1
				}
			}
		}
	}

	rows, _ := grad.Dims()
	for j := range d.db {
		d.db[j] = 0
	}
	for i := 0; i < rows; i++ {
		row := grad.RawRowView(i)
		for j := range row {
			d.db[j] += row[j]
		}
	}

	in, _ := d.w.Dims()
	dx := mat.NewDense(rows, in, nil)
	dx.Mul(grad, d.w.T())
	return dx
}

func (d *dense) params() []paramGrad {
	return []paramGrad{
		{w: d.w.RawMatrix().Data, g: d.dw.RawMatrix().Data},
		{w: d.b, g: d.db},
	}
}

func (d *dense) penalty() float64 {
	p := 0.0
	for _, w := range d.w.RawMatrix().Data {
		p += 0.5*d.l2*w*w + d.l1*math.Abs(w)
	}
	return p
}

// activation applies an elementwise nonlinearity, or row-wise softmax. The
// softmax backward is the identity: its gradient is fused with the
// cross-entropy loss in the training loop.
type activation struct {
	kind string
	out  *mat.Dense
}

func (a *activation) initialize(_ *rand.Rand, in int) int { return in }

func (a *activation) forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	y := mat.NewDense(rows, cols, nil)

	switch a.kind {
	case Softmax:
		for i := 0; i < rows; i++ {
			src := x.RawRowView(i)
			dst := y.RawRowView(i)
			max := src[0]
			for _, v := range src {
				if v > max {
					max = v
				}
			}
			sum := 0.0
			for j, v := range src {
				dst[j] = math.Exp(v - max)
				sum += dst[j]
			}
			for j := range dst {
				dst[j] /= sum
			}
		}
	case ReLU:
		y.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, x)
	case Sigmoid:
		y.Apply(func(_, _ int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, x)
	case Tanh:
		y.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, x)
	}
	a.out = y
	return y
}

func (a *activation) backward(grad *mat.Dense) *mat.Dense {
	if a.kind == Softmax {
		return grad
	}
	rows, cols := grad.Dims()
	dx := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		g := grad.RawRowView(i)
		o := a.out.RawRowView(i)
		d := dx.RawRowView(i)
		for j := range g {
			switch a.kind {
			case ReLU:
				if o[j] > 0 {
					d[j] = g[j]
				}
			case Sigmoid:
				d[j] = g[j] * o[j] * (1 - o[j])
			case Tanh:
				d[j] = g[j] * (1 - o[j]*o[j])
			}
		}
	}
	return dx
}

func (a *activation) params() []paramGrad { return nil }
func (a *activation) penalty() float64    { return 0 }

func validActivation(kind string) error {
	switch kind {
	case ReLU, Sigmoid, Tanh:
		return nil
	}
	return errors.Errorf("unknown activation %q", kind)
}

const lossEpsilon = 1e-12

// crossEntropy averages -sum(t * log p) over the batch rows.
func crossEntropy(probs, targets *mat.Dense) float64 {
	rows, cols := probs.Dims()
	loss := 0.0
	for i := 0; i < rows; i++ {
		p := probs.RawRowView(i)
		t := targets.RawRowView(i)
		for j := 0; j < cols; j++ {
			if t[j] != 0 {
				loss -= t[j] * math.Log(p[j]+lossEpsilon)
			}
		}
	}
	return loss / float64(rows)
}
