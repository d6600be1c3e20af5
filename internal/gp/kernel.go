package gp

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RBF is the squared-exponential kernel
// k(x, x') = variance * exp(-|x - x'|^2 / (2 * lengthScale^2)).
type RBF struct {
	Variance    float64 `json:"variance"`
	LengthScale float64 `json:"length_scale"`
}

func (k RBF) validate() error {
	if k.Variance <= 0 || k.LengthScale <= 0 {
		return errors.Errorf("kernel variance and length scale must be positive, got %v, %v", k.Variance, k.LengthScale)
	}
	return nil
}

// Matrix computes the (n, m) Gram matrix between the rows of x and y using
// the |a|^2 + |b|^2 - 2ab expansion of the squared distance.
func (k RBF) Matrix(x, y *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	m, _ := y.Dims()

	xNorms := rowNorms(x)
	yNorms := rowNorms(y)

	out := mat.NewDense(n, m, nil)
	out.Mul(x, y.T())

	inv := 1 / (2 * k.LengthScale * k.LengthScale)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for j := 0; j < m; j++ {
			sq := xNorms[i] + yNorms[j] - 2*row[j]
			if sq < 0 {
				sq = 0
			}
			row[j] = k.Variance * math.Exp(-sq*inv)
		}
	}
	return out
}

func rowNorms(x *mat.Dense) []float64 {
	n, _ := x.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		out[i] = floats.Dot(row, row)
	}
	return out
}
