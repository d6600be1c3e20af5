package neural

import (
	"math"

	"github.com/pkg/errors"
)

// Optimizer names accepted in Config.
const (
	Adam = "adam"
	SGD  = "sgd"
)

type optimizer interface {
	step(pgs []paramGrad)
}

func newOptimizer(cfg Config) (optimizer, error) {
	switch cfg.Optimizer {
	case Adam:
		return &adam{lr: cfg.LearningRate, beta1: 0.9, beta2: 0.999, eps: 1e-8}, nil
	case SGD:
		return &sgd{lr: cfg.LearningRate, momentum: cfg.Momentum}, nil
	}
	return nil, errors.Errorf("unknown optimizer %q", cfg.Optimizer)
}

type sgd struct {
	lr       float64
	momentum float64
	vel      [][]float64
}

func (o *sgd) step(pgs []paramGrad) {
	if o.vel == nil {
		o.vel = make([][]float64, len(pgs))
		for i, pg := range pgs {
			o.vel[i] = make([]float64, len(pg.w))
		}
	}
	for i, pg := range pgs {
		vel := o.vel[i]
		for j := range pg.w {
			vel[j] = o.momentum*vel[j] - o.lr*pg.g[j]
			pg.w[j] += vel[j]
		}
	}
}

// adam implements bias-corrected Adam updates.
type adam struct {
	lr, beta1, beta2, eps float64

	t    int
	m, v [][]float64
}

func (o *adam) step(pgs []paramGrad) {
	if o.m == nil {
		o.m = make([][]float64, len(pgs))
		o.v = make([][]float64, len(pgs))
		for i, pg := range pgs {
			o.m[i] = make([]float64, len(pg.w))
			o.v[i] = make([]float64, len(pg.w))
		}
	}
	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, pg := range pgs {
		m, v := o.m[i], o.v[i]
		for j := range pg.w {
			g := pg.g[j]
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			pg.w[j] -= o.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.eps)
		}
	}
}
