package neural

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/estimator"
)

// blobs samples two Gaussian clusters, one per class.
func blobs(n int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(2*n, 2, nil)
	y := make([]int, 2*n)
	for i := 0; i < n; i++ {
		x.Set(i, 0, rng.NormFloat64()*0.3-2)
		x.Set(i, 1, rng.NormFloat64()*0.3-2)
		y[i] = 0
		x.Set(n+i, 0, rng.NormFloat64()*0.3+2)
		x.Set(n+i, 1, rng.NormFloat64()*0.3+2)
		y[n+i] = 1
	}
	return x, y
}

// batchLoss runs a forward pass and returns the full objective, penalties
// included.
func batchLoss(n *Network, x, targets *mat.Dense) float64 {
	loss := crossEntropy(n.forward(x), targets)
	for _, l := range n.layers {
		loss += l.penalty()
	}
	return loss
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	for _, act := range []string{ReLU, Sigmoid, Tanh} {
		t.Run(act, func(t *testing.T) {
			n := New(Config{
				Hidden:     []int{4},
				Activation: act,
				L2:         0.01,
				L1:         0.003,
				MaxEpochs:  1,
				Seed:       11,
			})

			x := mat.NewDense(5, 3, []float64{
				0.2, -0.4, 0.9,
				-1.1, 0.5, 0.3,
				0.7, 0.7, -0.2,
				-0.3, -0.9, 1.2,
				0.1, 1.4, -0.8,
			})
			y := []int{0, 1, 2, 1, 0}

			// build layers without training
			require.NoError(t, n.FitValidated(x, y, nil, nil))

			targets := mat.NewDense(5, 3, nil)
			for i, label := range y {
				targets.Set(i, label, 1)
			}

			// analytic gradients at the current weights
			probs := n.forward(x)
			grad := mat.NewDense(5, 3, nil)
			grad.Sub(probs, targets)
			grad.Scale(1.0/5, grad)
			for i := len(n.layers) - 1; i >= 0; i-- {
				grad = n.layers[i].backward(grad)
			}

			const h = 1e-6
			for _, l := range n.layers {
				for _, pg := range l.params() {
					for _, j := range []int{0, len(pg.w) / 2, len(pg.w) - 1} {
						orig := pg.w[j]
						pg.w[j] = orig + h
						plus := batchLoss(n, x, targets)
						pg.w[j] = orig - h
						minus := batchLoss(n, x, targets)
						pg.w[j] = orig

						numeric := (plus - minus) / (2 * h)
						assert.InDelta(t, numeric, pg.g[j], 1e-4)
					}
				}
			}
		})
	}
}

func TestLearnsSeparableBlobs(t *testing.T) {
	x, y := blobs(100, 1)

	n := New(Config{
		Hidden:       []int{8},
		MaxEpochs:    50,
		NumBatches:   10,
		LearningRate: 0.01,
		Shuffle:      true,
		Seed:         2,
	})
	require.NoError(t, n.Fit(x, y))

	pred, err := n.Predict(x)
	require.NoError(t, err)
	correct := 0
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(y)), 0.95)
}

func TestProbabilitiesSumToOne(t *testing.T) {
	x, y := blobs(30, 3)

	n := New(Config{MaxEpochs: 5, Seed: 4, Shuffle: true})
	require.NoError(t, n.Fit(x, y))

	probs, err := n.Probabilities(x)
	require.NoError(t, err)
	rows, _ := probs.Dims()
	for i := 0; i < rows; i++ {
		sum := 0.0
		for _, v := range probs.RawRowView(i) {
			sum += v
			assert.GreaterOrEqual(t, v, 0.0)
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestEarlyStoppingKeepsBestEpoch(t *testing.T) {
	x, y := blobs(80, 5)

	n := New(Config{
		Hidden:       []int{8},
		MaxEpochs:    100,
		NumBatches:   8,
		LearningRate: 0.05,
		Patience:     2,
		Shuffle:      true,
		Seed:         6,
	})
	require.NoError(t, n.Fit(x, y))

	assert.GreaterOrEqual(t, n.BestEpoch, 0)
	assert.Less(t, n.BestEpoch, len(n.History))
	assert.NotEmpty(t, n.History)
}

func TestFitRejectsBadInput(t *testing.T) {
	n := New(Config{})

	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	assert.Error(t, n.FitValidated(x, []int{0, 0}, nil, nil), "single class")
	assert.Error(t, n.FitValidated(x, []int{0}, nil, nil), "length mismatch")

	bad := New(Config{Activation: "step"})
	assert.Error(t, bad.FitValidated(x, []int{0, 1}, nil, nil))

	// negatives are not replaced by defaults and must be rejected
	for name, cfg := range map[string]Config{
		"negative batches":       {NumBatches: -5},
		"negative epochs":        {MaxEpochs: -1},
		"negative learning rate": {LearningRate: -0.1},
	} {
		assert.Error(t, New(cfg).FitValidated(x, []int{0, 1}, nil, nil), name)
	}

	_, err := New(Config{}).Predict(x)
	assert.ErrorIs(t, err, estimator.ErrNotFitted)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	x, y := blobs(40, 7)

	n := New(Config{Hidden: []int{4}, MaxEpochs: 10, Seed: 8, Shuffle: true})
	require.NoError(t, n.Fit(x, y))

	path := filepath.Join(t.TempDir(), "nn.json")
	require.NoError(t, estimator.Save(n, path))

	loaded, err := estimator.Load(path)
	require.NoError(t, err)

	want, err := n.Probabilities(x)
	require.NoError(t, err)
	got, err := loaded.(*Network).Probabilities(x)
	require.NoError(t, err)

	rows, cols := want.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.Abs(want.At(i, j)-got.At(i, j)) > 1e-12 {
				t.Fatalf("probability mismatch at (%d, %d)", i, j)
			}
		}
	}
}
