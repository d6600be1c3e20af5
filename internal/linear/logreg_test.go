package linear

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/estimator"
)

func blobs(n int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(3*n, 2, nil)
	y := make([]int, 3*n)
	centers := [][2]float64{{-3, 0}, {3, 0}, {0, 4}}
	for c, center := range centers {
		for i := 0; i < n; i++ {
			row := c*n + i
			x.Set(row, 0, center[0]+rng.NormFloat64()*0.4)
			x.Set(row, 1, center[1]+rng.NormFloat64()*0.4)
			y[row] = c
		}
	}
	return x, y
}

func TestLearnsLinearlySeparableClasses(t *testing.T) {
	x, y := blobs(60, 1)

	lr := New()
	lr.MaxEpochs = 60
	lr.NumBatches = 10
	lr.LearningRate = 0.05
	lr.Seed = 2
	require.NoError(t, lr.Fit(x, y))

	pred, err := lr.Predict(x)
	require.NoError(t, err)
	correct := 0
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(y)), 0.95)
	assert.NotEmpty(t, lr.History())
}

func TestProbabilitiesNormalized(t *testing.T) {
	x, y := blobs(30, 3)

	lr := New()
	lr.MaxEpochs = 20
	lr.L2 = 0.01
	lr.L1 = 0.001
	lr.Seed = 4
	require.NoError(t, lr.Fit(x, y))

	probs, err := lr.Probabilities(x)
	require.NoError(t, err)
	rows, _ := probs.Dims()
	for i := 0; i < rows; i++ {
		sum := 0.0
		for _, v := range probs.RawRowView(i) {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestNotFitted(t *testing.T) {
	lr := New()
	_, err := lr.Predict(mat.NewDense(1, 2, []float64{0, 0}))
	assert.ErrorIs(t, err, estimator.ErrNotFitted)
	_, err = lr.Probabilities(mat.NewDense(1, 2, []float64{0, 0}))
	assert.ErrorIs(t, err, estimator.ErrNotFitted)
	_, err = lr.MarshalParams()
	assert.ErrorIs(t, err, estimator.ErrNotFitted)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	x, y := blobs(40, 5)

	lr := New()
	lr.MaxEpochs = 20
	lr.Seed = 6
	require.NoError(t, lr.Fit(x, y))

	path := filepath.Join(t.TempDir(), "logreg.json")
	require.NoError(t, estimator.Save(lr, path))

	loaded, err := estimator.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "logreg", loaded.Name())

	want, err := lr.Predict(x)
	require.NoError(t, err)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
