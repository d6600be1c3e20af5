package gp

import (
	"encoding/json"
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
	x := mat.NewDense(2*n, 2, nil)
	y := make([]int, 2*n)
	for i := 0; i < n; i++ {
		x.Set(i, 0, rng.NormFloat64()*0.5-2)
		x.Set(i, 1, rng.NormFloat64()*0.5-2)
		y[i] = 0
		x.Set(n+i, 0, rng.NormFloat64()*0.5+2)
		x.Set(n+i, 1, rng.NormFloat64()*0.5+2)
		y[n+i] = 1
	}
	return x, y
}

func TestKernelMatrix(t *testing.T) {
	k := RBF{Variance: 2, LengthScale: 1.5}
	x := mat.NewDense(3, 2, []float64{
		0, 0,
		1, 0,
		0, 3,
	})

	gram := k.Matrix(x, x)

	// diagonal equals the variance, matrix is symmetric
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 2.0, gram.At(i, i), 1e-12)
		for j := 0; j < 3; j++ {
			assert.InDelta(t, gram.At(j, i), gram.At(i, j), 1e-12)
		}
	}

	// nearby points correlate more than distant ones
	assert.Greater(t, gram.At(0, 1), gram.At(0, 2))
	// k(x, x') = variance * exp(-1 / (2 * 2.25)) for unit distance
	assert.InDelta(t, 2*0.80073740291680804, gram.At(0, 1), 1e-9)
}

func TestSeparatesBlobs(t *testing.T) {
	x, y := blobs(25, 1)

	c := New()
	c.Kernel = RBF{Variance: 1, LengthScale: 2}
	require.NoError(t, c.Fit(x, y))

	pred, err := c.Predict(x)
	require.NoError(t, err)
	correct := 0
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(y)), 0.95)
}

func TestProbabilitiesAreDistributions(t *testing.T) {
	x, y := blobs(15, 2)

	c := New()
	c.Kernel = RBF{Variance: 1, LengthScale: 2}
	require.NoError(t, c.Fit(x, y))

	query := mat.NewDense(2, 2, []float64{
		-2, -2,
		0, 0,
	})
	probs, err := c.Probabilities(query)
	require.NoError(t, err)

	rows, cols := probs.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 2, cols)
	for i := 0; i < rows; i++ {
		sum := 0.0
		for _, v := range probs.RawRowView(i) {
			assert.Greater(t, v, 0.0)
			assert.Less(t, v, 1.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	// the cluster-center query is confident, the midpoint is not
	assert.Greater(t, probs.At(0, 0), 0.7)
	assert.InDelta(t, 0.5, probs.At(1, 0), 0.2)
}

func TestValidation(t *testing.T) {
	x, y := blobs(5, 3)

	t.Run("predict before fit", func(t *testing.T) {
		_, err := New().Predict(x)
		assert.ErrorIs(t, err, estimator.ErrNotFitted)
	})

	t.Run("bad kernel", func(t *testing.T) {
		c := New()
		c.Kernel.LengthScale = 0
		assert.Error(t, c.Fit(x, y))
	})

	t.Run("single class", func(t *testing.T) {
		c := New()
		assert.Error(t, c.Fit(x, make([]int, len(y))))
	})

	t.Run("feature mismatch", func(t *testing.T) {
		c := New()
		require.NoError(t, c.Fit(x, y))
		_, err := c.Predict(mat.NewDense(1, 3, []float64{1, 2, 3}))
		assert.Error(t, err)
	})
}

func TestUnmarshalRejectsCorruptedParams(t *testing.T) {
	// 2 training rows of 2 features, but 3-element mode/target vectors
	doc := params{
		Kernel:      RBF{Variance: 1, LengthScale: 2},
		MaxIter:     30,
		Tol:         1e-6,
		Jitter:      1e-6,
		NumClasses:  2,
		NumFeatures: 2,
		X:           []float64{0, 0, 1, 1},
		Modes:       [][]float64{{0.1, 0.2, 0.3}, {0.1, 0.2, 0.3}},
		Targets:     [][]float64{{1, 0, 0}, {0, 1, 1}},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	assert.ErrorContains(t, New().UnmarshalParams(raw), "training rows")

	t.Run("mode count mismatch", func(t *testing.T) {
		short := doc
		short.Modes = doc.Modes[:1]
		raw, err := json.Marshal(short)
		require.NoError(t, err)
		assert.Error(t, New().UnmarshalParams(raw))
	})

	t.Run("x not divisible by features", func(t *testing.T) {
		ragged := doc
		ragged.X = []float64{0, 0, 1}
		raw, err := json.Marshal(ragged)
		require.NoError(t, err)
		assert.Error(t, New().UnmarshalParams(raw))
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	x, y := blobs(12, 4)

	c := New()
	c.Kernel = RBF{Variance: 1, LengthScale: 2}
	require.NoError(t, c.Fit(x, y))

	path := filepath.Join(t.TempDir(), "gp.json")
	require.NoError(t, estimator.Save(c, path))

	loaded, err := estimator.Load(path)
	require.NoError(t, err)

	want, err := c.Probabilities(x)
	require.NoError(t, err)
	got, err := loaded.(*Classifier).Probabilities(x)
	require.NoError(t, err)

	rows, cols := want.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			assert.InDelta(t, want.At(i, j), got.At(i, j), 1e-9)
		}
	}
}
