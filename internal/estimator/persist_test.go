package estimator

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// constant always predicts the same label; just enough model to exercise the
// registry round trip.
type constant struct {
	Label int `json:"label"`
}

func (c *constant) Name() string                { return "constant" }
func (c *constant) Fit(*mat.Dense, []int) error { return nil }

func (c *constant) Predict(x *mat.Dense) ([]int, error) {
	rows, _ := x.Dims()
	out := make([]int, rows)
	for i := range out {
		out[i] = c.Label
	}
	return out, nil
}
func (c *constant) MarshalParams() (json.RawMessage, error) { return json.Marshal(c) }
func (c *constant) UnmarshalParams(raw json.RawMessage) error {
	return json.Unmarshal(raw, c)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	Register("constant", func() Persistable { return &constant{} })

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, Save(&constant{Label: 4}, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "constant", loaded.Name())

	pred, err := loaded.Predict(mat.NewDense(2, 1, []float64{0, 1}))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, pred)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})

	t.Run("missing model field", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"params":{}}`), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "model")
	})

	t.Run("unknown model", func(t *testing.T) {
		path := filepath.Join(dir, "unknown.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"model":"perceptron","params":{}}`), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "unknown model")
	})
}

func TestValidateTraining(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	assert.NoError(t, ValidateTraining(x, []int{0, 1}, 2))
	assert.Error(t, ValidateTraining(nil, nil, 2))
	assert.Error(t, ValidateTraining(x, []int{0}, 2))
	assert.Error(t, ValidateTraining(x, []int{0, 2}, 2))

	bad := mat.NewDense(1, 1, []float64{math.NaN()})
	assert.Error(t, ValidateTraining(bad, []int{0}, 1))
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float64{0.1, 0.2, 0.7}))
	assert.Equal(t, 0, Argmax([]float64{0.5, 0.5}))
}
