package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/neural"
)

func TestRenderTable(t *testing.T) {
	results := []Result{
		{Model: "knn", TrainSize: 1000, FitTime: time.Second, PredictTime: time.Minute,
			TestError: 0.0312, CVMean: math.NaN(), CVStd: math.NaN()},
		{Model: "gp", TrainSize: 500, FitTime: time.Minute, PredictTime: time.Second,
			TestError: 0.07, CVMean: 0.081, CVStd: 0.004},
	}

	var buf bytes.Buffer
	RenderTable(&buf, results)
	out := buf.String()

	assert.Contains(t, out, "knn")
	assert.Contains(t, out, "gp")
	assert.Contains(t, out, "3.12%")
	assert.Contains(t, out, "8.10%")
	// knn ran without cross-validation
	assert.Contains(t, out, "-")
}

func TestRenderTableWithoutCV(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, []Result{
		{Model: "logreg", TestError: 0.1, CVMean: math.NaN(), CVStd: math.NaN()},
	})
	assert.NotContains(t, buf.String(), "cv error")
}

func TestRenderConfusion(t *testing.T) {
	cm := mat.NewDense(2, 2, []float64{5, 1, 2, 7})

	var buf bytes.Buffer
	RenderConfusion(&buf, cm)
	out := buf.String()

	assert.Contains(t, out, "5")
	assert.Contains(t, out, "7")
}

func TestLearningCurve(t *testing.T) {
	history := []neural.Epoch{
		{Loss: 1.2, TrainAcc: 0.4, ValAcc: 0.35},
		{Loss: 0.8, TrainAcc: 0.7, ValAcc: 0.6},
		{Loss: 0.5, TrainAcc: 0.9, ValAcc: 0.8},
	}

	path := filepath.Join(t.TempDir(), "curve.png")
	require.NoError(t, LearningCurve(history, "nn", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, LearningCurve(nil, "empty", path))
}
