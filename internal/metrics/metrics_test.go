package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []int
		yPred   []int
		want    float64
		wantErr bool
	}{
		{name: "all correct", yTrue: []int{0, 1, 2}, yPred: []int{0, 1, 2}, want: 1},
		{name: "none correct", yTrue: []int{0, 1}, yPred: []int{1, 0}, want: 0},
		{name: "half correct", yTrue: []int{0, 1, 1, 0}, yPred: []int{0, 0, 1, 1}, want: 0.5},
		{name: "empty", wantErr: true},
		{name: "length mismatch", yTrue: []int{0}, yPred: []int{0, 1}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Accuracy(tc.yTrue, tc.yPred)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			loss, err := ZeroOneLoss(tc.yTrue, tc.yPred)
			require.NoError(t, err)
			assert.InDelta(t, 1-tc.want, loss, 1e-12)
		})
	}
}

func TestConfusionMatrix(t *testing.T) {
	cm, err := ConfusionMatrix([]int{0, 0, 1, 1, 1}, []int{0, 1, 1, 1, 0}, 2)
	require.NoError(t, err)

	assert.Equal(t, 1.0, cm.At(0, 0))
	assert.Equal(t, 1.0, cm.At(0, 1))
	assert.Equal(t, 1.0, cm.At(1, 0))
	assert.Equal(t, 2.0, cm.At(1, 1))

	perClass := PerClassError(cm)
	assert.InDelta(t, 0.5, perClass[0], 1e-12)
	assert.InDelta(t, 1.0/3, perClass[1], 1e-12)

	_, err = ConfusionMatrix([]int{2}, []int{0}, 2)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	summary, err := Summarize([]float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, summary.Mean, 1e-12)
	assert.InDelta(t, 0.1, summary.Std, 1e-12)

	single, err := Summarize([]float64{0.4})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, single.Mean, 1e-12)
	assert.Equal(t, 0.0, single.Std)

	_, err = Summarize(nil)
	assert.Error(t, err)
}
