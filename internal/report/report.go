// Package report renders the evaluation results: the model comparison table,
// confusion matrices and learning-curve plots.
package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/AndreiCostinescu/ml1-mnist/internal/neural"
)

// Result is one row of the comparison table.
type Result struct {
	Model       string
	TrainSize   int
	FitTime     time.Duration
	PredictTime time.Duration
	// TestError is the zero-one loss on the held-out test set.
	TestError float64
	// CVMean/CVStd summarize cross-validation error; NaN when CV was not
	// run.
	CVMean float64
	CVStd  float64
}

// RenderTable writes the model comparison to w.
func RenderTable(w io.Writer, results []Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	withCV := false
	for _, r := range results {
		if !math.IsNaN(r.CVMean) {
			withCV = true
		}
	}

	header := table.Row{"model", "train size", "fit", "predict", "test error"}
	if withCV {
		header = append(header, "cv error")
	}
	t.AppendHeader(header)

	for _, r := range results {
		row := table.Row{
			r.Model,
			r.TrainSize,
			r.FitTime.Round(time.Millisecond),
			r.PredictTime.Round(time.Millisecond),
			fmt.Sprintf("%.2f%%", 100*r.TestError),
		}
		if withCV {
			if math.IsNaN(r.CVMean) {
				row = append(row, "-")
			} else {
				row = append(row, fmt.Sprintf("%.2f%% ± %.2f%%", 100*r.CVMean, 100*r.CVStd))
			}
		}
		t.AppendRow(row)
	}
	t.Render()
}

// RenderConfusion writes a confusion matrix with true classes on rows.
func RenderConfusion(w io.Writer, cm *mat.Dense) {
	k, _ := cm.Dims()

	t := table.NewWriter()
	t.SetOutputMirror(w)

	header := table.Row{"true \\ pred"}
	for j := 0; j < k; j++ {
		header = append(header, j)
	}
	t.AppendHeader(header)

	for i := 0; i < k; i++ {
		row := table.Row{i}
		for j := 0; j < k; j++ {
			row = append(row, int(cm.At(i, j)))
		}
		t.AppendRow(row)
	}
	t.Render()
}

// LearningCurve plots per-epoch loss and accuracies to a PNG file.
func LearningCurve(history []neural.Epoch, title, path string) error {
	if len(history) == 0 {
		return errors.New("empty training history")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss / accuracy"

	loss := make(plotter.XYs, len(history))
	train := make(plotter.XYs, len(history))
	val := make(plotter.XYs, len(history))
	hasVal := false
	for i, e := range history {
		loss[i] = plotter.XY{X: float64(i), Y: e.Loss}
		train[i] = plotter.XY{X: float64(i), Y: e.TrainAcc}
		val[i] = plotter.XY{X: float64(i), Y: e.ValAcc}
		if e.ValAcc > 0 {
			hasVal = true
		}
	}

	lossLine, err := plotter.NewLine(loss)
	if err != nil {
		return err
	}
	trainLine, err := plotter.NewLine(train)
	if err != nil {
		return err
	}
	trainLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(lossLine, trainLine)
	p.Legend.Add("loss", lossLine)
	p.Legend.Add("train acc", trainLine)

	if hasVal {
		valLine, err := plotter.NewLine(val)
		if err != nil {
			return err
		}
		valLine.Dashes = []vg.Length{vg.Points(1), vg.Points(2)}
		p.Add(valLine)
		p.Legend.Add("val acc", valLine)
	}
	p.Legend.Top = true

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
