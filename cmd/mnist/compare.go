package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/config"
	"github.com/AndreiCostinescu/ml1-mnist/internal/dataset"
	"github.com/AndreiCostinescu/ml1-mnist/internal/estimator"
	"github.com/AndreiCostinescu/ml1-mnist/internal/gp"
	"github.com/AndreiCostinescu/ml1-mnist/internal/knn"
	"github.com/AndreiCostinescu/ml1-mnist/internal/linear"
	"github.com/AndreiCostinescu/ml1-mnist/internal/logging"
	"github.com/AndreiCostinescu/ml1-mnist/internal/metrics"
	"github.com/AndreiCostinescu/ml1-mnist/internal/neural"
	"github.com/AndreiCostinescu/ml1-mnist/internal/report"
)

var compareFlags struct {
	trainSize   int
	gpTrainSize int
	folds       int
	plots       bool
	confusion   bool
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Train all four models and compare their test error",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings()
		if err != nil {
			return err
		}
		logger := logging.New(s.LogLevel)
		defer logger.Sync() //nolint:errcheck

		return runCompare(s, logger)
	},
}

func init() {
	f := compareCmd.Flags()
	f.IntVar(&compareFlags.trainSize, "train-size", 0, "Training subset size (0 = config default, negative = full set)")
	f.IntVar(&compareFlags.gpTrainSize, "gp-train-size", 0, "GP training subset size (0 = config default)")
	f.IntVar(&compareFlags.folds, "folds", 0, "Also run k-fold cross-validation with this many folds")
	f.BoolVar(&compareFlags.plots, "plots", false, "Write learning-curve and sample-digit plots")
	f.BoolVar(&compareFlags.confusion, "confusion", false, "Print each model's confusion matrix")
}

// candidate pairs a constructor with the subset size the model trains on, so
// cross-validation can refit from scratch per fold.
type candidate struct {
	name      string
	trainSize int
	build     func() estimator.Classifier
}

func candidates(s *config.Settings) []candidate {
	trainSize := compareFlags.trainSize
	if trainSize == 0 {
		trainSize = s.TrainSize
	}
	gpSize := compareFlags.gpTrainSize
	if gpSize == 0 {
		gpSize = s.GPTrainSize
	}

	nnCfg := neural.Config{
		Hidden:       []int{128},
		NumBatches:   100,
		MaxEpochs:    30,
		LearningRate: 1e-3,
		Patience:     3,
		Shuffle:      true,
		Seed:         s.Seed,
	}

	return []candidate{
		{name: "knn", trainSize: trainSize, build: func() estimator.Classifier {
			return knn.New(3)
		}},
		{name: "logreg", trainSize: trainSize, build: func() estimator.Classifier {
			lr := linear.New()
			lr.NumBatches = 100
			lr.MaxEpochs = 30
			lr.LearningRate = 1e-3
			lr.Patience = 3
			lr.Seed = s.Seed
			return lr
		}},
		{name: "nn", trainSize: trainSize, build: func() estimator.Classifier {
			return neural.New(nnCfg)
		}},
		{name: "gp", trainSize: gpSize, build: func() estimator.Classifier {
			return gp.New()
		}},
	}
}

func runCompare(s *config.Settings, logger *zap.SugaredLogger) error {
	xTrain, yTrain, xTest, yTest, err := loadData(s, logger)
	if err != nil {
		return err
	}

	if compareFlags.plots {
		if err := os.MkdirAll(s.PlotDir, 0o755); err != nil {
			return err
		}
		if err := writeSampleDigits(xTest, yTest, s.PlotDir); err != nil {
			return err
		}
	}

	var results []report.Result
	for _, cand := range candidates(s) {
		x, y, err := takeSubset(xTrain, yTrain, cand.trainSize, s.Seed)
		if err != nil {
			return err
		}
		rows, _ := x.Dims()

		clf := cand.build()
		logger.Infow("training", "model", cand.name, "train_size", rows)
		start := time.Now()
		if err := clf.Fit(x, y); err != nil {
			return errors.Wrapf(err, "fitting %s", cand.name)
		}
		fitTime := time.Since(start)

		start = time.Now()
		pred, err := clf.Predict(xTest)
		if err != nil {
			return errors.Wrapf(err, "predicting with %s", cand.name)
		}
		predictTime := time.Since(start)

		testErr, err := metrics.ZeroOneLoss(yTest, pred)
		if err != nil {
			return err
		}
		logger.Infow("evaluated", "model", cand.name, "test_error", testErr)

		result := report.Result{
			Model:       cand.name,
			TrainSize:   rows,
			FitTime:     fitTime,
			PredictTime: predictTime,
			TestError:   testErr,
			CVMean:      math.NaN(),
			CVStd:       math.NaN(),
		}

		if compareFlags.folds > 1 {
			summary, err := crossValidate(cand, x, y, s.Seed, logger)
			if err != nil {
				return err
			}
			result.CVMean = summary.Mean
			result.CVStd = summary.Std
		}

		if compareFlags.confusion {
			cm, err := metrics.ConfusionMatrix(yTest, pred, dataset.NumClasses)
			if err != nil {
				return err
			}
			fmt.Printf("\n%s confusion matrix:\n", cand.name)
			report.RenderConfusion(os.Stdout, cm)
		}

		if compareFlags.plots {
			if err := writeLearningCurve(clf, cand.name, s.PlotDir); err != nil {
				return err
			}
		}

		results = append(results, result)
	}

	fmt.Println()
	report.RenderTable(os.Stdout, results)
	return nil
}

func crossValidate(cand candidate, x *mat.Dense, y []int, seed int64, logger *zap.SugaredLogger) (metrics.FoldSummary, error) {
	splitter := &dataset.Splitter{Shuffle: true, Seed: seed}
	folds, err := splitter.KFoldSplit(y, compareFlags.folds, true)
	if err != nil {
		return metrics.FoldSummary{}, err
	}

	foldErrs := make([]float64, 0, len(folds))
	for i, fold := range folds {
		xf, yf := dataset.Subset(x, y, fold.Train)
		xt, yt := dataset.Subset(x, y, fold.Test)

		clf := cand.build()
		if err := clf.Fit(xf, yf); err != nil {
			return metrics.FoldSummary{}, errors.Wrapf(err, "fold %d of %s", i, cand.name)
		}
		pred, err := clf.Predict(xt)
		if err != nil {
			return metrics.FoldSummary{}, errors.Wrapf(err, "fold %d of %s", i, cand.name)
		}
		foldErr, err := metrics.ZeroOneLoss(yt, pred)
		if err != nil {
			return metrics.FoldSummary{}, err
		}
		logger.Debugw("fold evaluated", "model", cand.name, "fold", i, "error", foldErr)
		foldErrs = append(foldErrs, foldErr)
	}
	return metrics.Summarize(foldErrs)
}

// historied is satisfied by the models that track a training history.
type historied interface {
	History() []neural.Epoch
}

func writeLearningCurve(clf estimator.Classifier, name, dir string) error {
	var history []neural.Epoch
	switch m := clf.(type) {
	case *neural.Network:
		history = m.History
	case historied:
		history = m.History()
	default:
		return nil
	}
	if len(history) == 0 {
		return nil
	}
	path := filepath.Join(dir, name+"_learning_curve.png")
	return report.LearningCurve(history, name, path)
}

// writeSampleDigits renders the first test digit of each class.
func writeSampleDigits(x *mat.Dense, y []int, dir string) error {
	seen := make(map[int]bool)
	for i, label := range y {
		if seen[label] {
			continue
		}
		seen[label] = true
		path := filepath.Join(dir, fmt.Sprintf("digit_%d.png", label))
		if err := dataset.RenderDigit(x.RawRowView(i), path); err != nil {
			return err
		}
		if len(seen) == dataset.NumClasses {
			break
		}
	}
	return nil
}
