package main

import (
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
)

var trainFlags struct {
	model     string
	trainSize int
	out       string

	k        int
	metric   string
	weighted bool

	hidden    []int
	epochs    int
	batches   int
	lr        float64
	l1        float64
	l2        float64
	optimizer string
	patience  int

	lengthScale float64
	variance    float64
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train one model and report its test error",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings()
		if err != nil {
			return err
		}
		logger := logging.New(s.LogLevel)
		defer logger.Sync() //nolint:errcheck

		return runTrain(s, logger)
	},
}

func init() {
	f := trainCmd.Flags()
	f.StringVarP(&trainFlags.model, "model", "m", "logreg", "Model to train (knn, nn, logreg, gp)")
	f.IntVar(&trainFlags.trainSize, "train-size", 0, "Training subset size (0 = config default, negative = full set)")
	f.StringVarP(&trainFlags.out, "out", "o", "", "Where to save the trained model (default <model dir>/<model>.json)")

	f.IntVar(&trainFlags.k, "k", 3, "k-NN neighbor count")
	f.StringVar(&trainFlags.metric, "distance", knn.Euclidean, "k-NN distance metric (euclidean, cosine)")
	f.BoolVar(&trainFlags.weighted, "weighted", false, "Weight k-NN votes by inverse distance")

	f.IntSliceVar(&trainFlags.hidden, "hidden", []int{128}, "Hidden layer widths for the neural network")
	f.IntVar(&trainFlags.epochs, "epochs", 30, "Maximum training epochs")
	f.IntVar(&trainFlags.batches, "batches", 100, "Minibatches per epoch")
	f.Float64Var(&trainFlags.lr, "lr", 1e-3, "Learning rate")
	f.Float64Var(&trainFlags.l1, "l1", 0, "L1 penalty")
	f.Float64Var(&trainFlags.l2, "l2", 0, "L2 penalty")
	f.StringVar(&trainFlags.optimizer, "optimizer", neural.Adam, "Optimizer (adam, sgd)")
	f.IntVar(&trainFlags.patience, "patience", 3, "Early stopping patience (0 disables)")

	f.Float64Var(&trainFlags.lengthScale, "length-scale", 8, "GP kernel length scale")
	f.Float64Var(&trainFlags.variance, "variance", 1, "GP kernel variance")
}

func runTrain(s *config.Settings, logger *zap.SugaredLogger) error {
	xTrain, yTrain, xTest, yTest, err := loadData(s, logger)
	if err != nil {
		return err
	}

	size := trainFlags.trainSize
	if size == 0 {
		size = s.TrainSize
		if trainFlags.model == "gp" {
			size = s.GPTrainSize
		}
	}
	xTrain, yTrain, err = takeSubset(xTrain, yTrain, size, s.Seed)
	if err != nil {
		return err
	}

	clf, err := buildModel(trainFlags.model, s)
	if err != nil {
		return err
	}

	rows, _ := xTrain.Dims()
	logger.Infow("training", "model", clf.Name(), "train_size", rows)
	start := time.Now()
	if err := clf.Fit(xTrain, yTrain); err != nil {
		return errors.Wrapf(err, "fitting %s", clf.Name())
	}
	fitTime := time.Since(start)

	start = time.Now()
	pred, err := clf.Predict(xTest)
	if err != nil {
		return errors.Wrapf(err, "predicting with %s", clf.Name())
	}
	testErr, err := metrics.ZeroOneLoss(yTest, pred)
	if err != nil {
		return err
	}
	logger.Infow("evaluated", "model", clf.Name(),
		"fit", fitTime.Round(time.Millisecond),
		"predict", time.Since(start).Round(time.Millisecond),
		"test_error", testErr)

	out := trainFlags.out
	if out == "" {
		if err := os.MkdirAll(s.ModelDir, 0o755); err != nil {
			return err
		}
		out = filepath.Join(s.ModelDir, clf.Name()+".json")
	}
	if err := estimator.Save(clf, out); err != nil {
		return errors.Wrap(err, "saving model")
	}
	logger.Infow("saved model", "path", out)
	return nil
}

// buildModel constructs a classifier from the train flags.
func buildModel(kind string, s *config.Settings) (estimator.Persistable, error) {
	switch kind {
	case "knn":
		c := knn.New(trainFlags.k)
		c.Metric = trainFlags.metric
		c.Weighted = trainFlags.weighted
		return c, nil
	case "nn":
		return neural.New(neural.Config{
			Hidden:       trainFlags.hidden,
			NumBatches:   trainFlags.batches,
			MaxEpochs:    trainFlags.epochs,
			LearningRate: trainFlags.lr,
			L1:           trainFlags.l1,
			L2:           trainFlags.l2,
			Optimizer:    trainFlags.optimizer,
			Patience:     trainFlags.patience,
			Shuffle:      true,
			Seed:         s.Seed,
		}), nil
	case "logreg":
		lr := linear.New()
		lr.L1 = trainFlags.l1
		lr.L2 = trainFlags.l2
		lr.NumBatches = trainFlags.batches
		lr.MaxEpochs = trainFlags.epochs
		lr.LearningRate = trainFlags.lr
		lr.Optimizer = trainFlags.optimizer
		lr.Patience = trainFlags.patience
		lr.Seed = s.Seed
		return lr, nil
	case "gp":
		c := gp.New()
		c.Kernel = gp.RBF{Variance: trainFlags.variance, LengthScale: trainFlags.lengthScale}
		return c, nil
	}
	return nil, errors.Errorf("unknown model %q (knn, nn, logreg, gp)", kind)
}

// loadData reads and scales both dataset portions.
func loadData(s *config.Settings, logger *zap.SugaredLogger) (xTrain *mat.Dense, yTrain []int, xTest *mat.Dense, yTest []int, err error) {
	logger.Infow("loading MNIST", "dir", s.DataDir)
	xTrain, yTrain, err = dataset.Load(s.DataDir, dataset.Train)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	xTest, yTest, err = dataset.Load(s.DataDir, dataset.Test)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dataset.Scale(xTrain)
	dataset.Scale(xTest)
	return xTrain, yTrain, xTest, yTest, nil
}

// takeSubset draws a stratified, shuffled subset of the requested size.
// Non-positive sizes, or sizes at least the dataset, keep the full set.
func takeSubset(x *mat.Dense, y []int, size int, seed int64) (*mat.Dense, []int, error) {
	if size <= 0 || size >= len(y) {
		return x, y, nil
	}
	splitter := &dataset.Splitter{Shuffle: true, Seed: seed}
	idx, _, err := splitter.Split(y, float64(size)/float64(len(y)), true)
	if err != nil {
		return nil, nil, err
	}
	if len(idx) > size {
		idx = idx[:size]
	}
	xs, ys := dataset.Subset(x, y, idx)
	return xs, ys, nil
}
