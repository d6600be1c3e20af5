// Package server serves digit predictions from a trained, saved model over
// HTTP.
package server

import (
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/dataset"
	"github.com/AndreiCostinescu/ml1-mnist/internal/estimator"
)

// Server wraps a loaded classifier for request handling.
type Server struct {
	Metadata Metadata

	clf    estimator.Classifier
	logger *zap.SugaredLogger
}

// NewServer loads a saved model file and prepares it for serving.
func NewServer(modelPath string, logger *zap.SugaredLogger) (*Server, error) {
	clf, err := estimator.Load(modelPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading model")
	}

	classes := make([]string, dataset.NumClasses)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}

	return &Server{
		Metadata: Metadata{
			Classes:   classes,
			ImageSize: dataset.ImageSize,
			Features:  dataset.ImageSize * dataset.ImageSize,
		},
		clf:    clf,
		logger: logger,
	}, nil
}

// FromClassifier wraps an already constructed classifier; used by tests.
func FromClassifier(clf estimator.Classifier, logger *zap.SugaredLogger) *Server {
	classes := make([]string, dataset.NumClasses)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	return &Server{
		Metadata: Metadata{
			Classes:   classes,
			ImageSize: dataset.ImageSize,
			Features:  dataset.ImageSize * dataset.ImageSize,
		},
		clf:    clf,
		logger: logger,
	}
}

// ModelName reports the name of the loaded model.
func (s *Server) ModelName() string { return s.clf.Name() }

// Predict scores one flattened, [0, 1]-scaled image.
func (s *Server) Predict(input []float64) (*PredictionResponse, error) {
	if len(input) != s.Metadata.Features {
		return nil, errors.Errorf("expected %d values, got %d", s.Metadata.Features, len(input))
	}
	x := mat.NewDense(1, s.Metadata.Features, input)

	predictions := make(map[string]float64)
	best := 0
	confidence := 1.0

	if prob, ok := s.clf.(estimator.Probabilistic); ok {
		probs, err := prob.Probabilities(x)
		if err != nil {
			return nil, errors.Wrap(err, "scoring image")
		}
		row := probs.RawRowView(0)
		for i, class := range s.Metadata.Classes {
			predictions[class] = row[i]
		}
		best = estimator.Argmax(row)
		confidence = row[best]
	} else {
		pred, err := s.clf.Predict(x)
		if err != nil {
			return nil, errors.Wrap(err, "scoring image")
		}
		best = pred[0]
		for i, class := range s.Metadata.Classes {
			if i == best {
				predictions[class] = 1
			} else {
				predictions[class] = 0
			}
		}
	}

	return &PredictionResponse{
		Class:       s.Metadata.Classes[best],
		Confidence:  confidence,
		Predictions: predictions,
	}, nil
}
