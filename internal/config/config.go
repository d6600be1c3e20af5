package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Settings holds everything configurable from the environment. Every field
// can still be overridden by a command-line flag; the environment only
// supplies defaults.
type Settings struct {
	DataDir   string `envconfig:"DATA_DIR" default:"data"`
	ModelDir  string `envconfig:"MODEL_DIR" default:"models"`
	PlotDir   string `envconfig:"PLOT_DIR" default:"plots"`
	Listen    string `envconfig:"LISTEN" default:":8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Seed      int64  `envconfig:"SEED" default:"1337"`
	TrainSize int    `envconfig:"TRAIN_SIZE" default:"10000"`
	// GPTrainSize caps the Gaussian process training subset separately,
	// since its fit cost grows cubically with the number of samples.
	GPTrainSize int `envconfig:"GP_TRAIN_SIZE" default:"1000"`
}

// Load reads MNIST_*-prefixed environment variables into a Settings value.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("mnist", &s); err != nil {
		return nil, errors.Wrap(err, "reading environment")
	}
	return &s, nil
}
