package main

import (
	"github.com/spf13/cobra"

	"github.com/AndreiCostinescu/ml1-mnist/internal/config"
)

var (
	flagDataDir  string
	flagLogLevel string
	flagSeed     int64
)

var rootCmd = &cobra.Command{
	Use:   "mnist",
	Short: "mnist trains and evaluates four classifiers on the MNIST digits",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data", "", "Directory with the MNIST IDX files")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int64Var(&flagSeed, "seed", -1, "Random seed")
}

// settings merges the environment configuration with the global flags.
func settings() (*config.Settings, error) {
	s, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		s.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		s.LogLevel = flagLogLevel
	}
	if flagSeed >= 0 {
		s.Seed = flagSeed
	}
	return s, nil
}
