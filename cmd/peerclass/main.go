package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerclass/internal/config"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "peerclass",
		Short: "Offline peer-to-peer classroom over the local network",
		Long: `peerclass runs an offline classroom session on the local network.

A tutor advertises a session, students discover and join it with a PIN,
the tutor distributes an assessment, and submitted answers are graded by
an on-device language model with feedback flowing back to each student.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newTutorCommand())
	root.AddCommand(newStudentCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func loadConfig() (*config.Config, error) {
	cfg := config.LoadConfigWithPrecedence(configPath)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
