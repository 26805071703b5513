// Command fraudguard scores transaction batches for anomalies.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShinTechz/fraud-detection-system/pkg/config"
	"github.com/ShinTechz/fraud-detection-system/pkg/logging"
)

type app struct {
	configPath string
	envFile    string
	logLevel   string
	stdout     io.Writer
	stderr     io.Writer
}

func main() {
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "fraudguard",
		Short:         "Transaction anomaly scoring engine",
		Long:          "fraudguard builds per-user behavioural features for each transaction, runs statistical, density, isolation and rule detectors, and fuses them into a severity-graded verdict.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading FRAUDGUARD_* variables")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newScoreCmd(a),
		newServeCmd(a),
		newValidateConfigCmd(a),
	)
	return cmd
}

// loadConfig reads the dotenv file, then the config file and environment.
func (a *app) loadConfig() (*config.Config, error) {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", a.envFile, err)
		}
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging)
}
