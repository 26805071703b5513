package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShinTechz/fraud-detection-system/pkg/engine"
	"github.com/ShinTechz/fraud-detection-system/pkg/io/csv"
	"github.com/ShinTechz/fraud-detection-system/pkg/io/jsonl"
	"github.com/ShinTechz/fraud-detection-system/pkg/service"
)

func newScoreCmd(a *app) *cobra.Command {
	var (
		input  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a CSV batch of transactions",
		Example: `  fraudguard score --input batch.csv
  fraudguard score --input batch.csv --output verdicts.jsonl`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			logger, err := a.newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reader, err := csv.NewReader(input)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer reader.Close()

			batch, rejected, err := reader.Read()
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			for _, re := range rejected {
				logger.Warn("row rejected", zap.Int("line", re.Line), zap.Error(re.Err))
			}

			svc, closeAll, err := service.FromConfig(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeAll()

			res, scoreErr := svc.Score(ctx, batch)
			if res == nil {
				return scoreErr
			}

			out := jsonl.NewWriter(a.stdout)
			if output != "" && output != "-" {
				if out, err = jsonl.Create(output); err != nil {
					return fmt.Errorf("create output: %w", err)
				}
			}
			if err := out.WriteAll(res.Verdicts); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

			printSummary(a, res, len(rejected))
			return scoreErr
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV file with transactions")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "JSON lines file for verdicts, - for stdout")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func printSummary(a *app, res *engine.BatchResult, rejected int) {
	anomalies := res.Anomalies()
	bySeverity := map[string]int{}
	for _, v := range anomalies {
		bySeverity[string(v.Severity)]++
	}
	fmt.Fprintf(a.stderr, "batch %s: %d scored, %d anomalies (HIGH %d, MEDIUM %d, LOW %d), %d unscored, %d rejected rows in %s\n",
		res.BatchID,
		len(res.Verdicts),
		len(anomalies),
		bySeverity["HIGH"], bySeverity["MEDIUM"], bySeverity["LOW"],
		len(res.Unscored),
		rejected,
		res.Duration,
	)
}
