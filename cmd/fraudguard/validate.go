package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "configuration ok: zscore>%.2f lof k=%d ratio>%.2f isolation trees=%d contamination=%.3f ensemble threshold=%d\n",
				cfg.ZScore.Threshold,
				cfg.LOF.Neighbors, cfg.LOF.RatioThreshold,
				cfg.Isolation.Trees, cfg.Isolation.Contamination,
				cfg.Ensemble.Threshold,
			)
			return nil
		},
	}
}
