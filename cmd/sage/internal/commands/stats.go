package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/cmd/sage/internal/display"
)

// NewStatsCommand prints the run statistics and recorded mistakes.
func NewStatsCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show run statistics and everything learned so far",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats()
			if err != nil {
				return err
			}
			mistakes, err := store.All()
			if err != nil {
				return err
			}

			rendered := make([]display.LearnedMistake, 0, len(mistakes))
			for _, m := range mistakes {
				rendered = append(rendered, display.NewLearnedMistake(
					string(m.Type),
					m.Description,
					m.CorrectiveRule,
					m.Frequency,
					m.Frequency >= cfg.Memory.RecurringThreshold,
				))
			}

			fmt.Fprintln(cmd.OutOrStdout(), display.Stats(stats, rendered))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}
