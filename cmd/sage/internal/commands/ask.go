package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/cmd/sage/internal/display"
)

// NewAskCommand answers a single research question through the full loop.
func NewAskCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a research question and learn from the attempt",
		Example: `  sage ask "What is the capital of France?"
  sage ask --config sage.yaml "Who invented the transistor?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			a, err := buildAgent(cfg, store)
			if err != nil {
				return err
			}

			result, err := a.Run(cmd.Context(), question)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), display.Result(result))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}
