package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/cmd/sage/internal/display"
)

// NewClearCommand wipes the mistake store.
func NewClearCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget all recorded mistakes and run statistics",
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

			if err := store.Clear(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), display.Success("Memory cleared."))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}
