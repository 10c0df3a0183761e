package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/cmd/sage/internal/commands"
)

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "A research agent that learns from its own mistakes",
	Long: `sage answers research questions with a plan-execute-evaluate-learn loop.

Every run is scored against three criteria: were the required tools used,
were they used in the right order, and is the answer grounded in tool
output. Failures are classified into typed mistakes, persisted, and
compiled back into planning constraints once they recur, so the agent
plans better on the next run.`,
	Version: "0.1.0",
}

func main() {
	rootCmd.AddCommand(
		commands.NewAskCommand(),
		commands.NewStatsCommand(),
		commands.NewClearCommand(),
		commands.NewDemoCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
