package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/cmd/sage/internal/display"
	"github.com/sagekit/sage/pkg/agent"
)

var demoQuestions = []string{
	"What is the capital of France?",
	"Who invented the telephone?",
	"What is the population of Japan?",
	"When was the Eiffel Tower built?",
	"What is the tallest mountain in the world?",
}

// NewDemoCommand runs a batch of questions with deliberate mistakes
// injected, showing the loop converge: early runs fail and record
// mistakes, later runs plan under the compiled constraints.
func NewDemoCommand() *cobra.Command {
	var configPath string
	var runs int
	var mistakeRate float64
	var seed int64

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted batch that demonstrates the learning loop",
		Long: `Runs a series of research questions with a configurable fraction of
deliberately skipped tool steps. Watch the verdicts: once the same
mistake recurs, it is compiled into a planning constraint and the
failure rate drops.`,
		Args: cobra.NoArgs,
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

			a, err := buildAgent(cfg, store, agent.WithMistakeRate(mistakeRate, seed))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i := 0; i < runs; i++ {
				question := demoQuestions[i%len(demoQuestions)]
				fmt.Fprintln(out, display.Header(fmt.Sprintf("Run %d/%d: %s", i+1, runs, question)))

				result, err := a.Run(cmd.Context(), question)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, display.Result(result))
			}

			stats, err := store.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, display.Info(fmt.Sprintf(
				"Demo finished: %d/%d runs passed.", stats.SuccessfulRuns, stats.TotalRuns)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().IntVarP(&runs, "runs", "n", 6, "number of questions to run")
	cmd.Flags().Float64Var(&mistakeRate, "mistake-rate", 0.5, "fraction of runs that skip their tool steps")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "seed for the mistake injector")
	return cmd
}
