// Package commands implements the sage subcommands.
package commands

import (
	"github.com/sagekit/sage/pkg/agent"
	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/evaluate"
	"github.com/sagekit/sage/pkg/llm"
	"github.com/sagekit/sage/pkg/logging"
	"github.com/sagekit/sage/pkg/memory"
	"github.com/sagekit/sage/pkg/tools"
)

// loadConfig reads the config file when given, defaults otherwise, and
// configures the global logger from it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	severity := logging.ParseSeverity(cfg.Logging.Level)
	logging.SetLogger(logging.NewLogger(logging.Config{
		Severity: severity,
		Outputs:  []logging.Output{logging.NewConsoleOutput(true, logging.WithColor(cfg.Logging.Colors))},
	}))
	return cfg, nil
}

// openStore builds the configured mistake store backend.
func openStore(cfg *config.Config) (memory.Store, error) {
	if cfg.Memory.Backend == "sqlite" {
		return memory.NewSQLiteStore(cfg.Memory.Path)
	}
	return memory.NewFileStore(cfg.Memory.Path, memory.WithMaxMistakes(cfg.Memory.MaxMistakes)), nil
}

// buildAgent wires the full loop from configuration. Executor options
// let demo mode inject deliberate mistakes.
func buildAgent(cfg *config.Config, store memory.Store, execOpts ...agent.ExecutorOption) (*agent.Agent, error) {
	client, err := llm.NewAnthropic(cfg.LLM)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewWebSearch(cfg.Tools))
	registry.Register(tools.NewSummarizer(client, cfg.Tools))

	planner := agent.NewLLMPlanner(client)
	executor := agent.NewToolExecutor(registry, client, execOpts...)

	return agent.New(planner, executor, store,
		agent.WithEvaluator(evaluate.NewEvaluator(evaluate.WithPassThreshold(cfg.Memory.PassThreshold))),
		agent.WithModifier(memory.NewBehaviorModifier(memory.WithThreshold(cfg.Memory.RecurringThreshold))),
	), nil
}
