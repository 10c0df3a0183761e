// Package sage is a research agent that improves itself by studying its
// own failures.
//
// Every question runs through the same loop: compile learned planning
// constraints, draft a plan, execute it with tools, evaluate the
// resulting trace, classify whatever failed into typed mistakes, and
// persist them. Mistakes that recur are compiled into prioritized
// constraints that are injected into the next plan, so the same failure
// pattern becomes progressively harder to repeat.
//
// Key Components:
//
//   - trace: the shared record of one run (plan, executed steps, final
//     answer) that every other component reads or writes.
//
//   - evaluate: deterministic rule-based scoring of a trace against
//     three criteria: required tools used, correct tool sequence, and
//     answer grounded in tool output.
//
//   - learn: maps failing criteria to typed mistakes with stable
//     identity keys and corrective rules.
//
//   - memory: de-duplicating mistake stores (JSON file or SQLite), run
//     statistics, and the behavior modifier that projects recurring
//     mistakes into planning constraints.
//
//   - agent: the orchestrator plus the LLM planner and tool executor.
//
//   - tools: the web search and summarizer tools the executor runs.
//
// The cmd/sage CLI exposes the loop directly: ask a question, inspect
// what has been learned, clear memory, or run a demo batch that injects
// deliberate mistakes and shows the loop converge.
package sage
