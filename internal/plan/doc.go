// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package plan implements the day-planning pipeline.
//
// A planning run threads a State through four fixed stages:
//
//   - Gather: validates and normalizes the user's input and fixes the
//     planning moment
//   - Analyze: asks the Reasoner to prioritize the tasks
//   - CreateSchedule: asks the Reasoner for time blocks and validates them
//   - Present: renders the plan as markdown
//
// Optional context (location, weather, recovery) is collected concurrently
// with Gather and joined before Analyze. Missing context never fails a run.
//
// # Usage
//
//	runner := plan.NewRunner(plan.NewPlanner(reasoner))
//	state, err := runner.Run(ctx, plan.Request{Input: "finish report, gym"})
//	if err != nil {
//	    var pe *plan.PipelineError
//	    if errors.As(err, &pe) {
//	        fmt.Println(pe.Stage, pe.Retryable)
//	    }
//	}
//	fmt.Println(state.Presentation)
//
// Each stage writes only its own fields. A Runner holds no per-run state,
// so concurrent Run calls are independent.
package plan
