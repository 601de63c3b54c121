// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capture turns a free-form conversation into a structured task
// list that the planner can take as input.
//
// Each Send asks the Reasoner for a JSON reply of tool calls
// (create_tasks, edit_task, remove_task) plus a short message. Every
// created or edited task must pass the task rules: a 10, 25, 45 or 90
// minute estimate, a work or personal context, shallow or deep depth and
// an optional YYYY-MM-DD due date. Rejected calls are reported back and
// leave the list unchanged.
//
//	s := capture.NewSession(reasoner)
//	if _, err := s.Send(ctx, "essay due tomorrow, water plants"); err != nil {
//	    return err
//	}
//	req := plan.Request{Input: s.GatherInput()}
package capture
