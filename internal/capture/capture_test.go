// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/daypilot/internal/reasoning"
	"github.com/jeranaias/daypilot/internal/reasoning/reasoningtest"
)

const createReply = `{"actions": [{"tool": "create_tasks", "tasks": [
  {"title": "Write essay", "context": "work", "est": 90, "depth": "deep", "due": "2026-10-20", "confidence": "high"},
  {"title": "Water plants", "context": "Personal", "est": 10, "depth": "shallow", "notes": "  balcony ones  ", "confidence": "med"}
]}], "message": "Added two tasks."}`

func fixedClock() time.Time {
	return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
}

func newTestSession(script *reasoningtest.Script) *Session {
	return NewSession(script, WithClock(fixedClock))
}

func TestSendCreatesTasksWithSequentialIDs(t *testing.T) {
	s := newTestSession(reasoningtest.New(createReply))
	reply, err := s.Send(context.Background(), "essay due tomorrow, water the plants")
	require.NoError(t, err)

	assert.Equal(t, "Added two tasks.", reply.Message)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, []int{1, 2}, reply.Results[0].IDs)
	assert.Empty(t, reply.Results[0].Error)

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, AreaPersonal, tasks[1].Area)
	assert.Equal(t, "balcony ones", tasks[1].Notes)
	assert.Equal(t, tasks, reply.Tasks)
}

func TestSendRejectsInvalidTasksButKeepsTheRest(t *testing.T) {
	reply := `{"actions": [{"tool": "create_tasks", "tasks": [
	  {"title": "Gym", "context": "personal", "est": 60, "depth": "shallow", "confidence": "med"},
	  {"title": "Call mom", "context": "family", "est": 10, "depth": "shallow", "due": "tomorrow", "confidence": "sure"},
	  {"title": "Pay rent", "context": "personal", "est": 10, "depth": "shallow", "confidence": "high"}
	]}]}`
	s := newTestSession(reasoningtest.New(reply))
	out, err := s.Send(context.Background(), "gym, call mom, pay rent")
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	assert.Equal(t, []int{1}, out.Results[0].IDs)
	for _, want := range []string{"task 1", "est 60", "task 2", `context "family"`, `due "tomorrow"`, `confidence "sure"`} {
		assert.Contains(t, out.Results[0].Error, want)
	}
	require.Len(t, s.Tasks(), 1)
	assert.Equal(t, "Pay rent", s.Tasks()[0].Title)
}

func TestSendEditsAndRemovesByID(t *testing.T) {
	followUp := `{"actions": [
	  {"tool": "edit_task", "id": 1, "patch": {"est": 45, "notes": "first draft only"}},
	  {"tool": "remove_task", "id": 2},
	  {"tool": "remove_task", "id": 9},
	  {"tool": "edit_task", "id": 1, "patch": {}}
	], "message": "Updated."}`
	script := reasoningtest.New(createReply, followUp)
	s := newTestSession(script)
	_, err := s.Send(context.Background(), "essay due tomorrow, water the plants")
	require.NoError(t, err)

	out, err := s.Send(context.Background(), "essay is just a draft, forget the plants")
	require.NoError(t, err)

	require.Len(t, out.Results, 4)
	assert.Empty(t, out.Results[0].Error)
	assert.Empty(t, out.Results[1].Error)
	assert.Contains(t, out.Results[2].Error, "unknown task id 9")
	assert.Contains(t, out.Results[3].Error, "patch changes nothing")

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 45, tasks[0].Minutes)
	assert.Equal(t, "first draft only", tasks[0].Notes)

	prompt := script.Prompts()[1]
	assert.Contains(t, prompt, "- 1: Write essay | work | 90m | deep | due 2026-10-20 | confidence high")
	assert.Contains(t, prompt, "User: essay due tomorrow, water the plants")
	assert.Contains(t, prompt, "Assistant: Added two tasks.")
}

func TestSendIDsNeverReuseAfterRemove(t *testing.T) {
	more := `{"actions": [{"tool": "create_tasks", "tasks": [{"title": "Gym", "context": "personal", "est": 45, "depth": "shallow", "confidence": "med"}]}]}`
	s := newTestSession(reasoningtest.New(createReply, more))
	_, err := s.Send(context.Background(), "essay, plants")
	require.NoError(t, err)
	require.NoError(t, s.Remove(1))

	out, err := s.Send(context.Background(), "also gym")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, out.Results[0].IDs)
}

func TestSendRetriesMalformedReply(t *testing.T) {
	script := reasoningtest.New("Sure! Here are your tasks.", "```json\n"+createReply+"\n```")
	s := newTestSession(script)
	_, err := s.Send(context.Background(), "essay, plants")
	require.NoError(t, err)

	assert.Equal(t, 2, script.Calls())
	assert.Contains(t, script.Prompts()[1], "response is not valid JSON")
	assert.Len(t, s.Tasks(), 2)
}

func TestSendFormatErrorAfterRetry(t *testing.T) {
	script := reasoningtest.New(`{"actions": [{"tool": "delete_everything"}]}`, `{}`)
	s := newTestSession(script)
	_, err := s.Send(context.Background(), "essay")

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, fe.Attempts)
	assert.Contains(t, fe.Error(), `neither "actions" nor a "message"`)
	assert.Contains(t, script.Prompts()[1], `unknown tool "delete_everything"`)
	assert.Empty(t, s.Tasks())
}

func TestSendTransportErrorIsNotRetried(t *testing.T) {
	script := reasoningtest.New().Then(reasoningtest.Reply{Err: errors.New("connection refused")})
	_, err := newTestSession(script).Send(context.Background(), "essay")

	var te *reasoning.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, script.Calls())
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	script := reasoningtest.New()
	_, err := newTestSession(script).Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, script.Calls())
}

func TestSendQuestionOnlyKeepsList(t *testing.T) {
	s := newTestSession(reasoningtest.New(`{"actions": [], "message": "Which day is the essay due?"}`))
	out, err := s.Send(context.Background(), "essay")
	require.NoError(t, err)
	assert.Equal(t, "Which day is the essay due?", out.Message)
	assert.Empty(t, out.Results)
	assert.Empty(t, s.Tasks())
}

func TestPromptCarriesTodayAndEmptyList(t *testing.T) {
	prompt := buildPrompt(fixedClock(), nil, nil, "essay")
	assert.Contains(t, prompt, "Today is Monday, October 19, 2026 (2026-10-19).")
	assert.Contains(t, prompt, "Current tasks:\nNone\n")
	assert.NotContains(t, prompt, "Conversation so far")
	assert.Equal(t, prompt, buildPrompt(fixedClock(), nil, nil, "essay"))
}

func TestEditValidatesResult(t *testing.T) {
	s := newTestSession(reasoningtest.New(createReply))
	_, err := s.Send(context.Background(), "essay, plants")
	require.NoError(t, err)

	bad := 30
	_, err = s.Edit(1, Patch{Minutes: &bad})
	var ite *InvalidTaskError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, 90, s.Tasks()[0].Minutes)

	none := ""
	updated, err := s.Edit(1, Patch{Due: &none})
	require.NoError(t, err)
	assert.Empty(t, updated.Due)

	assert.ErrorIs(t, s.Remove(42), ErrUnknownTask)
}

func TestGatherInputLines(t *testing.T) {
	s := newTestSession(reasoningtest.New(createReply))
	_, err := s.Send(context.Background(), "essay, plants")
	require.NoError(t, err)

	assert.Equal(t,
		"Write essay (90 min, deep, work, due 2026-10-20)\nWater plants (10 min, shallow, personal): balcony ones",
		s.GatherInput())
	assert.Empty(t, GatherInput(nil))
}
