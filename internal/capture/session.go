// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/daypilot/internal/logging"
	"github.com/jeranaias/daypilot/internal/reasoning"
	"github.com/jeranaias/daypilot/internal/util"
)

// Tools the assistant may call.
const (
	ToolCreate = "create_tasks"
	ToolEdit   = "edit_task"
	ToolRemove = "remove_task"
)

const (
	// maxAttempts is the first call plus one corrective retry.
	maxAttempts = 2
	// maxTurns bounds the transcript replayed into each prompt.
	maxTurns = 20
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage means Send was called with nothing to say.
	ErrEmptyMessage = errors.New("capture: message is empty")
	// ErrUnknownTask means no task has the given id.
	ErrUnknownTask = errors.New("capture: unknown task id")
	// ErrEmptyPatch means an edit carried no fields.
	ErrEmptyPatch = errors.New("capture: patch changes nothing")
)

// FormatError means the assistant's reply could not be decoded, even after
// the corrective retry.
type FormatError struct {
	Attempts int
	Problems []string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("capture: malformed reasoning output after %d attempt(s): %s",
		e.Attempts, strings.Join(e.Problems, "; "))
}

// InvalidTaskError lists the rule violations of a task.
type InvalidTaskError struct {
	Problems []string
}

func (e *InvalidTaskError) Error() string {
	return "capture: invalid task: " + strings.Join(e.Problems, "; ")
}

// =============================================================================
// SESSION
// =============================================================================

// Turn is one exchange line in the capture conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ActionResult is the outcome of one tool call the assistant made.
type ActionResult struct {
	Tool  string `json:"tool"`
	IDs   []int  `json:"ids,omitempty"`
	Error string `json:"error,omitempty"`
}

// Reply is what one Send produced.
type Reply struct {
	Message string         `json:"message"`
	Results []ActionResult `json:"results"`
	Tasks   []Task         `json:"tasks"`
}

// Session holds the task list built up over a capture conversation.
// It is safe for concurrent use, though turns are applied one at a time.
type Session struct {
	reasoner reasoning.Reasoner
	logger   *logging.Logger
	now      func() time.Time

	send       sync.Mutex // serializes turns
	mu         sync.Mutex
	tasks      []Task
	transcript []Turn
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for retry events.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock overrides the clock used to resolve relative due dates.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession starts an empty capture session.
func NewSession(r reasoning.Reasoner, opts ...Option) *Session {
	s := &Session{reasoner: r, logger: logging.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tasks returns a copy of the current task list.
func (s *Session) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...)
}

// Send passes one user message to the assistant and applies the tool calls
// in its reply. A rejected tool call is reported in the reply's results and
// does not fail the turn.
func (s *Session) Send(ctx context.Context, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	if s.reasoner == nil {
		return Reply{}, &reasoning.TransportError{Backend: "none", Err: errors.New("no reasoning backend configured")}
	}

	s.send.Lock()
	defer s.send.Unlock()

	s.mu.Lock()
	prompt := buildPrompt(s.now(), s.tasks, s.transcript, message)
	s.mu.Unlock()

	wire, err := s.consult(ctx, prompt)
	if err != nil {
		return Reply{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]ActionResult, 0, len(wire.Actions))
	for _, a := range wire.Actions {
		results = append(results, s.applyLocked(a))
	}
	reply := Reply{Message: strings.TrimSpace(wire.Message), Results: results}
	s.transcript = append(s.transcript, Turn{Role: "user", Text: message})
	if reply.Message != "" {
		s.transcript = append(s.transcript, Turn{Role: "assistant", Text: reply.Message})
	}
	if len(s.transcript) > maxTurns {
		s.transcript = append([]Turn(nil), s.transcript[len(s.transcript)-maxTurns:]...)
	}
	reply.Tasks = append([]Task(nil), s.tasks...)
	return reply, nil
}

// Edit applies p to the task with the given id.
func (s *Session) Edit(id int, p Patch) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editLocked(id, p)
}

// Remove deletes the task with the given id.
func (s *Session) Remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// GatherInput renders the task list as planner input, one task per line.
func (s *Session) GatherInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return GatherInput(s.tasks)
}

// GatherInput renders tasks as planner input, one task per line.
func GatherInput(tasks []Task) string {
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, t.Line())
	}
	return strings.Join(lines, "\n")
}

// consult asks the reasoner and retries once with a corrective prompt when
// the reply cannot be decoded.
func (s *Session) consult(ctx context.Context, prompt string) (replyWire, error) {
	current := prompt
	var problems []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := s.reasoner.Reason(ctx, current)
		if ctx.Err() != nil {
			return replyWire{}, ctx.Err()
		}
		if err != nil {
			var te *reasoning.TransportError
			if errors.As(err, &te) {
				return replyWire{}, err
			}
			return replyWire{}, &reasoning.TransportError{Backend: "reasoner", Attempts: 1, Err: err}
		}

		var wire replyWire
		wire, problems = parseReply(text)
		if len(problems) == 0 {
			return wire, nil
		}
		if attempt < maxAttempts {
			s.logger.Warn("CAPTURE_RETRY", "problems", strings.Join(problems, "; "))
			current = correctivePrompt(prompt, problems)
		}
	}
	return replyWire{}, &FormatError{Attempts: maxAttempts, Problems: problems}
}

func (s *Session) applyLocked(a actionWire) ActionResult {
	res := ActionResult{Tool: a.Tool}
	switch a.Tool {
	case ToolCreate:
		var failures []string
		for i, t := range a.Tasks {
			t = t.normalize()
			if problems := t.Problems(); len(problems) > 0 {
				failures = append(failures, fmt.Sprintf("task %d: %s", i+1, strings.Join(problems, ", ")))
				continue
			}
			t.ID = s.nextIDLocked()
			s.tasks = append(s.tasks, t)
			res.IDs = append(res.IDs, t.ID)
		}
		res.Error = strings.Join(failures, "; ")
	case ToolEdit:
		var p Patch
		if a.Patch != nil {
			p = *a.Patch
		}
		if _, err := s.editLocked(a.ID, p); err != nil {
			res.Error = err.Error()
		} else {
			res.IDs = []int{a.ID}
		}
	case ToolRemove:
		if err := s.removeLocked(a.ID); err != nil {
			res.Error = err.Error()
		} else {
			res.IDs = []int{a.ID}
		}
	}
	if res.Error != "" {
		s.logger.Warn("CAPTURE_ACTION_REJECTED", "tool", a.Tool, "error", res.Error)
	}
	return res
}

func (s *Session) editLocked(id int, p Patch) (Task, error) {
	if p.Empty() {
		return Task{}, ErrEmptyPatch
	}
	i := s.indexLocked(id)
	if i < 0 {
		return Task{}, fmt.Errorf("%w %d", ErrUnknownTask, id)
	}
	updated := s.tasks[i].apply(p)
	if problems := updated.Problems(); len(problems) > 0 {
		return Task{}, &InvalidTaskError{Problems: problems}
	}
	s.tasks[i] = updated
	return updated, nil
}

func (s *Session) removeLocked(id int) error {
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w %d", ErrUnknownTask, id)
	}
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	return nil
}

func (s *Session) indexLocked(id int) int {
	for i, t := range s.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// nextIDLocked is one past the highest id ever kept in the list.
func (s *Session) nextIDLocked() int {
	next := 1
	for _, t := range s.tasks {
		if t.ID >= next {
			next = t.ID + 1
		}
	}
	return next
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

type actionWire struct {
	Tool  string `json:"tool"`
	Tasks []Task `json:"tasks"`
	ID    int    `json:"id"`
	Patch *Patch `json:"patch"`
}

type replyWire struct {
	Actions []actionWire `json:"actions"`
	Message string       `json:"message"`
}

// parseReply decodes a reply and checks its shape. Task rules are checked
// per action when applied, not here.
func parseReply(text string) (replyWire, []string) {
	var wire replyWire
	if err := json.Unmarshal([]byte(util.JSONObject(text)), &wire); err != nil {
		return replyWire{}, []string{"response is not valid JSON: " + err.Error()}
	}
	var problems []string
	for i, a := range wire.Actions {
		switch a.Tool {
		case ToolCreate:
			if len(a.Tasks) == 0 {
				problems = append(problems, fmt.Sprintf("action %d: create_tasks needs a non-empty \"tasks\" list", i+1))
			}
		case ToolEdit:
			if a.ID <= 0 || a.Patch == nil {
				problems = append(problems, fmt.Sprintf("action %d: edit_task needs a positive \"id\" and a \"patch\"", i+1))
			}
		case ToolRemove:
			if a.ID <= 0 {
				problems = append(problems, fmt.Sprintf("action %d: remove_task needs a positive \"id\"", i+1))
			}
		default:
			problems = append(problems, fmt.Sprintf("action %d: unknown tool %q", i+1, a.Tool))
		}
	}
	if len(wire.Actions) == 0 && strings.TrimSpace(wire.Message) == "" {
		problems = append(problems, `response has neither "actions" nor a "message"`)
	}
	return wire, problems
}
