// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/daypilot/internal/app"
	"github.com/jeranaias/daypilot/internal/config"
	"github.com/jeranaias/daypilot/internal/logging"
	"github.com/jeranaias/daypilot/internal/plan"
	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/reasoning"
	"github.com/jeranaias/daypilot/internal/reasoning/reasoningtest"
	"github.com/jeranaias/daypilot/internal/server"
	"github.com/jeranaias/daypilot/internal/storage"
)

const (
	analysis = `{"priorities":[
		{"task":"Write essay","urgency":4,"importance":5,"duration_hours":2,"non_negotiable":true,"reasoning":"Due"},
		{"task":"Water plants","urgency":2,"importance":2,"duration_hours":0.25,"non_negotiable":false,"reasoning":"Quick"}
	],"total_available_hours":6,"strategy_note":"Essay first."}`

	schedule = `{"blocks":[
		{"start":"11:00","end":"13:00","task":"Write essay","rationale":"Focus","is_fixed":false},
		{"start":"13:30","end":"13:45","task":"Water plants","rationale":"Break","is_fixed":false}
	],"strategy":"Essay before lunch."}`
)

var testClock = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

// testEnv is a session wired to a temporary profile and a scripted
// reasoning backend.
type testEnv struct {
	t       *testing.T
	session *session
	script  *reasoningtest.Script
	dbPath  string
	sealer  *storage.Sealer
	dir     string
	// edit adjusts the config every app is opened with.
	edit func(*config.Config)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "OPENCAGE_API_KEY", "WHOOP_CLIENT_ID", "WHOOP_CLIENT_SECRET", "NO_COLOR", "FORCE_COLOR"} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	sealer, err := storage.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	env := &testEnv{
		t:      t,
		script: reasoningtest.New(analysis, schedule),
		dbPath: filepath.Join(dir, "daypilot.db"),
		sealer: sealer,
		dir:    dir,
	}
	s := newSession()
	s.configPath = filepath.Join(dir, "config.toml")
	s.interactive = func() bool { return false }
	s.progressTTY = func() bool { return false }
	s.outputTTY = func() bool { return false }
	s.openApp = func(cfg *config.Config, logger *logging.Logger) (*app.App, error) {
		cfg = cfg.Clone()
		cfg.Providers.Weather = false
		cfg.Providers.Recovery = false
		cfg.Providers.Attempts = 1
		if env.edit != nil {
			env.edit(cfg)
		}
		store, err := storage.Open(env.dbPath, env.sealer)
		if err != nil {
			return nil, err
		}
		return app.New(cfg, store, logger,
			app.WithClock(func() time.Time { return testClock }),
			app.WithReasoner(env.script),
		), nil
	}
	env.session = s
	return env
}

// withStore runs fn against the profile database between commands.
func (e *testEnv) withStore(fn func(*storage.Store)) {
	e.t.Helper()
	store, err := storage.Open(e.dbPath, e.sealer)
	require.NoError(e.t, err)
	defer store.Close()
	fn(store)
}

func (e *testEnv) location() (profile.Location, error) {
	var (
		loc profile.Location
		err error
	)
	e.withStore(func(st *storage.Store) { loc, err = st.Location(context.Background()) })
	return loc, err
}

// inLisbon confirms a location so runs plan in Europe/Lisbon, 10:00.
func (e *testEnv) inLisbon() *testEnv {
	e.withStore(func(st *storage.Store) {
		require.NoError(e.t, st.SetLocation(context.Background(), profile.Location{
			Name: "Lisbon, Portugal", Latitude: 38.7223, Longitude: -9.1393, Timezone: "Europe/Lisbon",
		}))
	})
	return e
}

// scriptAnswers makes prompts read from answers.
func (e *testEnv) scriptAnswers(answers ...string) {
	e.session.interactive = func() bool { return true }
	in := strings.NewReader(strings.Join(answers, "\n") + "\n")
	e.session.newPrompter = func(_ io.Reader, out io.Writer) Prompter {
		return newReaderPrompter(in, out)
	}
}

// run executes the command tree the way main does.
func (e *testEnv) run(stdin string, args ...string) (string, error) {
	root := newRootCommand(e.session)
	return executeCommand(root, stdin, args...)
}

func executeCommand(root *cobra.Command, stdin string, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// =============================================================================
// VERSION AND CONFIG
// =============================================================================

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(NewRootCommand(), "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "daypilot "+Version)
}

func TestConfigInitWritesDefaults(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	cfg, err := config.LoadFrom(env.session.configPath)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Planning.WorkHours, cfg.Planning.WorkHours)

	_, err = env.run("", "config", "init")
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Equal(t, ExitUsageError, ExitCode(err))

	_, err = env.run("", "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigPath(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run("", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, env.session.configPath, strings.TrimSpace(out))
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default()
	cfg.Reasoning.APIKey = "sk-very-secret"
	cfg.Server.AuthToken = "token-very-secret"
	require.NoError(t, config.SaveTOML(cfg, env.session.configPath))

	out, err := env.run("", "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-very-secret")
	assert.NotContains(t, out, "token-very-secret")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "[reasoning]")
}

func TestInvalidConfigIsAConfigError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.session.configPath, []byte("[planning]\nwork_hourz = \"9-5\"\n"), 0600))

	_, err := env.run("", "location", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work_hourz")

	// config subcommands still work against a broken file.
	out, err := env.run("", "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "config.toml")
}

// =============================================================================
// PLAN
// =============================================================================

func TestPlanFromArguments(t *testing.T) {
	env := newTestEnv(t).inLisbon()
	out, err := env.run("", "plan", "--plain", "write essay, water plants")
	require.NoError(t, err)

	assert.Contains(t, out, "Write essay")
	assert.Contains(t, out, "Water plants")
	assert.Equal(t, 2, env.script.Calls())
}

func TestPlanFromFile(t *testing.T) {
	env := newTestEnv(t).inLisbon()
	path := filepath.Join(env.dir, "todo.txt")
	require.NoError(t, os.WriteFile(path, []byte("write essay\nwater plants\n"), 0600))

	out, err := env.run("", "plan", "--file", path, "--work-hours", "10am-4pm", "--commitment", "1pm lunch")
	require.NoError(t, err)
	assert.Contains(t, out, "Write essay")

	prompt := env.script.Prompts()[0]
	assert.Contains(t, prompt, "write essay")
	assert.Contains(t, prompt, "10am-4pm")
	assert.Contains(t, prompt, "1pm lunch")
}

func TestPlanReadsPipedStdin(t *testing.T) {
	env := newTestEnv(t).inLisbon()
	_, err := env.run("write essay\nwater plants\n", "plan", "--plain")
	require.NoError(t, err)
	assert.Contains(t, env.script.Prompts()[0], "water plants")
}

func TestPlanMissingFileIsUsageError(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("", "plan", "--file", filepath.Join(env.dir, "missing.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
	assert.Zero(t, env.script.Calls())
}

func TestPlanJSON(t *testing.T) {
	env := newTestEnv(t).inLisbon()
	out, err := env.run("", "plan", "--json", "write essay, water plants")
	require.NoError(t, err)

	var resp server.PlanResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp.RunID)
	require.Len(t, resp.Schedule, 2)
	assert.Equal(t, "Write essay", resp.Schedule[0].Task)
	assert.Equal(t, "Essay before lunch.", resp.Strategy)
	assert.NotEmpty(t, resp.Presentation)
}

func TestPlanJSONAndPlainAreExclusive(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("", "plan", "--json", "--plain", "write essay")
	require.Error(t, err)
	assert.Zero(t, env.script.Calls())
}

func TestPlanEmptyInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("   \n", "plan")
	require.Error(t, err)

	var pe *plan.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, plan.StageGather, pe.Stage)
	assert.Equal(t, ExitUsageError, ExitCode(err))
	assert.Zero(t, env.script.Calls())
}

func TestPlanPromptsInteractively(t *testing.T) {
	env := newTestEnv(t).inLisbon()
	env.scriptAnswers(
		"write essay",
		"water plants",
		"",
		"10am-5pm",
		"3pm dentist",
		"",
	)

	out, err := env.run("", "plan", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "What needs to happen today?")

	prompt := env.script.Prompts()[0]
	assert.Contains(t, prompt, "write essay\nwater plants")
	assert.Contains(t, prompt, "10am-5pm")
	assert.Contains(t, prompt, "3pm dentist")
}

func TestPlanPromptKeepsDefaultWorkHours(t *testing.T) {
	env := newTestEnv(t).inLisbon()
	env.scriptAnswers("write essay", "water plants", "", "", "")

	_, err := env.run("", "plan", "--plain")
	require.NoError(t, err)
	assert.Contains(t, env.script.Prompts()[0], config.Default().Planning.WorkHours)
}

func TestPlanReasoningFailureShowsStage(t *testing.T) {
	env := newTestEnv(t)
	env.script = reasoningtest.New("not json", "still not json")

	_, err := env.run("", "plan", "write essay")
	require.Error(t, err)

	var buf bytes.Buffer
	DisplayError(&buf, err)
	assert.Contains(t, buf.String(), "Planning failed at the analyze stage")
	assert.Equal(t, ExitGeneralError, ExitCode(err))
}

// =============================================================================
// CAPTURE
// =============================================================================

const captured = `{"actions":[{"tool":"create_tasks","tasks":[
	{"title":"Write essay","context":"work","est":90,"depth":"deep","due":"2026-10-20","confidence":"high"},
	{"title":"Water plants","context":"personal","est":10,"depth":"shallow","confidence":"med"}
]}],"message":"Added two tasks."}`

func TestCapturePrintsPlannerInput(t *testing.T) {
	env := newTestEnv(t)
	env.script = reasoningtest.New(captured)

	out, err := env.run("", "capture", "essay due tomorrow, water the plants")
	require.NoError(t, err)
	assert.Contains(t, out, "Added two tasks.")
	assert.Contains(t, out, "Write essay (90 min, deep, work, due 2026-10-20)\nWater plants (10 min, shallow, personal)\n")
	assert.Contains(t, env.script.Prompts()[0], "User: essay due tomorrow, water the plants")
}

func TestCaptureJSON(t *testing.T) {
	env := newTestEnv(t)
	env.script = reasoningtest.New(captured)

	out, err := env.run("essay, plants\n", "capture", "--json")
	require.NoError(t, err)

	var got captureOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, 1, got.Tasks[0].ID)
	assert.Equal(t, 90, got.Tasks[0].Minutes)
	assert.Equal(t, "Added two tasks.", got.Message)
	assert.True(t, strings.HasPrefix(got.Input, "Write essay (90 min"))
}

func TestCaptureThenPlan(t *testing.T) {
	env := newTestEnv(t).inLisbon()
	env.script = reasoningtest.New(captured, analysis, schedule)

	out, err := env.run("", "capture", "--plan", "--json", "--work-hours", "10am-4pm", "essay, plants")
	require.NoError(t, err)

	var resp server.PlanResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Schedule, 2)
	assert.Equal(t, "Write essay", resp.Schedule[0].Task)

	analyze := env.script.Prompts()[1]
	assert.Contains(t, analyze, "Write essay (90 min, deep, work, due 2026-10-20)")
	assert.Contains(t, analyze, "10am-4pm")
}

func TestCaptureConversation(t *testing.T) {
	env := newTestEnv(t)
	env.script = reasoningtest.New(captured,
		`{"actions":[{"tool":"edit_task","id":1,"patch":{"est":45}}],"message":"Made the essay shorter."}`)
	env.scriptAnswers("essay, plants", "/rm 2", "/rm x", "essay is only 45 minutes", "/list", "/done")

	out, err := env.run("", "capture")
	require.NoError(t, err)
	assert.Contains(t, out, "usage: /rm N")
	assert.Contains(t, out, "Made the essay shorter.")
	assert.Contains(t, out, "Write essay (45 min, deep, work, due 2026-10-20)\n")
	assert.Equal(t, 2, env.script.Calls())
	assert.Contains(t, env.script.Prompts()[1], "- 1: Write essay | work | 90m")
	assert.NotContains(t, env.script.Prompts()[1], "- 2: Water plants")
}

func TestCaptureEmptyMessageIsUsageError(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("  \n", "capture")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
	assert.Zero(t, env.script.Calls())
}

// =============================================================================
// LOCATION
// =============================================================================

const (
	lisbonResult = `{"formatted":"Lisbon, Portugal","confidence":%d,
		"components":{"city":"Lisbon","country":"Portugal"},
		"geometry":{"lat":38.7223,"lng":-9.1393},
		"annotations":{"timezone":{"name":"Europe/Lisbon"}}}`
	lisbonOhioResult = `{"formatted":"Lisbon, Ohio, United States","confidence":%d,
		"components":{"village":"Lisbon","state":"Ohio","country":"United States"},
		"geometry":{"lat":40.772,"lng":-80.768},
		"annotations":{"timezone":{"name":"America/New_York"}}}`
)

// geocoder serves a fixed OpenCage response and points the config at it.
func (e *testEnv) geocoder(results ...string) {
	body := fmt.Sprintf(`{"results":[%s],"status":{"code":200,"message":"OK"}}`, strings.Join(results, ","))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(e.t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	e.t.Cleanup(srv.Close)
	e.edit = func(cfg *config.Config) {
		cfg.Location.OpenCageKey = "test-key"
		cfg.Location.GeocodeURL = srv.URL
	}
}

func TestLocationSetWithYes(t *testing.T) {
	env := newTestEnv(t)
	env.geocoder(fmt.Sprintf(lisbonResult, 9))

	out, err := env.run("", "location", "set", "Lisbon", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Location saved: Lisbon, Portugal (Europe/Lisbon)")

	loc, err := env.location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Lisbon", loc.Timezone)
	assert.True(t, testClock.Equal(loc.ConfirmedAt))
}

func TestLocationSetNeedsConfirmationWhenNotInteractive(t *testing.T) {
	env := newTestEnv(t)
	env.geocoder(fmt.Sprintf(lisbonResult, 9))

	_, err := env.run("", "location", "set", "Lisbon")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))

	_, err = env.location()
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLocationSetAmbiguous(t *testing.T) {
	env := newTestEnv(t)
	env.geocoder(fmt.Sprintf(lisbonResult, 7), fmt.Sprintf(lisbonOhioResult, 7))

	out, err := env.run("", "location", "set", "Lisbon", "--yes")
	require.Error(t, err, "--yes must not resolve an ambiguous match")
	assert.Contains(t, out, "matches several places")
	assert.Contains(t, err.Error(), "--pick")

	_, err = env.run("", "location", "set", "Lisbon", "--pick", "2")
	require.NoError(t, err)
	loc, err := env.location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.Timezone)

	_, err = env.run("", "location", "set", "Lisbon", "--pick", "3")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestLocationSetInteractiveChoice(t *testing.T) {
	env := newTestEnv(t)
	env.geocoder(fmt.Sprintf(lisbonResult, 7), fmt.Sprintf(lisbonOhioResult, 7))
	env.scriptAnswers("1")

	_, err := env.run("", "location", "set", "Lisbon")
	require.NoError(t, err)
	loc, err := env.location()
	require.NoError(t, err)
	assert.Equal(t, "Lisbon, Portugal", loc.Name)
}

func TestLocationSetDeclined(t *testing.T) {
	env := newTestEnv(t)
	env.geocoder(fmt.Sprintf(lisbonResult, 9))
	env.scriptAnswers("n")

	_, err := env.run("", "location", "set", "Lisbon")
	require.ErrorIs(t, err, errNotSaved)
	_, err = env.location()
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLocationShowAndClear(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("", "location", "show")
	require.ErrorIs(t, err, app.ErrNoLocation)
	assert.Equal(t, ExitNotFoundError, ExitCode(err))

	env.inLisbon()
	out, err := env.run("", "location", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Lisbon, Portugal")
	assert.Contains(t, out, "Europe/Lisbon")

	out, err = env.run("", "location", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Location cleared")
	_, err = env.run("", "location", "show")
	assert.ErrorIs(t, err, app.ErrNoLocation)
}

func TestWhoopStatusNotConnected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("", "whoop", "status")
	require.Error(t, err)
	assert.Equal(t, ExitAuthError, ExitCode(err))
}

// =============================================================================
// ERRORS AND RENDERING
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), ExitInterrupted},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"empty input", &plan.PipelineError{Stage: plan.StageGather, Err: &plan.EmptyInputError{}}, ExitUsageError},
		{"usage", usageErrorf("bad flag"), ExitUsageError},
		{"no api key", fmt.Errorf("open: %w", reasoning.ErrNoAPIKey), ExitConfigError},
		{"invalid config", config.ValidationErrors{{Field: "server.port", Message: "out of range"}}, ExitConfigError},
		{"transport", &plan.PipelineError{Stage: plan.StageAnalyze, Err: &reasoning.TransportError{Err: errors.New("refused")}}, ExitNetworkError},
		{"no location", app.ErrNoLocation, ExitNotFoundError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, &plan.PipelineError{Stage: plan.StageCreate, Err: errors.New("blocks overlap")})
	assert.Contains(t, buf.String(), "Planning failed at the create schedule stage: blocks overlap")

	buf.Reset()
	DisplayError(&buf, errors.New("plain failure"))
	assert.Contains(t, buf.String(), "plain failure")

	buf.Reset()
	DisplayError(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestHighlightJSON(t *testing.T) {
	out := highlightJSON(`{"task": "Write essay"}`)
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "Write essay")
}

func TestWriteJSONWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, map[string]int{"blocks": 2}, false))
	assert.Equal(t, "{\n  \"blocks\": 2\n}\n", buf.String())
}

func TestRenderMarkdownPlain(t *testing.T) {
	md := "# Today\n\n- Write essay\n"
	assert.Equal(t, md, renderMarkdown(md, renderPlain, 80))
	assert.Contains(t, renderMarkdown(md, renderASCII, 80), "Write essay")
}

func TestSplitAddr(t *testing.T) {
	host, port, err := splitAddr("127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 8080, port)

	_, _, err = splitAddr("localhost")
	assert.Equal(t, ExitUsageError, ExitCode(err))
	_, _, err = splitAddr("localhost:http")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestPromptHelpers(t *testing.T) {
	p := newReaderPrompter(strings.NewReader("a\nb\n\n\ny\n"), io.Discard)

	lines, err := promptLines(p, "> ")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)

	hours, err := promptDefault(p, "Work hours", "9am-6pm")
	require.NoError(t, err)
	assert.Equal(t, "9am-6pm", hours)

	ok, err := confirm(p, "Use it?")
	require.NoError(t, err)
	assert.True(t, ok)

	// EOF ends a list and keeps defaults.
	lines, err = promptLines(p, "> ")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestReadAllRejectsHugeInput(t *testing.T) {
	_, err := readAll(strings.NewReader(strings.Repeat("x", maxStdinBytes+1)))
	assert.Equal(t, ExitUsageError, ExitCode(err))
}
