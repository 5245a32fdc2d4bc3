package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/lailatov/runner/internal/task"
)

func testTask(id string) *task.Task {
	t := &task.Task{ID: id, RepoURL: "u", Branch: "b", Instruction: "do it"}
	t.Normalize()
	return t
}

func TestSelectExplicitEngine(t *testing.T) {
	r := NewRegistry()
	tk := testTask("t1")
	tk.Engine = "gemini"
	tk.Model = "claude-sonnet-4-5" // affinity must not override explicit choice
	if got := r.Select(tk).Name(); got != "gemini" {
		t.Errorf("selected %s, want gemini", got)
	}
}

func TestSelectEnvOverride(t *testing.T) {
	t.Setenv("RUNNER_ENGINE", "codex")
	r := NewRegistry()
	tk := testTask("t1")
	tk.Model = "claude-sonnet-4-5"
	if got := r.Select(tk).Name(); got != "codex" {
		t.Errorf("selected %s, want codex", got)
	}
}

func TestSelectModelAffinity(t *testing.T) {
	t.Setenv("RUNNER_ENGINE", "")
	r := NewRegistry()
	cases := map[string]string{
		"claude-opus-4-1": "claude",
		"gpt-5-codex":     "codex",
		"o3-mini":         "codex",
		"gemini-2.5-pro":  "gemini",
	}
	for model, want := range cases {
		tk := testTask("t1")
		tk.Model = model
		if got := r.Select(tk).Name(); got != want {
			t.Errorf("model %s selected %s, want %s", model, got, want)
		}
	}
}

func TestSelectPolyglotFallback(t *testing.T) {
	t.Setenv("RUNNER_ENGINE", "")
	r := NewRegistry()
	tk := testTask("t1")
	tk.Model = "mistral-large"
	if got := r.Select(tk).Name(); got != PolyglotEngine {
		t.Errorf("selected %s, want %s", got, PolyglotEngine)
	}
	tk.Model = ""
	if got := r.Select(tk).Name(); got != PolyglotEngine {
		t.Errorf("no model selected %s, want %s", got, PolyglotEngine)
	}
}

func TestSetFallback(t *testing.T) {
	t.Setenv("RUNNER_ENGINE", "")
	r := NewRegistry()
	r.SetFallback("claude")
	tk := testTask("t1")
	tk.Model = "mistral-large"
	if got := r.Select(tk).Name(); got != "claude" {
		t.Errorf("selected %s, want claude", got)
	}
	r.SetFallback("no-such-engine") // ignored
	if got := r.Select(tk).Name(); got != "claude" {
		t.Errorf("unknown fallback replaced claude with %s", got)
	}
}

func TestDeriveProviderFromModel(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-5":       "anthropic",
		"gpt-5":                   "openai",
		"o1-preview":              "openai",
		"codex-mini":              "openai",
		"gemini-2.5-flash":        "google",
		"deepseek-chat":           "deepseek",
		"qwen-coder":              GatewayProvider,
		"mistralai/mistral-large": GatewayProvider,
		"anthropic/claude-opus-4": GatewayProvider,
	}
	for model, want := range cases {
		if got := DeriveProviderFromModel(model); got != want {
			t.Errorf("%s -> %s, want %s", model, got, want)
		}
	}
}

func TestExecuteMissingWorkspace(t *testing.T) {
	res := execute(context.Background(), RunRequest{Task: testTask("t1")}, invocation{engine: "claude"}, nil)
	if res.Outcome != task.OutcomeFailure {
		t.Errorf("outcome = %s, want failure", res.Outcome)
	}
	if res.ErrorMessage == "" {
		t.Error("missing workspace must carry a diagnostic")
	}
}

func TestExecuteOutcomeMapping(t *testing.T) {
	tk := testTask("t1")
	req := RunRequest{Task: tk, WorkspaceDir: t.TempDir()}

	ok := execute(context.Background(), req, invocation{engine: "e", argv: []string{"true"}}, nil)
	if ok.Outcome != task.OutcomeSuccess {
		t.Errorf("true -> %s, want success", ok.Outcome)
	}

	fail := execute(context.Background(), req, invocation{engine: "e", argv: []string{"false"}}, nil)
	if fail.Outcome != task.OutcomeFailure {
		t.Errorf("false -> %s, want failure", fail.Outcome)
	}
	if !strings.Contains(fail.ErrorMessage, "exited with code 1") {
		t.Errorf("error message = %q", fail.ErrorMessage)
	}
}

func TestExecuteTimeoutOutcome(t *testing.T) {
	tk := testTask("t1")
	tk.TimeoutSeconds = 1
	req := RunRequest{Task: tk, WorkspaceDir: t.TempDir()}
	res := execute(context.Background(), req, invocation{engine: "e", argv: []string{"sleep", "30"}}, nil)
	if res.Outcome != task.OutcomeTimeout {
		t.Errorf("outcome = %s, want timeout", res.Outcome)
	}
}

func TestParseStreamJSON(t *testing.T) {
	out := strings.Join([]string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"role":"assistant"}}`,
		`not json at all`,
		`{"type":"result","subtype":"success","total_cost_usd":0.0734,"num_turns":6}`,
	}, "\n")
	cost, turns := parseStreamJSON(out)
	if cost != 0.0734 {
		t.Errorf("cost = %v", cost)
	}
	if turns != 6 {
		t.Errorf("turns = %d", turns)
	}
}

func TestParseStreamJSONEmpty(t *testing.T) {
	cost, turns := parseStreamJSON("plain text output\nno json here")
	if cost != 0 || turns != 0 {
		t.Errorf("cost=%v turns=%d, want zeros", cost, turns)
	}
}

func TestParseCodexOutput(t *testing.T) {
	out := strings.Join([]string{
		`{"type":"turn.completed"}`,
		`{"type":"turn.completed"}`,
		`{"type":"session.done","total_cost_usd":0.12}`,
	}, "\n")
	cost, turns := parseCodexOutput(out)
	if cost != 0.12 {
		t.Errorf("cost = %v", cost)
	}
	if turns != 2 {
		t.Errorf("turns = %d", turns)
	}
}

func TestParseCodexCostFallback(t *testing.T) {
	cost, _ := parseCodexOutput("some summary\nCost: $1.25\n")
	if cost != 1.25 {
		t.Errorf("cost = %v, want 1.25", cost)
	}
}

func TestSandboxArgv(t *testing.T) {
	argv := sandboxArgv([]string{"claude", "-p", "x"}, "/tmp/ws", "lailatov/sandbox:python",
		map[string]string{"B_KEY": "2", "A_KEY": "1"})
	joined := strings.Join(argv, " ")
	for _, want := range []string{
		"docker run --rm",
		"-v /tmp/ws:/workspace",
		"-w /workspace",
		"--network none",
		"--read-only",
		"--tmpfs /tmp",
		"-e A_KEY=1 -e B_KEY=2", // sorted, explicit forwarding
		"lailatov/sandbox:python claude -p x",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv missing %q: %s", want, joined)
		}
	}
	if argv[len(argv)-1] != "x" {
		t.Error("inner command must come last")
	}
}

func TestDefaultRegistryReset(t *testing.T) {
	ResetRegistry()
	r1 := Default()
	if r2 := Default(); r2 != r1 {
		t.Error("Default not stable across calls")
	}
	ResetRegistry()
	if r3 := Default(); r3 == r1 {
		t.Error("ResetRegistry did not discard the registry")
	}
}
