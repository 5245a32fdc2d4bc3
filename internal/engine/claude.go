package engine

import (
	"context"
	"strconv"

	"github.com/lailatov/runner/internal/task"
)

const claudeDefaultModel = "claude-sonnet-4-5"

// claudeAdapter drives the claude CLI in non-interactive stream-json mode.
type claudeAdapter struct{}

func newClaude() *claudeAdapter { return &claudeAdapter{} }

func (a *claudeAdapter) Name() string { return "claude" }

func (a *claudeAdapter) Models() []string {
	return []string{"claude-sonnet-4-5", "claude-opus-4-1", "claude-haiku-4-5"}
}

func (a *claudeAdapter) Available() bool { return binaryOnPath("claude") }

func (a *claudeAdapter) Run(ctx context.Context, req RunRequest) *task.Result {
	model := req.Task.Model
	if model == "" {
		model = claudeDefaultModel
	}
	inv := invocation{
		engine: a.Name(),
		model:  model,
		argv: []string{
			"claude", "-p",
			"--output-format", "stream-json",
			"--verbose",
			"--model", model,
			"--max-turns", strconv.Itoa(req.Task.MaxTurns),
			"--dangerously-skip-permissions",
			buildPrompt(req.Task),
		},
		env: forwardEnv("ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"),
	}
	return execute(ctx, req, inv, parseStreamJSON)
}
