package engine

import (
	"context"

	"github.com/lailatov/runner/internal/task"
)

const codexDefaultModel = "gpt-5-codex"

// codexAdapter drives codex exec in JSONL mode. The prompt goes on stdin.
type codexAdapter struct{}

func newCodex() *codexAdapter { return &codexAdapter{} }

func (a *codexAdapter) Name() string { return "codex" }

func (a *codexAdapter) Models() []string {
	return []string{"gpt-5-codex", "gpt-5", "o3", "o1"}
}

func (a *codexAdapter) Available() bool { return binaryOnPath("codex") }

func (a *codexAdapter) Run(ctx context.Context, req RunRequest) *task.Result {
	model := req.Task.Model
	if model == "" {
		model = codexDefaultModel
	}
	inv := invocation{
		engine: a.Name(),
		model:  model,
		argv: []string{
			"codex", "exec", "--json",
			"--sandbox", "workspace-write",
			"-m", model,
			"-C", req.WorkspaceDir,
		},
		stdin: buildPrompt(req.Task),
		env:   forwardEnv("OPENAI_API_KEY", "OPENAI_BASE_URL"),
	}
	return execute(ctx, req, inv, parseCodexOutput)
}
