package engine

import (
	"context"

	"github.com/lailatov/runner/internal/task"
)

const geminiDefaultModel = "gemini-2.5-pro"

// geminiAdapter drives the gemini CLI in stream-json mode with approvals
// disabled.
type geminiAdapter struct{}

func newGemini() *geminiAdapter { return &geminiAdapter{} }

func (a *geminiAdapter) Name() string { return "gemini" }

func (a *geminiAdapter) Models() []string {
	return []string{"gemini-2.5-pro", "gemini-2.5-flash"}
}

func (a *geminiAdapter) Available() bool { return binaryOnPath("gemini") }

func (a *geminiAdapter) Run(ctx context.Context, req RunRequest) *task.Result {
	model := req.Task.Model
	if model == "" {
		model = geminiDefaultModel
	}
	inv := invocation{
		engine: a.Name(),
		model:  model,
		argv: []string{
			"gemini", "-p",
			"--output-format", "stream-json",
			"--yolo",
			"--model", model,
			buildPrompt(req.Task),
		},
		env: forwardEnv("GEMINI_API_KEY"),
	}
	return execute(ctx, req, inv, parseStreamJSON)
}
