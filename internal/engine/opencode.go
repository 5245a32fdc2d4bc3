package engine

import (
	"context"
	"strings"

	"github.com/lailatov/runner/internal/task"
)

const opencodeDefaultModel = "anthropic/claude-sonnet-4-5"

// GatewayProvider is the catch-all routing target for models no first-party
// provider claims.
const GatewayProvider = "openrouter"

// DeriveProviderFromModel maps a model name onto a provider key. A name that
// already carries a provider qualifier ("provider/model") routes through the
// gateway unchanged; bare names are matched by prefix; anything unknown also
// falls through to the gateway.
func DeriveProviderFromModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if strings.Contains(m, "/") {
		return GatewayProvider
	}
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "codex"):
		return "openai"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	case strings.HasPrefix(m, "deepseek"):
		return "deepseek"
	default:
		return GatewayProvider
	}
}

// providerEnvKeys lists the env vars each provider's SDK reads.
var providerEnvKeys = map[string][]string{
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"openai":     {"OPENAI_API_KEY"},
	"google":     {"GEMINI_API_KEY"},
	"deepseek":   {"DEEPSEEK_API_KEY"},
	"openrouter": {"OPENROUTER_API_KEY", "OPENROUTER_BASE_URL"},
}

// opencodeAdapter is the polyglot fallback. It accepts any model and routes
// through opencode's own provider registry.
type opencodeAdapter struct{}

func newOpencode() *opencodeAdapter { return &opencodeAdapter{} }

func (a *opencodeAdapter) Name() string { return "opencode" }

func (a *opencodeAdapter) Models() []string { return []string{WildcardModel} }

func (a *opencodeAdapter) Available() bool { return binaryOnPath("opencode") }

func (a *opencodeAdapter) Run(ctx context.Context, req RunRequest) *task.Result {
	model := req.Task.Model
	if model == "" {
		model = opencodeDefaultModel
	}
	provider := DeriveProviderFromModel(model)
	qualified := model
	if !strings.Contains(model, "/") {
		qualified = provider + "/" + model
	}
	inv := invocation{
		engine: a.Name(),
		model:  model,
		argv: []string{
			"opencode", "run",
			"--model", qualified,
			buildPrompt(req.Task),
		},
		env: forwardEnv(providerEnvKeys[provider]...),
	}
	return execute(ctx, req, inv, parseCodexOutput)
}
