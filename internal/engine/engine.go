// Package engine maps tasks onto external coding-agent CLIs. Each adapter
// owns one CLI's invocation shape, environment needs, and output parsing;
// the registry picks the adapter for a task.
package engine

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/lailatov/runner/internal/config"
	"github.com/lailatov/runner/internal/task"
)

// WildcardModel marks an adapter that accepts any model name.
const WildcardModel = "*"

// RunRequest carries everything an adapter needs for one execution.
type RunRequest struct {
	Task         *task.Task
	WorkspaceDir string
	OutputDir    string
	Cancel       <-chan struct{}
}

// Adapter is one engine CLI binding.
type Adapter interface {
	// Name is the engine's registry key.
	Name() string
	// Models lists supported model names, or the wildcard.
	Models() []string
	// Run executes the task and always returns a populated result, never
	// panicking on bad input.
	Run(ctx context.Context, req RunRequest) *task.Result
	// Available probes whether the engine's CLI is installed.
	Available() bool
}

// AffinityRule routes models with a given prefix to an engine.
type AffinityRule struct {
	ModelPrefix string
	Engine      string
}

// defaultAffinity is scanned in order; first prefix match wins.
var defaultAffinity = []AffinityRule{
	{ModelPrefix: "claude", Engine: "claude"},
	{ModelPrefix: "gpt", Engine: "codex"},
	{ModelPrefix: "o1", Engine: "codex"},
	{ModelPrefix: "o3", Engine: "codex"},
	{ModelPrefix: "codex", Engine: "codex"},
	{ModelPrefix: "gemini", Engine: "gemini"},
}

// PolyglotEngine is the universal fallback adapter name.
const PolyglotEngine = "opencode"

// Registry holds the known adapters and the selection policy.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	affinity []AffinityRule
	fallback string
}

// NewRegistry builds a registry with the builtin adapters.
func NewRegistry() *Registry {
	r := &Registry{
		adapters: map[string]Adapter{},
		affinity: defaultAffinity,
		fallback: PolyglotEngine,
	}
	r.Register(newClaude())
	r.Register(newCodex())
	r.Register(newGemini())
	r.Register(newOpencode())
	return r
}

// Register adds or replaces an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// SetFallback replaces the engine used when nothing else matches. Unknown
// names are ignored and the polyglot default stays in place.
func (r *Registry) SetFallback(name string) {
	if _, ok := r.Get(name); !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = strings.ToLower(strings.TrimSpace(name))
}

// SetAffinity replaces the model-prefix routing table.
func (r *Registry) SetAffinity(rules []AffinityRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.affinity = append([]AffinityRule{}, rules...)
}

// Get looks up an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// Names returns the registered engine names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	return out
}

// Select picks the adapter for a task: explicit task engine first, then the
// RUNNER_ENGINE environment override, then the model-affinity table, then
// the registry fallback (polyglot by default).
func (r *Registry) Select(t *task.Task) Adapter {
	if a, ok := r.Get(t.Engine); ok && t.Engine != "" {
		return a
	}
	if override := config.EngineOverride(); override != "" {
		if a, ok := r.Get(override); ok {
			return a
		}
	}
	model := strings.ToLower(strings.TrimSpace(t.Model))
	r.mu.RLock()
	rules := r.affinity
	fallback := r.fallback
	r.mu.RUnlock()
	if model != "" {
		for _, rule := range rules {
			if strings.HasPrefix(model, rule.ModelPrefix) {
				if a, ok := r.Get(rule.Engine); ok {
					return a
				}
			}
		}
	}
	a, _ := r.Get(fallback)
	return a
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
	defaultRegistryMu   sync.Mutex
)

// Default returns the lazily constructed process-wide registry.
func Default() *Registry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	defaultRegistryOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}

// ResetRegistry discards the process-wide registry. Test isolation only.
func ResetRegistry() {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	defaultRegistry = nil
	defaultRegistryOnce = sync.Once{}
}

// binaryOnPath reports whether an executable is resolvable.
func binaryOnPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
