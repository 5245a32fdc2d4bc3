// Package task defines the task model, the per-task runtime state machine,
// and the in-memory store the runner and watchdog share.
package task

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Defaults applied when a submission omits optional fields.
const (
	DefaultBaseBranch     = "main"
	DefaultRiskTier       = "medium"
	DefaultComplexity     = "standard"
	DefaultMaxTurns       = 40
	DefaultTimeoutSeconds = 3600
	DefaultSandboxImage   = "lailatov/sandbox:python"
)

// ValidID matches permitted task ids: alphanumeric plus dash/underscore,
// 1-128 characters.
var ValidID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Task is the immutable description of one agent run.
type Task struct {
	ID             string
	RepoURL        string
	Branch         string
	BaseBranch     string
	Title          string
	Instruction    string
	RiskTier       string
	Complexity     string
	Engine         string
	Model          string
	MaxTurns       int
	TimeoutSeconds int
	EnvVars        map[string]string
	Constitution   string
	CallbackURL    string
	GitHubToken    string
	MaxCostUSD     float64
	SandboxMode    bool
	SandboxImage   string
}

// Timeout returns the soft per-task deadline.
func (t *Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Normalize fills defaults and coerces invalid enum values. Invalid risk
// tiers fall back to medium; invalid complexity to standard.
func (t *Task) Normalize() {
	if strings.TrimSpace(t.BaseBranch) == "" {
		t.BaseBranch = DefaultBaseBranch
	}
	switch t.RiskTier {
	case "low", "medium", "high":
	default:
		t.RiskTier = DefaultRiskTier
	}
	switch t.Complexity {
	case "standard", "high":
	default:
		t.Complexity = DefaultComplexity
	}
	if t.MaxTurns <= 0 {
		t.MaxTurns = DefaultMaxTurns
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if t.MaxCostUSD < 0 {
		t.MaxCostUSD = 0
	}
	if strings.TrimSpace(t.SandboxImage) == "" {
		t.SandboxImage = DefaultSandboxImage
	}
	if t.EnvVars == nil {
		t.EnvVars = map[string]string{}
	}
}

// Validate checks the fields a submission must carry.
func (t *Task) Validate() error {
	if !ValidID.MatchString(t.ID) {
		return fmt.Errorf("task_id must match %s", ValidID.String())
	}
	if strings.TrimSpace(t.RepoURL) == "" {
		return fmt.Errorf("repo_url is required")
	}
	if strings.TrimSpace(t.Branch) == "" {
		return fmt.Errorf("branch is required")
	}
	if strings.TrimSpace(t.Instruction) == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

// Outcome is the terminal disposition reported in a Result.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is populated exactly once, at the terminal transition, and is
// frozen afterwards.
type Result struct {
	TaskID       string   `json:"task_id"`
	Outcome      Outcome  `json:"outcome"`
	Engine       string   `json:"engine,omitempty"`
	Model        string   `json:"model,omitempty"`
	FilesChanged []string `json:"files_changed"`
	CostUSD      float64  `json:"cost_usd"`
	NumTurns     int      `json:"num_turns"`
	DurationMS   int64    `json:"duration_ms"`
	CommitSHA    string   `json:"commit_sha,omitempty"`
	Pushed       bool     `json:"-"`
	ErrorMessage string   `json:"error_message,omitempty"`
	StdoutTail   string   `json:"stdout_tail,omitempty"`
	StderrTail   string   `json:"stderr_tail,omitempty"`
}
