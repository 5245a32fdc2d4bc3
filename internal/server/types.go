package server

// SubmitTaskRequest is the POST /tasks body.
type SubmitTaskRequest struct {
	TaskID         string            `json:"task_id"`
	RepoURL        string            `json:"repo_url"`
	Branch         string            `json:"branch"`
	BaseBranch     string            `json:"base_branch,omitempty"`
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description"`
	RiskTier       string            `json:"risk_tier,omitempty"`
	Complexity     string            `json:"complexity,omitempty"`
	Engine         string            `json:"engine,omitempty"`
	Model          string            `json:"model,omitempty"`
	MaxTurns       int               `json:"max_turns,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	EnvVars        map[string]string `json:"env_vars,omitempty"`
	Constitution   string            `json:"constitution,omitempty"`
	CallbackURL    string            `json:"callback_url,omitempty"`
	GitHubToken    string            `json:"github_token,omitempty"`
	MaxCostUSD     float64           `json:"max_cost_usd,omitempty"`
	SandboxMode    bool              `json:"sandbox_mode,omitempty"`
	SandboxImage   string            `json:"sandbox_image,omitempty"`
}

// TaskStatusResponse is the GET /tasks/{id} body. Result fields are zero
// until the task reaches a terminal status.
type TaskStatusResponse struct {
	TaskID       string   `json:"task_id"`
	Status       string   `json:"status"`
	Engine       string   `json:"engine,omitempty"`
	Model        string   `json:"model,omitempty"`
	FilesChanged []string `json:"files_changed"`
	CostUSD      float64  `json:"cost_usd"`
	NumTurns     int      `json:"num_turns"`
	DurationMS   int64    `json:"duration_ms"`
	CommitSHA    string   `json:"commit_sha,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status      string `json:"status"`
	ActiveTasks int    `json:"active_tasks"`
	Version     string `json:"version"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
