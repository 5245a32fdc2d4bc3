package server

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// taskSchemaJSON is the submission contract served at /schema/task and
// enforced on POST /tasks. Enum-ish fields (risk_tier, complexity) are
// deliberately left as plain strings here; invalid values are coerced to
// their defaults rather than rejected.
const taskSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "Task submission",
  "type": "object",
  "required": ["task_id", "repo_url", "branch", "description"],
  "additionalProperties": false,
  "properties": {
    "task_id":         {"type": "string", "pattern": "^[A-Za-z0-9_-]{1,128}$"},
    "repo_url":        {"type": "string", "minLength": 1},
    "branch":          {"type": "string", "minLength": 1},
    "base_branch":     {"type": "string"},
    "title":           {"type": "string"},
    "description":     {"type": "string", "minLength": 1},
    "risk_tier":       {"type": "string"},
    "complexity":      {"type": "string"},
    "engine":          {"type": ["string", "null"]},
    "model":           {"type": ["string", "null"]},
    "max_turns":       {"type": "integer", "minimum": 1},
    "timeout_seconds": {"type": "integer", "minimum": 1},
    "env_vars":        {"type": "object", "additionalProperties": {"type": "string"}},
    "constitution":    {"type": "string"},
    "callback_url":    {"type": ["string", "null"]},
    "github_token":    {"type": ["string", "null"]},
    "max_cost_usd":    {"type": "number", "minimum": 0},
    "sandbox_mode":    {"type": "boolean"},
    "sandbox_image":   {"type": "string"}
  }
}`

var taskSchema = jsonschema.MustCompileString("task.schema.json", taskSchemaJSON)

// validateSubmission checks a decoded request body against the task schema.
func validateSubmission(body any) error {
	return taskSchema.Validate(body)
}
