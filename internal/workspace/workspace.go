// Package workspace manages per-task working directories: a shallow clone of
// the target repository plus scratch space for captured output and logs.
package workspace

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/lailatov/runner/internal/gitutil"
	"github.com/lailatov/runner/internal/task"
)

const (
	committerName  = "lailatov-agent"
	committerEmail = "agent@lailatov.dev"
)

// Workspace is the on-disk layout for one task.
type Workspace struct {
	TaskID    string
	Root      string
	RepoDir   string
	OutputDir string
	LogDir    string
}

// Manager creates, inspects and removes task workspaces under a root
// directory. The root is a shared namespace partitioned by task id; no two
// tasks ever share a directory.
type Manager struct {
	root         string
	keep         bool
	excludeGlobs []string
	cloneTimeout time.Duration
	pushTimeout  time.Duration
	logger       hclog.Logger
}

// Option adjusts a Manager.
type Option func(*Manager)

// WithKeep retains workspaces after terminal transitions (debug aid).
func WithKeep(keep bool) Option { return func(m *Manager) { m.keep = keep } }

// WithExcludeGlobs filters the changed-file listing.
func WithExcludeGlobs(globs []string) Option {
	return func(m *Manager) { m.excludeGlobs = globs }
}

// WithTimeouts overrides the clone and push timeouts.
func WithTimeouts(clone, push time.Duration) Option {
	return func(m *Manager) {
		if clone > 0 {
			m.cloneTimeout = clone
		}
		if push > 0 {
			m.pushTimeout = push
		}
	}
}

// NewManager creates a Manager rooted at root.
func NewManager(root string, logger hclog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := &Manager{
		root:         root,
		cloneTimeout: 2 * time.Minute,
		pushTimeout:  30 * time.Second,
		logger:       logger.Named("workspace"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the workspace directory for a task id without creating it.
func (m *Manager) Path(taskID string) string {
	return filepath.Join(m.root, taskID)
}

// Prepare builds the workspace for a task: removes any stale directory for
// the same id, creates the layout, shallow-clones the base branch, creates
// the working branch, and sets the committer identity. token may be empty
// for anonymous clones; when present it is embedded in the clone URL and
// scrubbed from every error.
func (m *Manager) Prepare(ctx context.Context, t *task.Task, token string) (*Workspace, error) {
	ws := &Workspace{
		TaskID:    t.ID,
		Root:      m.Path(t.ID),
		RepoDir:   filepath.Join(m.Path(t.ID), "repo"),
		OutputDir: filepath.Join(m.Path(t.ID), "output"),
		LogDir:    filepath.Join(m.Path(t.ID), "logs"),
	}

	// Tolerate partial prior state from a crashed earlier attempt.
	if err := os.RemoveAll(ws.Root); err != nil {
		return nil, fmt.Errorf("remove stale workspace: %w", err)
	}
	for _, dir := range []string{ws.OutputDir, ws.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dirs: %w", err)
		}
	}

	cloneURL, err := authenticatedURL(t.RepoURL, token)
	if err != nil {
		return nil, err
	}

	cloneCtx, cancel := context.WithTimeout(ctx, m.cloneTimeout)
	defer cancel()
	if err := gitutil.CloneShallow(cloneCtx, cloneURL, t.BaseBranch, ws.RepoDir); err != nil {
		return nil, fmt.Errorf("clone %s: %w", t.RepoURL, scrub(err, token))
	}
	if err := gitutil.CheckoutNewBranch(ctx, ws.RepoDir, t.Branch); err != nil {
		return nil, fmt.Errorf("create branch %s: %w", t.Branch, scrub(err, token))
	}
	if err := gitutil.SetIdentity(ctx, ws.RepoDir, committerName, committerEmail); err != nil {
		return nil, fmt.Errorf("set committer identity: %w", err)
	}

	m.logger.Debug("workspace prepared", "task_id", t.ID, "repo_dir", ws.RepoDir)
	return ws, nil
}

// Commit stages everything and commits. Returns an empty sha when the index
// has no staged changes, which is not an error.
func (m *Manager) Commit(ctx context.Context, repoDir string, message string) (string, error) {
	if err := gitutil.AddAll(ctx, repoDir); err != nil {
		return "", err
	}
	staged, err := gitutil.HasStagedChanges(ctx, repoDir)
	if err != nil {
		return "", err
	}
	if !staged {
		return "", nil
	}
	return gitutil.Commit(ctx, repoDir, message)
}

// Push pushes branch to origin under the push timeout.
func (m *Manager) Push(ctx context.Context, repoDir string, branch string) error {
	pushCtx, cancel := context.WithTimeout(ctx, m.pushTimeout)
	defer cancel()
	return gitutil.Push(pushCtx, repoDir, branch)
}

// ChangedFiles lists paths changed relative to the base branch. It prefers a
// diff against origin/<base>; shallow or detached states fall back to HEAD~1
// and finally to porcelain status. Paths matching the exclude globs are
// dropped.
func (m *Manager) ChangedFiles(ctx context.Context, repoDir string, base string) []string {
	var files []string
	var err error
	switch {
	case gitutil.RefExists(ctx, repoDir, "origin/"+base):
		files, err = gitutil.DiffNameOnly(ctx, repoDir, "origin/"+base)
	case gitutil.RefExists(ctx, repoDir, "HEAD~1"):
		files, err = gitutil.DiffNameOnly(ctx, repoDir, "HEAD~1")
	default:
		files, err = gitutil.StatusNames(ctx, repoDir)
	}
	if err != nil {
		m.logger.Warn("changed-file listing failed", "repo_dir", repoDir, "error", err)
		return nil
	}
	return m.filterExcluded(files)
}

func (m *Manager) filterExcluded(files []string) []string {
	if len(m.excludeGlobs) == 0 {
		return files
	}
	out := files[:0]
	for _, f := range files {
		excluded := false
		for _, glob := range m.excludeGlobs {
			if ok, err := doublestar.Match(glob, f); err == nil && ok {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, f)
		}
	}
	return out
}

// Cleanup removes the workspace for a task id unless retention is enabled.
func (m *Manager) Cleanup(taskID string) {
	if m.keep {
		m.logger.Debug("retaining workspace", "task_id", taskID, "path", m.Path(taskID))
		return
	}
	if err := os.RemoveAll(m.Path(taskID)); err != nil {
		m.logger.Warn("workspace cleanup failed", "task_id", taskID, "error", err)
	}
}

// authenticatedURL embeds token into an https remote URL using the
// x-access-token user form. Non-https URLs are passed through untouched so
// tests can clone from local paths.
func authenticatedURL(repoURL string, token string) (string, error) {
	if token == "" {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("parse repo url: %w", err)
	}
	if u.Scheme != "https" {
		return repoURL, nil
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}

// scrub replaces any occurrence of the credential in an error's text. The
// token must never reach logs or audit metadata.
func scrub(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(msg, token, "***"))
}
