// Package gitutil wraps the git CLI with argument-vector invocations.
// Nothing here passes through a shell, so repository URLs, branch names and
// commit messages are never subject to shell interpretation.
package gitutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandError carries the argv and captured output of a failed git command.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	// Disable git's background auto-maintenance so task runs stay
	// deterministic and don't leave helper processes behind.
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.CommandContext(ctx, "git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// CloneShallow clones a single branch of remoteURL at depth 1 into dir.
// dir must not exist yet; git creates it.
func CloneShallow(ctx context.Context, remoteURL string, branch string, dir string) error {
	args := []string{
		"clone",
		"--depth", "1",
		"--single-branch",
		"--branch", branch,
		remoteURL,
		dir,
	}
	// clone has no -C target yet; run from the parent.
	cmd := exec.CommandContext(ctx, "git", append([]string{"-c", "maintenance.auto=0", "-c", "gc.auto=0"}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return nil
}

// CheckoutNewBranch creates and switches to branch in dir.
func CheckoutNewBranch(ctx context.Context, dir string, branch string) error {
	_, _, err := runGit(ctx, dir, "checkout", "-b", branch)
	return err
}

// SetIdentity sets the committer identity in the repo's local config.
func SetIdentity(ctx context.Context, dir string, name string, email string) error {
	if _, _, err := runGit(ctx, dir, "config", "user.name", name); err != nil {
		return err
	}
	_, _, err := runGit(ctx, dir, "config", "user.email", email)
	return err
}

// HeadSHA returns the commit hash of HEAD.
func HeadSHA(ctx context.Context, dir string) (string, error) {
	out, _, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// AddAll stages all changes, including untracked and deleted files.
func AddAll(ctx context.Context, dir string) error {
	_, _, err := runGit(ctx, dir, "add", "-A")
	return err
}

// HasStagedChanges reports whether the index differs from HEAD.
func HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	// diff --cached --quiet exits 1 when the index has changes.
	_, _, err := runGit(ctx, dir, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		var ee *exec.ExitError
		if errors.As(ce.Err, &ee) && ee.ExitCode() == 1 {
			return true, nil
		}
	}
	return false, err
}

// Commit records the staged index with the given message and returns the new
// HEAD sha. Callers are expected to have set the committer identity.
func Commit(ctx context.Context, dir string, message string) (string, error) {
	if _, _, err := runGit(ctx, dir, "commit", "-m", message); err != nil {
		return "", err
	}
	return HeadSHA(ctx, dir)
}

// Push pushes branch to origin.
func Push(ctx context.Context, dir string, branch string) error {
	_, _, err := runGit(ctx, dir, "push", "origin", branch)
	return err
}

// DiffNameOnly returns file paths changed on HEAD since it diverged from
// baseRef. The merge-base form keeps the listing stable even when baseRef
// has moved on since the branch was cut.
func DiffNameOnly(ctx context.Context, dir string, baseRef string) ([]string, error) {
	out, _, err := runGit(ctx, dir, "diff", "--name-only", baseRef+"...HEAD")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// StatusNames returns paths with uncommitted changes (porcelain format).
func StatusNames(ctx context.Context, dir string) ([]string, error) {
	out, _, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Porcelain lines are "XY path"; renames are "XY old -> new".
		if i := strings.IndexByte(line, ' '); i >= 0 {
			path := strings.TrimSpace(line[i+1:])
			if j := strings.Index(path, " -> "); j >= 0 {
				path = path[j+4:]
			}
			files = append(files, path)
		}
	}
	return files, nil
}

// RefExists reports whether a ref (e.g. "origin/main") resolves in dir.
func RefExists(ctx context.Context, dir string, ref string) bool {
	_, _, err := runGit(ctx, dir, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

func splitLines(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files
}
