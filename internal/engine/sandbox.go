package engine

import "sort"

// Container resource ceilings for sandboxed runs.
const (
	sandboxGuestPath = "/workspace"
	sandboxMemory    = "2g"
	sandboxCPUs      = "2"
)

// sandboxArgv wraps an engine command in a docker run invocation. The
// workspace is bind-mounted at a fixed guest path, the network is disabled,
// the root filesystem is read-only with a scratch tmpfs, and environment
// variables are forwarded via explicit -e flags so the container inherits
// nothing from the runner process.
func sandboxArgv(inner []string, workspaceDir, image string, env map[string]string) []string {
	argv := []string{
		"docker", "run", "--rm",
		"-v", workspaceDir + ":" + sandboxGuestPath,
		"-w", sandboxGuestPath,
		"--memory", sandboxMemory,
		"--cpus", sandboxCPUs,
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp",
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-e", k+"="+env[k])
	}
	argv = append(argv, image)
	return append(argv, inner...)
}
