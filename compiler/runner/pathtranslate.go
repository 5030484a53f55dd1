package runner

import (
	"fmt"
	"path/filepath"
	"strings"
)

// translatePath computes the directory the converter host must bind-mount
// for a given worker-visible workspace path, per the spec's path-
// translation contract: leaf = workspacePath - workerRoot, bind =
// dindRoot/leaf. It is a pure function of its three arguments so it can be
// tested without any container runtime.
func translatePath(workspacePath, workerRoot, dindRoot string) (string, error) {
	cleanWorkspace := filepath.Clean(workspacePath)
	cleanWorkerRoot := filepath.Clean(workerRoot)

	rel, err := filepath.Rel(cleanWorkerRoot, cleanWorkspace)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("runner: workspace %q is not under worker source root %q", workspacePath, workerRoot)
	}
	return filepath.Join(dindRoot, rel), nil
}
