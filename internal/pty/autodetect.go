package pty

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// shellCandidates are tried in order after the preferred shell and $SHELL.
var shellCandidates = []string{
	"/bin/bash",
	"/bin/zsh",
	"/bin/sh",
}

// DetectShell picks the shell a session runs. In order of preference:
//  1. preferred, when non-empty (a bare name is resolved through $PATH)
//  2. $SHELL
//  3. /bin/bash, /bin/zsh, /bin/sh
//
// A preferred shell that cannot be found is an error rather than a silent
// fallback.
func DetectShell(preferred string) (string, error) {
	if preferred != "" {
		path, err := exec.LookPath(preferred)
		if err != nil {
			return "", fmt.Errorf("configured shell %q: %w", preferred, err)
		}
		return path, nil
	}

	if shell := os.Getenv("SHELL"); shell != "" && isExecutable(shell) {
		return shell, nil
	}

	for _, candidate := range shellCandidates {
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no shell found: checked $SHELL, %v", shellCandidates)
}

// isExecutable reports whether path is a regular file with an execute bit.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Mode()&0o111 == 0 {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	_, err = exec.LookPath(absPath)
	return err == nil
}
