// Package sandbox decides whether filesystem paths requested by the
// assistant's tools fall inside an operator-approved set of directories.
//
// A Sandbox is built once per backend session from the configured allow-list
// and is immutable afterwards. Membership is a containment test against
// normalized absolute directories, never a bare string-prefix test, so
// "/allowed" does not admit "/allowedextra/file".
package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Sandbox holds the normalized allow-list for one session.
type Sandbox struct {
	workingDir string
	allowed    []string
	foldCase   bool
}

// New builds a Sandbox from the configured allow-list and the session's
// working directory. An empty allow-list defaults to the working directory
// alone. Each entry is normalized independently; entries that cannot be
// resolved are skipped.
func New(allowed []string, workingDir string) *Sandbox {
	if abs, err := filepath.Abs(workingDir); err == nil {
		workingDir = abs
	}

	s := &Sandbox{
		workingDir: workingDir,
		// Default macOS and Windows filesystems compare paths without case.
		foldCase: runtime.GOOS == "windows" || runtime.GOOS == "darwin",
	}

	if len(allowed) == 0 {
		allowed = []string{workingDir}
	}

	for _, dir := range allowed {
		norm, ok := s.normalize(dir)
		if !ok {
			continue
		}
		s.allowed = append(s.allowed, norm)
	}

	return s
}

// Allowed returns the normalized allow-list.
func (s *Sandbox) Allowed() []string {
	dirs := make([]string, len(s.allowed))
	copy(dirs, s.allowed)
	return dirs
}

// Allows reports whether path is inside the sandbox. A path is allowed iff
// its fully resolved form equals an allowed directory, or extends one
// followed immediately by a path separator.
func (s *Sandbox) Allows(path string) bool {
	norm, ok := s.normalize(path)
	if !ok {
		return false
	}

	for _, dir := range s.allowed {
		if s.equal(norm, dir) {
			return true
		}
		if s.hasDirPrefix(norm, dir) {
			return true
		}
	}
	return false
}

// normalize resolves a path to absolute, separator-normalized form with all
// "."/".." segments collapsed and trailing separators stripped.
func (s *Sandbox) normalize(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	if path == "~" || strings.HasPrefix(path, "~"+string(filepath.Separator)) || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}

	if !filepath.IsAbs(path) {
		if s.workingDir == "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				return "", false
			}
			path = abs
		} else {
			path = filepath.Join(s.workingDir, path)
		}
	}

	path = filepath.Clean(path)

	// Clean leaves the separator on root paths; keep it there, strip elsewhere.
	if len(path) > 1 {
		path = strings.TrimRight(path, string(filepath.Separator))
	}

	return path, true
}

func (s *Sandbox) equal(a, b string) bool {
	if s.foldCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func (s *Sandbox) hasDirPrefix(path, dir string) bool {
	prefix := dir + string(filepath.Separator)
	if s.foldCase {
		return len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix)
	}
	return strings.HasPrefix(path, prefix)
}
