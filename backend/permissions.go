package backend

import (
	"path/filepath"
	"strings"
)

// ToolKind classifies a permission-gated tool request by the kind of access
// it wants.
type ToolKind string

const (
	// ToolRead reads files or directories.
	ToolRead ToolKind = "read"
	// ToolWrite creates or modifies files.
	ToolWrite ToolKind = "write"
	// ToolExecute runs a shell command.
	ToolExecute ToolKind = "execute"
	// ToolOther covers tools that carry no filesystem access.
	ToolOther ToolKind = "other"
)

// ToolRequest is a backend tool invocation awaiting authorization.
type ToolRequest struct {
	Kind       ToolKind
	Name       string
	Parameters map[string]any
}

// Decision is the authorization outcome for one tool request.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Parameter keys searched for structured path information.
var (
	pathKeys          = []string{"path", "file_path", "filePath", "directory"}
	possiblePathsKeys = []string{"possible_paths", "possiblePaths"}
	commandKeys       = []string{"command", "cmd"}
)

// Authorize decides a tool request against the session's sandbox. Read and
// write requests must name at least one path and every named path must be
// inside the sandbox; shell requests are checked against their declared
// possible paths plus any path-looking tokens in the command text; requests
// that carry no path information for other kinds are approved.
func (s *Session) Authorize(req ToolRequest) Decision {
	switch req.Kind {
	case ToolRead, ToolWrite:
		paths := structuredPaths(req.Parameters)
		if len(paths) == 0 {
			// Fail closed: a read/write with no discoverable target could
			// touch anything.
			return deny("no path in " + string(req.Kind) + " request")
		}
		return s.checkPaths(paths)

	case ToolExecute:
		paths := structuredPaths(req.Parameters)
		paths = append(paths, possiblePaths(req.Parameters)...)
		for _, key := range commandKeys {
			if cmd, ok := StringArg(req.Parameters, key); ok {
				paths = append(paths, commandPaths(cmd)...)
			}
		}
		if len(paths) == 0 {
			return allow()
		}
		return s.checkPaths(paths)

	default:
		if paths := structuredPaths(req.Parameters); len(paths) > 0 {
			return s.checkPaths(paths)
		}
		return allow()
	}
}

func (s *Session) checkPaths(paths []string) Decision {
	for _, p := range paths {
		if !s.sandbox.Allows(p) {
			return deny("path outside sandbox: " + p)
		}
	}
	return allow()
}

// structuredPaths collects values of the well-known path parameter keys.
func structuredPaths(params map[string]any) []string {
	var paths []string
	for _, key := range pathKeys {
		if p, ok := StringArg(params, key); ok && p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// possiblePaths collects the backend's declared candidate paths for a shell
// request.
func possiblePaths(params map[string]any) []string {
	var paths []string
	for _, key := range possiblePathsKeys {
		raw, ok := params[key]
		if !ok {
			continue
		}
		switch vs := raw.(type) {
		case []string:
			paths = append(paths, vs...)
		case []any:
			for _, v := range vs {
				if p, ok := v.(string); ok && p != "" {
					paths = append(paths, p)
				}
			}
		}
	}
	return paths
}

// commandPaths scans a shell command line for path-looking tokens: absolute
// paths, home-relative paths, and explicit ./ or ../ references.
func commandPaths(command string) []string {
	var paths []string
	for _, token := range strings.Fields(command) {
		token = strings.Trim(token, `"'`)
		token = strings.TrimRight(token, ";,)")
		if token == "" {
			continue
		}
		if filepath.IsAbs(token) ||
			strings.HasPrefix(token, "~/") ||
			strings.HasPrefix(token, "./") ||
			strings.HasPrefix(token, "../") {
			paths = append(paths, token)
		}
	}
	return paths
}

// StringArg extracts a string parameter by key.
func StringArg(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolArg extracts a boolean parameter by key.
func BoolArg(params map[string]any, key string) (bool, bool) {
	v, ok := params[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
