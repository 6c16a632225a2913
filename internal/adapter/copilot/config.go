package copilot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// loadConfig reads ~/.copilot/config.json for the trusted-folders list. A
// missing file is not an error - it just means project/cwd detection never
// matches and every session falls back to the shared "copilot-sessions"
// bucket.
func loadConfig(homeDir string) (Config, error) {
	path := filepath.Join(homeDir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// detectProjectAndCWD scans timeline entries for a tool call whose arguments
// carry a filesystem path, matching it against the trusted folders list to
// recover both a project name and the cwd that produced it. Scanning stops
// at the first match, mirroring the source implementation's "first
// corroborating entry wins" behavior - later entries in the same session
// are assumed to share the same project.
func detectProjectAndCWD(timeline []TimelineEntry, trustedFolders []string) (project, cwd string, ok bool) {
	for _, entry := range timeline {
		args, hasArgs := entry.Data["arguments"]
		if !hasArgs {
			continue
		}

		path := extractArgPath(args)
		if path == "" {
			continue
		}
		if project, cwd, ok := matchTrustedFolder(path, trustedFolders); ok {
			return project, cwd, true
		}
	}
	return "", "", false
}

// extractArgPath pulls a "path" field out of a tool call's arguments, which
// Copilot encodes as either a JSON object or a JSON-encoded string of one.
func extractArgPath(args json.RawMessage) string {
	var obj struct {
		Path string `json:"path"`
	}
	if json.Unmarshal(args, &obj) == nil && obj.Path != "" {
		return obj.Path
	}

	var asString string
	if json.Unmarshal(args, &asString) == nil {
		var nested struct {
			Path string `json:"path"`
		}
		if json.Unmarshal([]byte(asString), &nested) == nil {
			return nested.Path
		}
	}
	return ""
}

// matchTrustedFolder reports whether path falls under one of the trusted
// folders (prefix match, after expanding "~"), returning the folder's base
// name as the project name and the expanded folder itself as cwd.
func matchTrustedFolder(path string, trustedFolders []string) (project, cwd string, ok bool) {
	for _, folder := range trustedFolders {
		expanded := expandTilde(folder)
		if strings.HasPrefix(path, expanded) {
			return filepath.Base(expanded), expanded, true
		}
	}
	return "", "", false
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
