// Package paths resolves where provenance keeps its configuration and data.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectDirName is the per-project directory searched before the user config.
const ProjectDirName = ".provenance"

const appName = "provenance"

// ResolveProjectDir resolves the .provenance directory from user input.
// It accepts either the project directory or the .provenance directory
// itself and follows a redirect file when one is present.
//
// Input normalization:
//   - "/path/to/project" -> "/path/to/project/.provenance"
//   - "/path/to/project/.provenance" -> "/path/to/project/.provenance"
//   - "/path/to/shared" (containing config.yaml) -> "/path/to/shared"
//   - "" -> "./.provenance"
//
// A .provenance/redirect file holding a relative path lets several checkouts
// share one configuration.
func ResolveProjectDir(path string) string {
	if path == "" {
		path = "."
	}
	path = filepath.Clean(ExpandHome(path))

	if filepath.Base(path) == ProjectDirName {
		return followRedirect(path)
	}
	if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
		return followRedirect(path)
	}
	return followRedirect(filepath.Join(path, ProjectDirName))
}

func followRedirect(dir string) string {
	content, err := os.ReadFile(filepath.Join(dir, "redirect")) //nolint:gosec // redirect lives inside the project dir
	if err != nil {
		return dir
	}
	target := strings.TrimSpace(string(content))
	if target == "" {
		return dir
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(dir, target))
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ConfigDir returns $XDG_CONFIG_HOME/provenance, falling back to
// ~/.config/provenance. It returns "" when no home directory is known.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// DataDir returns $XDG_DATA_HOME/provenance, falling back to
// ~/.local/share/provenance.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", appName)
}

// UserConfigPath is the config file used when no project config exists.
func UserConfigPath() string {
	return inDir(ConfigDir(), "config.yaml")
}

// ProjectConfigPath is the config file inside the resolved project dir.
func ProjectConfigPath() string {
	return filepath.Join(ResolveProjectDir("."), "config.yaml")
}

// DevChainPath is the default database for the local ledger simulation.
func DevChainPath() string {
	return inDir(DataDir(), "devchain.db")
}

// AuditStorePath is the default sink store file for the given store kind.
func AuditStorePath(kind string) string {
	if kind == "jsonl" {
		return inDir(DataDir(), "supplychain_logs.jsonl")
	}
	return inDir(DataDir(), "audit.db")
}

// SessionFile holds the active account shared between processes.
func SessionFile() string {
	return inDir(DataDir(), "active_account")
}

// TracesFilePath is the default output of the file trace exporter.
func TracesFilePath() string {
	return inDir(DataDir(), filepath.Join("traces", "traces.jsonl"))
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}
