// Package config defines the on-disk configuration for the sync daemon:
// plain JSON-tagged structs with a Default constructor and a Validate method
// that clamps invalid values to safe defaults, following the teacher's
// existing convention rather than introducing a config library.
package config

import "time"

// ProviderID names one of the six producers this system ingests from.
type ProviderID string

const (
	ProviderClaudeCode ProviderID = "claude-code"
	ProviderCodex      ProviderID = "codex"
	ProviderCopilot    ProviderID = "copilot"
	ProviderCursor     ProviderID = "cursor"
	ProviderGeminiCLI  ProviderID = "gemini-cli"
	ProviderOpenCode   ProviderID = "opencode"
)

// AllProviders lists every producer id, in a stable order used by scans and
// status output.
var AllProviders = []ProviderID{
	ProviderClaudeCode, ProviderCodex, ProviderCopilot,
	ProviderCursor, ProviderGeminiCLI, ProviderOpenCode,
}

// SyncMode is a per-producer upload policy.
type SyncMode string

const (
	SyncModeTranscriptAndMetrics SyncMode = "Transcript and Metrics"
	SyncModeMetricsOnly          SyncMode = "Metrics Only"
	SyncModeNothing              SyncMode = "Nothing"
)

// ProjectSelection chooses which projects a watcher observes.
type ProjectSelection string

const (
	ProjectSelectionAll      ProjectSelection = "ALL"
	ProjectSelectionExplicit ProjectSelection = "EXPLICIT"
)

// Config is the root configuration structure.
type Config struct {
	APIKey     string `json:"apiKey"`
	ServerURL  string `json:"serverUrl"`
	TenantID   string `json:"tenantId"`
	Debug      bool   `json:"debug"`

	MaxUploadSizeBytes int64 `json:"maxUploadSizeBytes"`

	Providers map[ProviderID]*ProviderConfig `json:"providers"`

	OpenCode OpenCodeConfig `json:"opencode"`

	UI UIConfig `json:"ui"`
}

// ProviderConfig configures one producer's watcher and upload behavior.
type ProviderConfig struct {
	Enabled          bool             `json:"enabled"`
	HomeDirectory    string           `json:"homeDirectory"`
	ProjectSelection ProjectSelection `json:"projectSelection"`
	SelectedProjects []string         `json:"selectedProjects,omitempty"`
	SyncMode         SyncMode         `json:"syncMode"`
}

// OpenCodeConfig configures the OpenCode adapter's optional live-query path.
type OpenCodeConfig struct {
	ServerPort int `json:"serverPort"`
}

// UIConfig configures the optional attached dashboard (cmd/forge).
type UIConfig struct {
	Theme string `json:"theme"`
}

// Default returns the default configuration: every provider disabled until
// the user opts in, conservative size caps, and release-grade timings.
func Default() *Config {
	return &Config{
		MaxUploadSizeBytes: 50 * 1024 * 1024,
		Providers: map[ProviderID]*ProviderConfig{
			ProviderClaudeCode: defaultProviderConfig("~/.claude/projects"),
			ProviderCodex:      defaultProviderConfig("~/.codex/sessions"),
			ProviderCopilot:    defaultProviderConfig("~/.config/github-copilot"),
			ProviderCursor:     defaultProviderConfig("~/.cursor"),
			ProviderGeminiCLI:  defaultProviderConfig("~/.gemini/tmp"),
			ProviderOpenCode:   defaultProviderConfig("~/.local/share/opencode"),
		},
		OpenCode: OpenCodeConfig{ServerPort: 4096},
		UI:       UIConfig{Theme: "default"},
	}
}

func defaultProviderConfig(home string) *ProviderConfig {
	return &ProviderConfig{
		Enabled:          false,
		HomeDirectory:    home,
		ProjectSelection: ProjectSelectionAll,
		SyncMode:         SyncModeTranscriptAndMetrics,
	}
}

// DebounceTiming returns the quick/long debounce and re-upload cooldown used
// by watchers, selected by Debug (§4.4).
func (c *Config) DebounceTiming() (quick, long, inactivity, cooldown time.Duration) {
	quick = 5 * time.Second
	long = 30 * time.Second
	inactivity = 60 * time.Second
	if c.Debug {
		cooldown = 30 * time.Second
	} else {
		cooldown = 5 * time.Minute
	}
	return
}

// Validate clamps invalid values to safe defaults, matching the teacher's
// Validate convention (never errors, always repairs in place).
func (c *Config) Validate() error {
	if c.MaxUploadSizeBytes <= 0 {
		c.MaxUploadSizeBytes = 50 * 1024 * 1024
	}
	if c.Providers == nil {
		c.Providers = Default().Providers
	}
	for id, def := range Default().Providers {
		p, ok := c.Providers[id]
		if !ok || p == nil {
			c.Providers[id] = def
			continue
		}
		if p.ProjectSelection != ProjectSelectionAll && p.ProjectSelection != ProjectSelectionExplicit {
			p.ProjectSelection = ProjectSelectionAll
		}
		switch p.SyncMode {
		case SyncModeTranscriptAndMetrics, SyncModeMetricsOnly, SyncModeNothing:
		default:
			p.SyncMode = SyncModeTranscriptAndMetrics
		}
	}
	if c.OpenCode.ServerPort <= 0 {
		c.OpenCode.ServerPort = 4096
	}
	if c.UI.Theme == "" {
		c.UI.Theme = "default"
	}
	return nil
}
