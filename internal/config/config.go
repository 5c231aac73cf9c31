// Package config loads the scheduler/runner configuration file described
// in the external interfaces: a JSON document recognized by both
// smart-bulk-convert and media-update.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LibraryDirs maps media categories to their root directories, used by
// the Rescan Notifier to pick a library section for a transcoded path.
type LibraryDirs struct {
	TV     string `json:"tv,omitempty"`
	Movies string `json:"movies,omitempty"`
	Music  string `json:"music,omitempty"`
	Misc   string `json:"misc,omitempty"`
}

// PlexIntegration configures the best-effort rescan ping.
type PlexIntegration struct {
	URL          string            `json:"url,omitempty"`
	Token        string            `json:"token,omitempty"`
	PathMappings map[string]string `json:"path_mappings,omitempty"`
}

// Config is the full set of recognized options from the external
// interfaces table. Every field has a documented default applied by
// Load when the key is absent or zero-valued.
type Config struct {
	MaxCPUPercent         float64         `json:"max_cpu_percent"`
	MaxMemoryPercent      float64         `json:"max_memory_percent"`
	MaxLoadAverage        float64         `json:"max_load_average"`
	MinAvailableMemoryGB  float64         `json:"min_available_memory_gb"`
	MaxParallelJobs       int             `json:"max_parallel_jobs"`
	RampUpIntervalSeconds int             `json:"ramp_up_interval"`
	CheckIntervalSeconds  int             `json:"check_interval"`
	PlexPriority          bool            `json:"plex_priority"`
	DownloadPriority      bool            `json:"download_priority"`
	TargetDirectories     []string        `json:"target_directories"`
	PauseForProcesses     []string        `json:"pause_for_processes"`
	LibraryDirs           LibraryDirs     `json:"library_dirs"`
	PlexIntegration       PlexIntegration `json:"plex_integration"`

	// Ambient options not named in the external-interfaces table but
	// needed to drive the rest of the Engine the way the rest of the
	// pack's daemons expose ffmpeg/ffprobe paths and log level.
	FFmpegPath       string `json:"ffmpeg_path"`
	FFprobePath      string `json:"ffprobe_path"`
	LogLevel         string `json:"log_level"`
	TonemapAlgorithm string `json:"tonemap_algorithm"`
}

// DefaultConfig returns a Config with the spec's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxCPUPercent:         80,
		MaxMemoryPercent:      85,
		MaxLoadAverage:        0, // 0 = derive from NumCPU at runtime
		MinAvailableMemoryGB:  2,
		MaxParallelJobs:       4,
		RampUpIntervalSeconds: 30,
		CheckIntervalSeconds:  30,
		PlexPriority:          false,
		DownloadPriority:      false,
		TargetDirectories:     nil,
		PauseForProcesses:     nil,
		FFmpegPath:            "ffmpeg",
		FFprobePath:           "ffprobe",
		LogLevel:              "info",
		TonemapAlgorithm:      DefaultTonemapAlgorithm,
	}
}

// Load reads config from a JSON file, filling defaults for missing
// values. If the file does not exist, one is created with defaults so
// subsequent runs have something to edit, mirroring the bootstrap
// behavior of comparable daemons in this codebase.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if saveErr := cfg.Save(path); saveErr != nil {
				return cfg, nil
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.MaxParallelJobs < 1 {
		c.MaxParallelJobs = 4
	}
	if c.RampUpIntervalSeconds <= 0 {
		c.RampUpIntervalSeconds = 30
	}
	if c.CheckIntervalSeconds <= 0 {
		c.CheckIntervalSeconds = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.TonemapAlgorithm = ValidateTonemapAlgorithm(c.TonemapAlgorithm)
}

// applyEnvOverrides layers PLEX_URL / PLEX_TOKEN / ENABLE_PLEX_NOTIFICATIONS
// onto the loaded config, the way comparable daemons layer MEDIA_PATH.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("PLEX_URL"); v != "" {
		c.PlexIntegration.URL = v
	}
	if v := os.Getenv("PLEX_TOKEN"); v != "" {
		c.PlexIntegration.Token = v
	}
	if v, ok := os.LookupEnv("ENABLE_PLEX_NOTIFICATIONS"); ok && !isTruthy(v) {
		c.PlexIntegration.URL = ""
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "on":
		return true
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return false
}

// Save writes the config to a JSON file, creating parent directories
// as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
