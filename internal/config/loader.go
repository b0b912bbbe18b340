package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/ckptkeep/internal/pipeline"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and validates the configuration file at configPath.
// A directory is accepted if it contains config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := Verify(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	expandPaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDefault returns the built-in configuration, validated and with paths
// expanded. Used when discovery finds no file.
func LoadDefault() (*Config, error) {
	cfg := Defaults()
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	expandPaths(cfg, wd)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid default configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.RecordHistory == nil {
		cfg.State.RecordHistory = defaults.State.RecordHistory
	}

	if cfg.Policy.WindowSize == 0 {
		cfg.Policy.WindowSize = defaults.Policy.WindowSize
	}
	if cfg.Policy.CheckpointPrefix == "" {
		cfg.Policy.CheckpointPrefix = defaults.Policy.CheckpointPrefix
	}
	if cfg.Policy.ArtifactExt == "" {
		cfg.Policy.ArtifactExt = defaults.Policy.ArtifactExt
	}
	if len(cfg.Policy.PreviewExts) == 0 {
		cfg.Policy.PreviewExts = defaults.Policy.PreviewExts
	}
	if cfg.Policy.PreviewFile == "" {
		cfg.Policy.PreviewFile = defaults.Policy.PreviewFile
	}
	if cfg.Policy.ExtractFailure == "" {
		cfg.Policy.ExtractFailure = defaults.Policy.ExtractFailure
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = defaults.Storage.Root
	}
	if cfg.Datasets == nil {
		cfg.Datasets = defaults.Datasets
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Collect.TrainScript == "" {
		cfg.Collect.TrainScript = defaults.Collect.TrainScript
	}
	if cfg.Collect.ConfigRoot == "" {
		cfg.Collect.ConfigRoot = defaults.Collect.ConfigRoot
	}
	if len(cfg.Collect.Ranks) == 0 {
		cfg.Collect.Ranks = defaults.Collect.Ranks
	}
	if len(cfg.Collect.Models) == 0 {
		cfg.Collect.Models = defaults.Collect.Models
	}

	return cfg
}

// expandPaths resolves ~ in every path field, and makes collect paths
// relative to baseDir absolute.
func expandPaths(cfg *Config, baseDir string) {
	cfg.State.Path = expandHome(cfg.State.Path)
	cfg.Storage.Root = expandHome(cfg.Storage.Root)
	cfg.Collect.TrainScript = resolveAgainst(baseDir, expandHome(cfg.Collect.TrainScript))
	cfg.Collect.ConfigRoot = resolveAgainst(baseDir, expandHome(cfg.Collect.ConfigRoot))
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func resolveAgainst(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch cfg.Service.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("service.log_format must be text or json (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if err := cfg.PipelinePolicy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if cfg.Policy.PreviewFile != "" {
		p := cfg.PipelinePolicy()
		if !p.IsPreview(cfg.Policy.PreviewFile) {
			return fmt.Errorf("policy.preview_file %q does not carry a preview extension %v",
				cfg.Policy.PreviewFile, cfg.Policy.PreviewExts)
		}
	}
	if cfg.Policy.ExtractFailure != string(pipeline.FailureRemove) && cfg.Policy.ExtractFailure != string(pipeline.FailureRetain) {
		return fmt.Errorf("policy.extract_failure must be remove or retain (got %q)", cfg.Policy.ExtractFailure)
	}

	if strings.TrimSpace(cfg.Storage.Root) == "" {
		return fmt.Errorf("storage.root is required")
	}
	for datasetType, names := range cfg.Datasets {
		for short, long := range names {
			if strings.ContainsRune(long, filepath.Separator) {
				return fmt.Errorf("datasets.%s.%s: %q must be a single path segment", datasetType, short, long)
			}
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the api is enabled")
		}
		if envVarPattern.MatchString(cfg.API.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.APIKey)
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", matches[1])
		}
	}

	for i, rank := range cfg.Collect.Ranks {
		if rank <= 0 {
			return fmt.Errorf("collect.ranks[%d] must be positive (got %d)", i, rank)
		}
	}
	for i, model := range cfg.Collect.Models {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("collect.models[%d] is empty", i)
		}
	}
	return nil
}
