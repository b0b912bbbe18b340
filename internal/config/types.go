package config

import (
	"path/filepath"

	"github.com/mattjoyce/ckptkeep/internal/pipeline"
)

// Config represents the complete ckptkeep configuration.
type Config struct {
	Service  ServiceConfig                `yaml:"service"`
	State    StateConfig                  `yaml:"state"`
	Policy   PolicyConfig                 `yaml:"policy"`
	Storage  StorageConfig                `yaml:"storage"`
	Datasets map[string]map[string]string `yaml:"datasets,omitempty"`
	API      APIConfig                    `yaml:"api,omitempty"`
	Collect  CollectConfig                `yaml:"collect,omitempty"`

	// SourcePath is the file the config was loaded from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines the history ledger location.
type StateConfig struct {
	Path          string `yaml:"path"`
	RecordHistory *bool  `yaml:"record_history,omitempty"`
}

// HistoryEnabled reports whether runs should be written to the ledger.
func (s StateConfig) HistoryEnabled() bool {
	return s.RecordHistory == nil || *s.RecordHistory
}

// PolicyConfig is the cleanup policy applied to every run directory.
type PolicyConfig struct {
	WindowSize       int      `yaml:"window_size"`
	CheckpointPrefix string   `yaml:"checkpoint_prefix"`
	ArtifactExt      string   `yaml:"artifact_ext"`
	PreviewExts      []string `yaml:"preview_exts"`
	PreviewFile      string   `yaml:"preview_file"`
	ExtractFailure   string   `yaml:"extract_failure"`
}

// StorageConfig locates dataset roots.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// APIConfig defines the read-only status API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// CollectConfig drives the training collection loop.
type CollectConfig struct {
	TrainScript string   `yaml:"train_script"`
	ConfigRoot  string   `yaml:"config_root"`
	Ranks       []int    `yaml:"ranks"`
	Models      []string `yaml:"models"`
}

// Defaults returns a Config with the built-in policy.
func Defaults() *Config {
	record := true
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		State: StateConfig{
			Path:          "~/.local/share/ckptkeep/history.db",
			RecordHistory: &record,
		},
		Policy: PolicyConfig{
			WindowSize:       100,
			CheckpointPrefix: "checkpoint-",
			ArtifactExt:      ".safetensors",
			PreviewExts:      []string{".png"},
			PreviewFile:      "train_loss.png",
			ExtractFailure:   string(pipeline.FailureRemove),
		},
		Storage: StorageConfig{
			Root: "/data/saves",
		},
		Datasets: map[string]map[string]string{
			"common_sense_reasoning": {
				"arcc":       "ARC-c",
				"arce":       "ARC-e",
				"obqa":       "OBQA",
				"piqa":       "PIQA",
				"hellaswag":  "HellaSwag",
				"winogrande": "WinoGrande",
				"boolq":      "BoolQ",
			},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8087",
		},
		Collect: CollectConfig{
			TrainScript: "./utils/train_with_rank.sh",
			ConfigRoot:  "./collect_scripts/common-sense-reasoning",
			Ranks:       []int{2, 4, 8, 16, 64},
			Models:      []string{"bert", "gpt2", "llama-7b", "mistral-7b", "qwen2.5-0.5b", "gemma-3-4b"},
		},
	}
}

// PipelinePolicy converts the policy section for the pipeline.
func (c *Config) PipelinePolicy() pipeline.Policy {
	return pipeline.Policy{
		Window:           c.Policy.WindowSize,
		CheckpointPrefix: c.Policy.CheckpointPrefix,
		ArtifactExt:      c.Policy.ArtifactExt,
		PreviewExts:      append([]string(nil), c.Policy.PreviewExts...),
		ExtractFailure:   pipeline.FailurePolicy(c.Policy.ExtractFailure),
	}
}

// DatasetName maps a short dataset name through datasets.<type>. Unmapped
// names are used literally.
func (c *Config) DatasetName(datasetType, name string) string {
	if mapped, ok := c.Datasets[datasetType][name]; ok && mapped != "" {
		return mapped
	}
	return name
}

// DatasetRoot is <storage.root>/<type>/<mapped name>.
func (c *Config) DatasetRoot(datasetType, name string) string {
	return filepath.Join(c.Storage.Root, datasetType, c.DatasetName(datasetType, name))
}
