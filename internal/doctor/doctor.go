// Package doctor validates a loaded ckptkeep configuration against the
// machine it runs on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/ckptkeep/internal/config"
	"github.com/mattjoyce/ckptkeep/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration.
type Doctor struct {
	cfg        *config.Config
	checkLocal func(string) error
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, checkLocal: storage.CheckLocal}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validatePolicy(r)
	d.validateStorage(r)
	d.validateState(r)
	d.validateAPI(r)
	d.warnCollect(r)
	d.warnUnlocked(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validatePolicy(r *Result) {
	p := d.cfg.PipelinePolicy()
	if err := p.Validate(); err != nil {
		d.addError(r, "policy", "policy", err.Error())
		return
	}
	if p.Window < 2 {
		d.addWarning(r, "policy", "policy.window_size",
			"window_size 1 keeps only the newest checkpoint of every run")
	}
	if d.cfg.Policy.PreviewFile != "" && !p.IsPreview(d.cfg.Policy.PreviewFile) {
		d.addError(r, "policy", "policy.preview_file",
			fmt.Sprintf("preview file %q would be deleted by the prune stage", d.cfg.Policy.PreviewFile))
	}
}

func (d *Doctor) validateStorage(r *Result) {
	root := d.cfg.Storage.Root
	info, err := os.Stat(root)
	if err != nil {
		d.addWarning(r, "storage", "storage.root",
			fmt.Sprintf("storage root %s is not accessible: %v", root, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "storage", "storage.root", fmt.Sprintf("storage root %s is not a directory", root))
		return
	}

	for datasetType, names := range d.cfg.Datasets {
		typeDir := filepath.Join(root, datasetType)
		if _, err := os.Stat(typeDir); err != nil {
			continue
		}
		for short, long := range names {
			if _, err := os.Stat(filepath.Join(typeDir, long)); err != nil {
				d.addWarning(r, "datasets", fmt.Sprintf("datasets.%s.%s", datasetType, short),
					fmt.Sprintf("dataset directory %s not found under %s", long, typeDir))
			}
		}
	}
}

func (d *Doctor) validateState(r *Result) {
	if !d.cfg.State.HistoryEnabled() {
		d.addWarning(r, "state", "state.record_history", "history recording disabled; history and serve will show nothing new")
		return
	}
	if err := d.checkLocal(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if d.cfg.API.APIKey != "" {
		return
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		d.addWarning(r, "api", "api.api_key", "API enabled without an api_key")
		return
	}
	d.addError(r, "api", "api.api_key",
		fmt.Sprintf("API listens on %s without an api_key", d.cfg.API.Listen))
}

func (d *Doctor) warnCollect(r *Result) {
	c := d.cfg.Collect
	if _, err := os.Stat(c.TrainScript); err != nil {
		d.addWarning(r, "collect", "collect.train_script",
			fmt.Sprintf("training script %s not found; collect will fail", c.TrainScript))
	}
	if _, err := os.Stat(c.ConfigRoot); err != nil {
		d.addWarning(r, "collect", "collect.config_root",
			fmt.Sprintf("config root %s not found; collect will fail", c.ConfigRoot))
	}
	seen := make(map[int]bool, len(c.Ranks))
	for _, rank := range c.Ranks {
		if seen[rank] {
			d.addWarning(r, "collect", "collect.ranks", fmt.Sprintf("rank %d listed more than once", rank))
		}
		seen[rank] = true
	}
}

func (d *Doctor) warnUnlocked(r *Result) {
	if d.cfg.SourcePath == "" {
		d.addWarning(r, "integrity", "", "no config file found; running on built-in defaults")
		return
	}
	if _, err := config.ReadManifest(filepath.Dir(d.cfg.SourcePath)); errors.Is(err, config.ErrNoManifest) {
		d.addWarning(r, "integrity", "",
			fmt.Sprintf("no .checksums next to %s; run 'ckptkeep config lock' to enable verification", d.cfg.SourcePath))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
