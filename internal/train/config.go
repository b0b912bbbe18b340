// Package train drives LoRA training runs for a dataset: it reads the
// per-model training configs, launches pretrain and finetune jobs for each
// rank and tidies pretrain output afterwards.
package train

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

// ErrFieldNotFound is returned when a training config lacks a field or
// leaves it empty.
var ErrFieldNotFound = errors.New("field not found")

const (
	fieldOutputDir = "output_dir"
	fieldResume    = "resume_from_checkpoint"
)

// TrainingConfig is a parsed training YAML document.
type TrainingConfig struct {
	Path   string
	fields map[string]any
}

// ReadTrainingConfig parses the YAML document at path.
func ReadTrainingConfig(path string) (*TrainingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("training config %q: %w", path, runfs.ErrPathNotFound)
		}
		return nil, fmt.Errorf("read training config %q: %w", path, err)
	}

	fields := map[string]any{}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse training config %q: %w", path, err)
	}
	return &TrainingConfig{Path: path, fields: fields}, nil
}

// OutputDir returns output_dir.
func (c *TrainingConfig) OutputDir() (string, error) {
	return c.scalar(fieldOutputDir)
}

// ResumePath returns resume_from_checkpoint. A literal false comes back as
// "false"; see Resumable.
func (c *TrainingConfig) ResumePath() (string, error) {
	return c.scalar(fieldResume)
}

func (c *TrainingConfig) scalar(name string) (string, error) {
	v, ok := c.fields[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%s in %s: %w", name, c.Path, ErrFieldNotFound)
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return "", fmt.Errorf("%s in %s: %w", name, c.Path, ErrFieldNotFound)
	}
	return s, nil
}

// Resumable reports whether a resume path names a checkpoint rather than
// being blank or disabled.
func Resumable(path string) bool {
	return path != "" && !strings.EqualFold(path, "false")
}

var rankPattern = regexp.MustCompile(`(lora-rank_)(\d+)`)

// ReplaceRank rewrites every lora-rank_<n> segment in path to use rank.
func ReplaceRank(path string, rank int) string {
	if path == "" {
		return path
	}
	return rankPattern.ReplaceAllString(path, "${1}"+strconv.Itoa(rank))
}

// SetSaveSteps rewrites save_steps in the trainer state document at
// statePath. Other keys keep their values.
func SetSaveSteps(statePath string, n int) error {
	data, err := os.ReadFile(statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("trainer state %q: %w", statePath, runfs.ErrPathNotFound)
		}
		return fmt.Errorf("read trainer state %q: %w", statePath, err)
	}

	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse trainer state %q: %w", statePath, err)
	}
	doc["save_steps"] = json.RawMessage(strconv.Itoa(n))

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trainer state: %w", err)
	}

	info, err := os.Stat(statePath)
	if err != nil {
		return fmt.Errorf("stat trainer state %q: %w", statePath, err)
	}
	if err := os.WriteFile(statePath, append(out, '\n'), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write trainer state %q: %w", statePath, err)
	}
	return nil
}
