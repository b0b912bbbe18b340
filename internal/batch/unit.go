package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/mattjoyce/ckptkeep/internal/pipeline"
)

// InProcessUnit runs the pipeline in the current process.
type InProcessUnit struct {
	Runner *pipeline.Runner
}

var _ Unit = (*InProcessUnit)(nil)

// Clean never panics; a panic inside the pipeline becomes a failed outcome.
func (u *InProcessUnit) Clean(ctx context.Context, dir string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed("unexpected error: %v", r)
		}
	}()

	res, err := u.Runner.Run(ctx, dir)
	if err != nil {
		return Failed("pipeline failed: %v", err)
	}
	return Succeeded(res)
}

// ProcessUnit re-executes a binary as `<Executable> <Args...> clean --json <dir>`
// so each directory is cleaned in its own process. Stdout carries the JSON
// result; stderr is passed through.
type ProcessUnit struct {
	Executable string
	Args       []string
	Stderr     io.Writer
}

var _ Unit = (*ProcessUnit)(nil)

// NewProcessUnit re-executes the running binary.
func NewProcessUnit(args ...string) (*ProcessUnit, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ProcessUnit{Executable: exe, Args: args, Stderr: os.Stderr}, nil
}

func (u *ProcessUnit) Clean(ctx context.Context, dir string) Outcome {
	args := append(append([]string{}, u.Args...), "clean", "--json", dir)
	cmd := exec.CommandContext(ctx, u.Executable, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = u.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Failed("exit code: %d", exitErr.ExitCode())
		}
		return Failed("unexpected error: %v", err)
	}

	var res pipeline.Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		// The child succeeded; only the detail is missing.
		return Succeeded(nil)
	}
	return Succeeded(&res)
}
