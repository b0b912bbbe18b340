package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

//go:generate mockgen -source=launcher.go -destination=mocks/mock_launcher.go -package=mocks Launcher

// Launcher starts one training job and blocks until it finishes.
type Launcher interface {
	Launch(ctx context.Context, configPath string, rank int) error
}

// ScriptLauncher runs `bash <Script> <config> <rank>` from Dir.
type ScriptLauncher struct {
	Script string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

func (l *ScriptLauncher) Launch(ctx context.Context, configPath string, rank int) error {
	cmd := exec.CommandContext(ctx, "bash", l.Script, configPath, strconv.Itoa(rank))
	cmd.Dir = l.Dir
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s rank %d: exit code %d", configPath, rank, exitErr.ExitCode())
		}
		return fmt.Errorf("%s rank %d: %w", configPath, rank, err)
	}
	return nil
}
