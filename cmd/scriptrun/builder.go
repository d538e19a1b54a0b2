package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/embercore/hotscript/reload"
)

// commandBuilder rebuilds a script by shelling out to the configured
// build command, then hands the script's path back to the reload manager.
// With no command configured it is a passthrough: the reload loads
// whatever binary currently sits at the path.
type commandBuilder struct {
	command string
	paths   map[string]string
}

var _ reload.Builder = (*commandBuilder)(nil)

func (b *commandBuilder) Build(ctx context.Context, scriptName string) (string, error) {
	path, ok := b.paths[scriptName]
	if !ok {
		return "", fmt.Errorf("no binary path registered for script %q", scriptName)
	}
	if b.command == "" {
		return path, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", b.command)
	cmd.Env = append(os.Environ(),
		"SCRIPT="+scriptName,
		"SCRIPT_PATH="+path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("build command failed: %w\n%s", err, out)
	}
	return path, nil
}
