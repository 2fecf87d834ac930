package host

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecCore delegates snapshots to external commands. The snapshot command
// writes the payload to stdout; the restore command reads it from stdin.
type ExecCore struct {
	SnapshotCommand []string
	RestoreCommand  []string
}

// NewExecCore resolves both command lines.
func NewExecCore(snapshot, restore []string) (*ExecCore, error) {
	if len(snapshot) == 0 || len(restore) == 0 {
		return nil, fmt.Errorf("exec core: snapshot and restore commands are required")
	}
	return &ExecCore{SnapshotCommand: snapshot, RestoreCommand: restore}, nil
}

// findBinary returns the absolute path of name, or name itself so that exec
// fails with a clear error.
func findBinary(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

func (e *ExecCore) command(ctx context.Context, argv []string) *exec.Cmd {
	return exec.CommandContext(ctx, findBinary(argv[0]), argv[1:]...)
}

// Snapshot runs the snapshot command and returns its stdout.
func (e *ExecCore) Snapshot(ctx context.Context) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := e.command(ctx, e.SnapshotCommand)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", e.SnapshotCommand[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Restore runs the restore command with payload on stdin.
func (e *ExecCore) Restore(ctx context.Context, payload []byte) error {
	var stderr bytes.Buffer
	cmd := e.command(ctx, e.RestoreCommand)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", e.RestoreCommand[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Ensure ExecCore implements Core
var _ Core = (*ExecCore)(nil)
