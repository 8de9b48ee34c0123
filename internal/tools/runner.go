package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandRunner abstracts shell command execution for runtime adapters.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, []byte, int32, error)
}

// LineStreamer runs a long-lived command and hands each stdout line to onLine
// until the command exits or ctx is cancelled.
type LineStreamer interface {
	Stream(ctx context.Context, onLine func(string), name string, args ...string) error
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

var (
	_ CommandRunner = ExecRunner{}
	_ LineStreamer  = ExecRunner{}
)

func (r ExecRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.Command(name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode(err), err
}

func (r ExecRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return waitErr
	}
	return scanErr
}

func exitCode(err error) int32 {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127
	}
	return 1
}
