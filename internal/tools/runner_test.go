package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/njsm/internal/testutil/testlog"
)

func TestExecRunnerCapturesOutputAndExitCode(t *testing.T) {
	testlog.Start(t)
	stdout, stderr, code, err := ExecRunner{}.Run("sh", "-c", "echo out; echo err >&2; exit 3")
	if err == nil {
		t.Fatalf("expected exit error")
	}
	if code != 3 {
		t.Fatalf("unexpected exit code: %d", code)
	}
	if strings.TrimSpace(string(stdout)) != "out" || strings.TrimSpace(string(stderr)) != "err" {
		t.Fatalf("unexpected output stdout=%q stderr=%q", stdout, stderr)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	testlog.Start(t)
	_, _, code, err := ExecRunner{}.Run("njsm-definitely-not-installed")
	if err == nil {
		t.Fatalf("expected error")
	}
	if code != 127 {
		t.Fatalf("unexpected exit code: %d", code)
	}
}

func TestExecRunnerStreamLines(t *testing.T) {
	testlog.Start(t)
	var lines []string
	err := ExecRunner{}.Stream(context.Background(), func(line string) {
		lines = append(lines, line)
	}, "sh", "-c", "printf 'Client a registered\\nClient a unregistered\\n'")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(lines) != 2 || lines[0] != "Client a registered" || lines[1] != "Client a unregistered" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestExecRunnerStreamCancel(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := ExecRunner{}.Stream(ctx, func(string) {}, "sleep", "5")
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("stream did not stop on cancel")
	}
}
