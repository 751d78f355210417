package procexec

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerCapturesOutputAndExitCode(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := NewExecRunner()
	res, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err 1>&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" {
		t.Fatalf("Stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Fatalf("Stderr = %q", res.Stderr)
	}
	if res.Output() != "out\nerr" {
		t.Fatalf("Output() = %q", res.Output())
	}
}

func TestExecRunnerFeedsStdin(t *testing.T) {
	t.Parallel()
	requireShell(t)

	res, err := NewExecRunner().Run(context.Background(), Command{
		Name:  "sh",
		Args:  []string{"-c", "cat"},
		Stdin: []byte("hello"),
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if string(res.Stdout) != "hello" {
		t.Fatalf("Stdout = %q, want hello", res.Stdout)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	t.Parallel()
	_, err := NewExecRunner().Run(context.Background(), Command{Name: "recsched-definitely-missing-binary"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExecRunnerEmptyName(t *testing.T) {
	t.Parallel()
	_, err := NewExecRunner().Run(context.Background(), Command{})
	if !errors.Is(err, ErrStart) {
		t.Fatalf("err = %v, want ErrStart", err)
	}
}

func TestExecRunnerContextDeadline(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewExecRunner().Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 5"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}
