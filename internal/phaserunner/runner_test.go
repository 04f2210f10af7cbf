package phaserunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestMain re-execs this same test binary as the phase child when invoked
// with the reexec env vars set, mirroring the helper-process pattern
// os/exec's own tests use to drive a real child process deterministically.
func TestMain(m *testing.M) {
	if phase, ok := IsReexec(); ok {
		registry := NewRegistry()
		registry.Register("echo", func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"echoed": input}, nil
		})
		registry.Register("fail", func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		})
		registry.Register("sleep", func(ctx context.Context, input map[string]any) (map[string]any, error) {
			time.Sleep(2 * time.Second)
			return map[string]any{}, nil
		})

		if err := RunReexecChild(context.Background(), registry, phase, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestRunWithTimeout_Success(t *testing.T) {
	result, err := RunWithTimeout(context.Background(), "echo", map[string]any{"x": 1.0}, 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected OK result, got %+v", result)
	}
	echoed, ok := result.Output["echoed"].(map[string]any)
	if !ok || echoed["x"] != 1.0 {
		t.Fatalf("unexpected output: %+v", result.Output)
	}
}

func TestRunWithTimeout_HandlerFailure(t *testing.T) {
	result, err := RunWithTimeout(context.Background(), "fail", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected non-OK result for a failing handler")
	}
	if result.Reason == "" {
		t.Fatal("expected a non-empty failure reason")
	}
}

func TestRunWithTimeout_Timeout(t *testing.T) {
	result, err := RunWithTimeout(context.Background(), "sleep", nil, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected a timeout result")
	}
	if result.Reason != "timeout" {
		t.Fatalf("Reason = %q, want %q", result.Reason, "timeout")
	}
}

func TestRunWithTimeout_UnknownPhase(t *testing.T) {
	result, err := RunWithTimeout(context.Background(), "does-not-exist", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected failure for an unregistered phase")
	}
}

func TestIsReexec_FalseOutsideChild(t *testing.T) {
	if _, ok := IsReexec(); ok {
		t.Fatal("expected IsReexec to be false in the parent test process")
	}
}
