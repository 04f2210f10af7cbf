// Package phaserunner implements run-with-timeout execution (C10): a
// handler runs in a fully isolated child process so a timeout can forcibly
// kill it, including any in-flight side effects, rather than merely
// cancelling an in-process context. Grounded on the process lifecycle
// pattern in joeycumines-go-utilpkg/prompt/termtest/console.go
// (exec.CommandContext + Process.Kill on timeout).
package phaserunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// reexecEnvVar marks a child process invocation: when set, main() (wired by
// the caller) must detect it, read the phase name from reexecPhaseEnvVar,
// run the matching registered handler, and exit(0) or exit(1) accordingly
// instead of starting the normal service.
const reexecEnvVar = "AUDITFLOW_PHASERUNNER_REEXEC"
const reexecPhaseEnvVar = "AUDITFLOW_PHASERUNNER_PHASE"

// Handler is one phase's unit of work. It must be registered under the same
// name in both the parent and the re-exec'd child's Registry.
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

// Registry maps phase names to Handlers, shared between the parent process
// (for bookkeeping) and the child invocation (to actually dispatch).
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates name with handler.
func (r *Registry) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

// IsReexec reports whether the current process was launched by RunWithTimeout
// as an isolated phase worker, and if so, which phase it must run. Callers'
// main() should check this before doing anything else.
func IsReexec() (phase string, ok bool) {
	if os.Getenv(reexecEnvVar) != "1" {
		return "", false
	}
	return os.Getenv(reexecPhaseEnvVar), true
}

// RunReexecChild runs phase's registered handler against JSON input read
// from stdin, writes JSON output to stdout on success, and returns the
// handler's error. Intended to be called from main() once IsReexec is true.
func RunReexecChild(ctx context.Context, registry *Registry, phase string, stdin, stdout *os.File) error {
	handler, found := registry.handlers[phase]
	if !found {
		return fmt.Errorf("op=phaserunner.RunReexecChild: unknown phase %q", phase)
	}
	var input map[string]any
	if err := json.NewDecoder(stdin).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("op=phaserunner.RunReexecChild: decode input: %w", err)
	}
	output, err := handler(ctx, input)
	if err != nil {
		return err
	}
	return json.NewEncoder(stdout).Encode(output)
}

// Result is the outcome of one RunWithTimeout call.
type Result struct {
	OK     bool
	Reason string
	Output map[string]any
}

// RunWithTimeout re-execs the current binary with AUDITFLOW_PHASERUNNER_REEXEC=1
// and AUDITFLOW_PHASERUNNER_PHASE=phase set, feeds it input as JSON on stdin,
// and waits up to timeout. On timeout it kills the child process and
// returns (false, "timeout"). On a clean exit with a non-zero status it
// returns (false, <stderr text or exit error>). On success it decodes the
// child's stdout as the returned Output.
func RunWithTimeout(ctx context.Context, phase string, input map[string]any, timeout time.Duration) (Result, error) {
	executable, err := os.Executable()
	if err != nil {
		return Result{}, fmt.Errorf("op=phaserunner.RunWithTimeout: resolve executable: %w", err)
	}

	childCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	encodedInput, err := json.Marshal(input)
	if err != nil {
		return Result{}, fmt.Errorf("op=phaserunner.RunWithTimeout: encode input: %w", err)
	}

	cmd := exec.CommandContext(childCtx, executable)
	cmd.Env = append(os.Environ(), reexecEnvVar+"=1", reexecPhaseEnvVar+"="+phase)
	cmd.Stdin = bytes.NewReader(encodedInput)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if childCtx.Err() == context.DeadlineExceeded {
		return Result{OK: false, Reason: "timeout"}, nil
	}
	if runErr != nil {
		reason := stderr.String()
		if reason == "" {
			reason = runErr.Error()
		}
		return Result{OK: false, Reason: reason}, nil
	}

	var output map[string]any
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
			return Result{OK: false, Reason: fmt.Sprintf("decode child output: %v", err)}, nil
		}
	}
	return Result{OK: true, Output: output}, nil
}
