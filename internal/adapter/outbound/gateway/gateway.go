// Package gateway is the Wrapper Gateway: it translates a validated
// high-level request into the invocation of exactly one pre-installed
// root-owned wrapper program and captures its result. It never shells out
// -- argv is passed as a vector to a direct program-execution primitive.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sentinel-gate/broker/internal/domain/audit"
	"github.com/sentinel-gate/broker/internal/domain/validate"
	"github.com/sentinel-gate/broker/internal/domain/wrapper"
)

const (
	defaultTimeout = 30 * time.Second
	maxTimeout     = 120 * time.Second
	defaultCap     = 16
	queueWait      = 5 * time.Second
)

// Gateway runs wrapper invocations against the static registry, enforcing
// argument re-validation, a wall-clock timeout with process-group kill,
// and a process-wide concurrency cap with a bounded wait queue.
type Gateway struct {
	registry  *wrapper.Registry
	audit     audit.Store
	slots     chan struct{}
	queueWait time.Duration
	inFlight  atomic.Int64
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithConcurrencyCap overrides the default cap of 16 concurrent children.
func WithConcurrencyCap(n int) Option {
	return func(g *Gateway) { g.slots = make(chan struct{}, n) }
}

// WithQueueWait overrides the default 5s wait for a free slot before a
// call reports failure=overloaded.
func WithQueueWait(d time.Duration) Option {
	return func(g *Gateway) { g.queueWait = d }
}

// New constructs a Gateway bound to registry, emitting attempt/success/
// failure audit events to store.
func New(registry *wrapper.Registry, store audit.Store, opts ...Option) *Gateway {
	g := &Gateway{
		registry:  registry,
		audit:     store,
		slots:     make(chan struct{}, defaultCap),
		queueWait: queueWait,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes id with argv and optional stdin, per the public contract:
// argv is re-validated, the child runs with no shell interpolation, stdin
// (when present) is written once and never retained, and the result is
// captured with exit code, stdout/stderr, and duration.
func (g *Gateway) Run(ctx context.Context, callerID string, id wrapper.ID, argv []string, stdin []byte) (wrapper.Result, error) {
	spec, ok := g.registry.Resolve(id)
	if !ok {
		return wrapper.Result{}, fmt.Errorf("gateway: unknown wrapper id %q", id)
	}

	if len(argv) == 0 {
		return wrapper.Result{}, fmt.Errorf("gateway: wrapper %q: empty argv, wrappers require their documented arity", id)
	}
	if err := revalidateArgv(argv); err != nil {
		return wrapper.Result{}, fmt.Errorf("gateway: argv revalidation: %w", err)
	}
	resolvedPath, err := verifyNoSymlinkEscape(spec.Path)
	if err != nil {
		return wrapper.Result{}, fmt.Errorf("gateway: wrapper path defense: %w", err)
	}

	select {
	case g.slots <- struct{}{}:
		g.inFlight.Add(1)
		defer func() {
			g.inFlight.Add(-1)
			<-g.slots
		}()
	case <-time.After(g.queueWait):
		g.emitAudit(ctx, audit.KindFailure, callerID, id, map[string]any{"reason": wrapper.FailOverloaded})
		return wrapper.Result{FailReason: wrapper.FailOverloaded}, nil
	case <-ctx.Done():
		return wrapper.Result{}, ctx.Err()
	}

	timeout := defaultTimeout
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout) * time.Millisecond
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
	}

	g.emitAudit(ctx, audit.KindAttempt, callerID, id, map[string]any{"argv_lengths": argvLengths(argv)})

	result := g.spawn(ctx, resolvedPath, argv, stdin, timeout)

	kind := audit.KindSuccess
	if result.Failed() {
		kind = audit.KindFailure
	}
	g.emitAudit(ctx, kind, callerID, id, map[string]any{
		"exit_code":   result.ExitCode,
		"duration_ms": result.DurationMS,
	})

	return result, nil
}

func (g *Gateway) spawn(ctx context.Context, path string, argv []string, stdin []byte, timeout time.Duration) wrapper.Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, argv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	start := time.Now()
	err := cmd.Start()
	if err != nil {
		return wrapper.Result{FailReason: wrapper.FailSpawn, Stderr: scrub(err.Error())}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err2 error
	select {
	case err2 = <-waitErr:
	case <-runCtx.Done():
		if cmd.Process != nil {
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
		<-waitErr
		duration := time.Since(start)
		return wrapper.Result{
			FailReason: wrapper.FailTimeout,
			DurationMS: duration.Milliseconds(),
			Stdout:     stdout.String(),
			Stderr:     scrub(stderr.String()),
		}
	}

	duration := time.Since(start)
	exitCode := 0
	if err2 != nil {
		var exitErr *exec.ExitError
		if errors.As(err2, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return wrapper.Result{FailReason: wrapper.FailSpawn, DurationMS: duration.Milliseconds(), Stderr: scrub(err2.Error())}
		}
	}

	result := wrapper.Result{
		ExitCode:   exitCode,
		Stdout:     stdout.String(),
		Stderr:     scrub(stderr.String()),
		DurationMS: duration.Milliseconds(),
	}
	if exitCode != 0 {
		result.FailReason = wrapper.FailNonzero
		return result
	}

	trimmed := strings.TrimSpace(stdout.String())
	if trimmed != "" {
		if json.Valid([]byte(trimmed)) {
			result.Parsed = json.RawMessage(trimmed)
		} else {
			result.FailReason = wrapper.FailProtocol
		}
	}
	return result
}

// revalidateArgv re-checks every argument for forbidden shell metacharacters
// right before spawn, independent of whatever validation ran upstream --
// the gateway never trusts a caller's prior validation pass.
func revalidateArgv(argv []string) error {
	for _, a := range argv {
		if err := validate.IsForbiddenCharFree(a); err != nil {
			return fmt.Errorf("argument %q: %w", a, err)
		}
	}
	return nil
}

// verifyNoSymlinkEscape resolves path through the filesystem and confirms
// the resolved target is identical to the configured path -- defeating a
// wrapper path that has been replaced with a symlink after the registry
// was loaded.
func verifyNoSymlinkEscape(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	if resolved != path {
		return "", fmt.Errorf("wrapper path %q resolves to %q, symlink escape refused", path, resolved)
	}
	return resolved, nil
}

// scrub removes forbidden characters before stderr is ever placed in a log
// record, per the gateway's "never inject verbatim" guarantee.
func scrub(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(validate.ForbiddenChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func argvLengths(argv []string) []int {
	lens := make([]int, len(argv))
	for i, a := range argv {
		lens[i] = len(a)
	}
	return lens
}

func (g *Gateway) emitAudit(ctx context.Context, kind audit.Kind, callerID string, id wrapper.ID, details map[string]any) {
	if g.audit == nil {
		return
	}
	_ = g.audit.Append(ctx, audit.Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		ActorID:   callerID,
		Target:    "wrapper:" + string(id),
		Details:   details,
	})
}

// InFlight reports the number of wrapper invocations currently running,
// for diagnostics.
func (g *Gateway) InFlight() int64 { return g.inFlight.Load() }
