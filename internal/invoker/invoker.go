package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mpataki/geolaunch/internal/models"
	"github.com/mpataki/geolaunch/internal/workspace"
)

var (
	ErrTargetNotFound = errors.New("target executable not found")
	ErrLaunch         = errors.New("failed to launch")
	ErrTimeout        = errors.New("timed out")
	ErrNonZeroExit    = errors.New("exited with non-zero status")
)

// ExitPolicy decides what a non-zero child exit means to the caller.
type ExitPolicy string

const (
	// ExitInformational reports the exit code without failing.
	ExitInformational ExitPolicy = "informational"
	// ExitFail turns a non-zero exit into ErrNonZeroExit.
	ExitFail ExitPolicy = "fail"
)

func ParseExitPolicy(s string) (ExitPolicy, error) {
	switch ExitPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExitInformational:
		return ExitInformational, nil
	case ExitFail:
		return ExitFail, nil
	}
	return "", fmt.Errorf("unknown exit policy %q (want %q or %q)", s, ExitInformational, ExitFail)
}

type Options struct {
	// Timeout bounds each invocation; zero waits forever.
	Timeout    time.Duration
	ExitPolicy ExitPolicy
}

type Invoker struct {
	ws   *workspace.Workspace
	opts Options
	now  func() time.Time
}

func New(ws *workspace.Workspace, opts Options) *Invoker {
	if opts.ExitPolicy == "" {
		opts.ExitPolicy = ExitInformational
	}
	return &Invoker{ws: ws, opts: opts, now: time.Now}
}

func (iv *Invoker) Options() Options { return iv.opts }

// Args projects in onto op's parameters in declared order.
func Args(op models.OperationDescriptor, in models.InputValue) []string {
	args := make([]string, len(op.Parameters))
	for i, p := range op.Parameters {
		args[i] = strings.TrimSpace(in[p.Label])
	}
	return args
}

// Invoke runs op's executable with in as positional arguments and waits
// for it to exit. A result is returned whenever the child started, even
// alongside ErrTimeout or ErrNonZeroExit.
func (iv *Invoker) Invoke(ctx context.Context, op models.OperationDescriptor, in models.InputValue) (*models.InvocationResult, error) {
	prog, lead, err := iv.ws.Command(op.Executable, op.Interpreter)
	if err != nil {
		if errors.Is(err, workspace.ErrMissing) {
			return nil, fmt.Errorf("%w: %v", ErrTargetNotFound, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	args := Args(op, in)
	argv := append(append([]string(nil), lead...), args...)

	if iv.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, iv.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, prog, argv...)
	// Own process group so a timeout takes down anything the script spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	result := &models.InvocationResult{
		ID:        uuid.NewString(),
		Operation: op.Name,
		Args:      args,
		Inputs:    in.Clone(),
		StartedAt: iv.now(),
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrTargetNotFound, err)
		}
		return nil, fmt.Errorf("%w %s: %v", ErrLaunch, prog, err)
	}

	waitErr := cmd.Wait()
	result.CompletedAt = iv.now()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.ExitCode = 0
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr != nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			return result, fmt.Errorf("%s %w after %s", op.Name, ErrTimeout, result.Duration().Round(time.Millisecond))
		}
		return result, ctx.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("%w %s: %v", ErrLaunch, prog, waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	if result.ExitCode != 0 && iv.opts.ExitPolicy == ExitFail {
		return result, fmt.Errorf("%s %w %d", op.Name, ErrNonZeroExit, result.ExitCode)
	}

	return result, nil
}
