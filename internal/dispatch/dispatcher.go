package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/mpataki/geolaunch/internal/execlog"
	"github.com/mpataki/geolaunch/internal/invoker"
	"github.com/mpataki/geolaunch/internal/models"
	"github.com/mpataki/geolaunch/internal/registry"
	"github.com/mpataki/geolaunch/internal/validate"
)

var ErrBusy = errors.New("operation is already running")

// Dispatcher is the application state shared by the CLI and the TUI.
type Dispatcher struct {
	registry *registry.Registry
	invoker  *invoker.Invoker
	log      *execlog.Log
	logger   *log.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(reg *registry.Registry, iv *invoker.Invoker, execLog *execlog.Log, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		registry: reg,
		invoker:  iv,
		log:      execLog,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

func (d *Dispatcher) Operations() []models.OperationDescriptor {
	return d.registry.All()
}

func (d *Dispatcher) Lookup(name string) (models.OperationDescriptor, error) {
	return d.registry.Lookup(name)
}

func (d *Dispatcher) Log() *execlog.Log {
	return d.log
}

// Prepare looks the operation up and validates in against it.
func (d *Dispatcher) Prepare(name string, in models.InputValue) (models.OperationDescriptor, error) {
	op, err := d.registry.Lookup(name)
	if err != nil {
		d.logger.Warn("lookup failed", "operation", name)
		return models.OperationDescriptor{}, err
	}

	if err := validate.Validate(op, in); err != nil {
		d.logger.Debug("validation failed", "operation", name, "error", err)
		return op, err
	}

	return op, nil
}

// Pending reports whether name has an invocation in flight.
func (d *Dispatcher) Pending(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[name]
}

// Run validates and invokes one operation, recording the outcome in the
// execution log. Validation and lookup failures are returned without
// touching the log.
func (d *Dispatcher) Run(ctx context.Context, name string, in models.InputValue) (*models.InvocationResult, error) {
	op, err := d.Prepare(name, in)
	if err != nil {
		return nil, err
	}

	if !d.acquire(name) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, name)
	}
	defer d.release(name)

	d.log.Appendf(models.EntryRequest, "Running %s with inputs: %s", op.Name, formatInputs(op, in))
	d.logger.Info("invoking", "operation", op.Name, "executable", op.Executable)

	result, err := d.invoker.Invoke(ctx, op, in)
	if result != nil {
		d.log.AppendResult(result)
	}
	if err != nil {
		d.log.Append(models.EntryError, err.Error())
		d.logger.Error("invocation failed", "operation", op.Name, "error", err)
		return result, err
	}

	d.logger.Info("invocation finished", "operation", op.Name, "exit", result.ExitCode, "duration", result.Duration())
	return result, nil
}

func (d *Dispatcher) acquire(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[name] {
		return false
	}
	d.inFlight[name] = true
	return true
}

func (d *Dispatcher) release(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, name)
}

// Notice is the one-line message shown to the user when a run ends.
func Notice(op string, result *models.InvocationResult, err error) string {
	switch {
	case err != nil && result == nil:
		return fmt.Sprintf("Failed to run %s: %v", op, err)
	case err != nil:
		return fmt.Sprintf("%s failed: %v. Check the log for details.", op, err)
	case result.ExitCode != 0:
		return fmt.Sprintf("Finished running %s with exit code %d. Check the log for details.", op, result.ExitCode)
	default:
		return fmt.Sprintf("Finished running %s. Check the log for details.", op)
	}
}

// Exit codes for dispatch-level failures. A child's own exit code never
// shows up here unless the exit policy is fail.
const (
	ExitOK = iota
	ExitFailure
	ExitOperationNotFound
	ExitValidation
	ExitTargetNotFound
	ExitLaunch
	ExitTimeout
	ExitNonZero
	ExitBusy
)

func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, registry.ErrOperationNotFound):
		return ExitOperationNotFound
	case errors.Is(err, validate.ErrEmptyField),
		errors.Is(err, validate.ErrNotANumber),
		errors.Is(err, validate.ErrFileNotFound):
		return ExitValidation
	case errors.Is(err, invoker.ErrTargetNotFound):
		return ExitTargetNotFound
	case errors.Is(err, invoker.ErrLaunch):
		return ExitLaunch
	case errors.Is(err, invoker.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, invoker.ErrNonZeroExit):
		return ExitNonZero
	case errors.Is(err, ErrBusy):
		return ExitBusy
	default:
		return ExitFailure
	}
}

func formatInputs(op models.OperationDescriptor, in models.InputValue) string {
	parts := make([]string, len(op.Parameters))
	for i, p := range op.Parameters {
		parts[i] = fmt.Sprintf("%s=%q", p.Label, strings.TrimSpace(in[p.Label]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
