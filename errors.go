package svcinstall

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by install and remove operations
var (
	// ErrCrontabChanged indicates the crontab was modified between reading
	// it and writing it back
	ErrCrontabChanged = errors.New("svcinstall: crontab changed concurrently")

	// ErrNoInitSystemRecognized indicates no known init system could be
	// used for the installation
	ErrNoInitSystemRecognized = errors.New("svcinstall: no init system recognized")

	// ErrNoInstallFound indicates no init system recognized an existing
	// installation during removal
	ErrNoInstallFound = errors.New("svcinstall: no install found")

	// ErrTimerWithoutService indicates a timer unit was found without a
	// matching service unit
	ErrTimerWithoutService = errors.New("svcinstall: timer unit without matching service unit")

	// ErrCouldNotStop indicates a process survived the kill escalation
	ErrCouldNotStop = errors.New("svcinstall: process could not be stopped")

	// ErrNoServiceOrTimerFound indicates a process runs under systemd but
	// no unit in the unit directory starts its executable
	ErrNoServiceOrTimerFound = errors.New("svcinstall: no service or timer found for the running executable")

	// ErrTimeout indicates an operation exceeded its timeout
	ErrTimeout = errors.New("svcinstall: timeout")
)

// Validation errors returned by Spec.PrepareInstall
var (
	// ErrNoExePath indicates no executable path was configured
	ErrNoExePath = errors.New("svcinstall: no executable path configured")

	// ErrNoServiceName indicates no service name was configured
	ErrNoServiceName = errors.New("svcinstall: no service name configured")

	// ErrNoTrigger indicates neither OnBoot nor OnSchedule was configured
	ErrNoTrigger = errors.New("svcinstall: no trigger configured, use OnBoot or OnSchedule")

	// ErrNeedRootForSysInstall indicates a system wide install was requested
	// without root privilege
	ErrNeedRootForSysInstall = errors.New("svcinstall: system install requires root")

	// ErrNeedRootToRunAs indicates running the service as another user was
	// requested without root privilege
	ErrNeedRootToRunAs = errors.New("svcinstall: running as another user requires root")

	// ErrRunAsNeedsSystem indicates RunAs was configured on a user install
	ErrRunAsNeedsSystem = errors.New("svcinstall: running as another user requires a system install")
)

// InvalidEnvKeyError indicates a configured environment variable name
// cannot be rendered.
type InvalidEnvKeyError struct {
	// Key is the offending variable name
	Key string
}

func (e *InvalidEnvKeyError) Error() string {
	return fmt.Sprintf("environment variable name %q must not contain '='", e.Key)
}

// UserDoesNotExistError indicates the RunAs user is unknown to the system.
type UserDoesNotExistError struct {
	// Name is the unknown user name
	Name string
}

func (e *UserDoesNotExistError) Error() string {
	return fmt.Sprintf("user %q does not exist", e.Name)
}

// OpError represents an error from a single system operation
type OpError struct {
	// Op is the operation that failed
	Op string
	// Path is the file path involved in the operation
	Path string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("svcinstall %s %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// StepFailedError reports that a step in an ordered sequence failed. It
// carries the descriptions of the steps that completed before it so the
// caller can report partial progress.
type StepFailedError struct {
	// Description is the present-tense description of the failed step
	Description string
	// Completed holds past-tense descriptions of the steps that succeeded
	Completed []string
	// Cause is the underlying error
	Cause error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Description, e.Cause)
}

func (e *StepFailedError) Unwrap() error {
	return e.Cause
}

// RollbackError wraps a failure encountered while undoing a step. The
// system may have changed between the install and the rollback, so these
// are mostly IO errors.
type RollbackError struct {
	Cause error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed: %v", e.Cause)
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}

// StepFailure pairs a failed step's description with its error.
type StepFailure struct {
	// Description is the detailed present-tense description of the step
	Description string
	// Err is the error the step returned
	Err error
}

// BestEffortError aggregates failures from a best-effort removal where
// every step runs regardless of earlier failures.
type BestEffortError struct {
	// Failures contains one entry per failed step
	Failures []StepFailure
}

// Error returns a summary of the accumulated failures
func (e *BestEffortError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("step %q failed: %v", e.Failures[0].Description, e.Failures[0].Err)
	}
	return fmt.Sprintf("%d removal steps failed", len(e.Failures))
}

// Unwrap returns the underlying errors for error chain inspection
func (e *BestEffortError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// TargetExistsError indicates the executable's target path is already
// occupied and the caller did not ask for an update.
type TargetExistsError struct {
	// Path is the occupied target path
	Path string
}

func (e *TargetExistsError) Error() string {
	return fmt.Sprintf("target %q already exists, use update to overwrite", e.Path)
}

// MultipleExePathsError indicates the unit files of an existing
// installation disagree about the installed executable's path.
type MultipleExePathsError struct {
	// Paths holds the distinct paths found, in discovery order
	Paths []string
}

func (e *MultipleExePathsError) Error() string {
	return fmt.Sprintf("unit files name multiple executables: %s", strings.Join(e.Paths, ", "))
}

// WaitTimeoutError indicates a unit did not reach the expected state
// within the allotted time.
type WaitTimeoutError struct {
	// What names the awaited transition, for example "enable" or "stop"
	What string
	// Unit is the unit name waited on
	Unit string
	// Timeout is the duration that elapsed
	Timeout time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("unit %q did not %s within %v", e.Unit, e.What, e.Timeout)
}

// Unwrap marks the error as a timeout
func (e *WaitTimeoutError) Unwrap() error {
	return ErrTimeout
}

// InitFailure pairs an init system's name with the error it returned.
type InitFailure struct {
	// Name is the init system's name, for example "systemd"
	Name string
	// Err is the error preparing the installation returned
	Err error
}

// InitFailures aggregates the per-init-system errors collected while
// looking for a usable init system.
type InitFailures []InitFailure

// Error lists every init system together with its error
func (e InitFailures) Error() string {
	parts := make([]string, 0, len(e))
	for _, f := range e {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Name, f.Err))
	}
	return "no init system usable: " + strings.Join(parts, "; ")
}

// Unwrap returns the underlying errors for error chain inspection
func (e InitFailures) Unwrap() []error {
	errs := make([]error, 0, len(e))
	for _, f := range e {
		errs = append(errs, f.Err)
	}
	return errs
}
