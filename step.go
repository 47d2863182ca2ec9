package svcinstall

import (
	"context"
	"strings"
)

// InstallStep is one unit of work in the install process. It can be
// described before it is performed, so callers can ask for confirmation.
// Perform may hand back a RollbackStep which undoes the change; rollback
// steps accumulate in the order performed and should be unwound in reverse
// by the caller when a later step fails.
type InstallStep interface {
	// Describe returns a short one line description in the given tense.
	Describe(t Tense) string
	// DescribeDetailed returns a verbose description including as many
	// details as possible, for example file contents about to be written.
	DescribeDetailed(t Tense) string
	// Perform applies the change to the system. The returned RollbackStep
	// is nil when the change cannot or need not be undone.
	Perform(ctx context.Context) (RollbackStep, error)
}

// RemoveStep is one unit of work in the removal process.
type RemoveStep interface {
	Describe(t Tense) string
	DescribeDetailed(t Tense) string
	// Perform applies the change to the system.
	Perform(ctx context.Context) error
}

// RollbackStep undoes a previously performed InstallStep.
type RollbackStep interface {
	Describe(t Tense) string
	// Perform undoes the change. The system may have changed between the
	// install and the rollback, leading to mostly IO errors.
	Perform(ctx context.Context) error
}

// notification is implemented by steps that change nothing and only inform
// the user. Wizards should print these without asking for confirmation.
type notification interface {
	isNotification() bool
}

// IsNotification reports whether step only informs the user and performs no
// change to the system.
func IsNotification(step InstallStep) bool {
	n, ok := step.(notification)
	return ok && n.isNotification()
}

// rollbackAdapter lets any RemoveStep serve as a RollbackStep. Removing
// something that was just installed is exactly the undo of installing it.
type rollbackAdapter struct {
	RemoveStep
}

func (a rollbackAdapter) Perform(ctx context.Context) error {
	if err := a.RemoveStep.Perform(ctx); err != nil {
		return &RollbackError{Cause: err}
	}
	return nil
}

// asRollback wraps a RemoveStep so it can be returned from
// InstallStep.Perform as the undo of that step.
func asRollback(step RemoveStep) RollbackStep {
	return rollbackAdapter{RemoveStep: step}
}

// InstallSteps is the ordered list of changes needed to do an installation.
// Returned by Spec.PrepareInstall. The steps can be inspected and performed
// one by one, or all at once using Install.
type InstallSteps []InstallStep

// Install performs all steps front to back. It returns the past-tense
// descriptions of the steps that completed, joined by newlines, and the
// rollback steps collected from them in the order performed. On the first
// failure the remaining steps are skipped; the rollback steps collected so
// far are still returned so the caller can unwind them in reverse.
func (s InstallSteps) Install(ctx context.Context) (report string, rollback []RollbackStep, err error) {
	var done []string
	for _, step := range s {
		rb, err := step.Perform(ctx)
		if err != nil {
			return strings.Join(done, "\n"), rollback, &StepFailedError{
				Description: step.Describe(TensePresent),
				Completed:   done,
				Cause:       err,
			}
		}
		done = append(done, step.Describe(TensePast))
		if rb != nil {
			rollback = append(rollback, rb)
		}
	}
	return strings.Join(done, "\n"), rollback, nil
}

// Describe renders every step in the given tense, one per line.
func (s InstallSteps) Describe(t Tense) string {
	descriptions := make([]string, 0, len(s))
	for _, step := range s {
		descriptions = append(descriptions, step.Describe(t))
	}
	return strings.Join(descriptions, "\n")
}

// RemoveSteps is the ordered list of changes needed to remove an
// installation. Returned by Spec.PrepareRemove.
type RemoveSteps []RemoveStep

// Remove performs all steps front to back, aborting on the first failure.
// It returns the past-tense descriptions of the completed steps joined by
// newlines.
func (s RemoveSteps) Remove(ctx context.Context) (report string, err error) {
	var done []string
	for _, step := range s {
		if err := step.Perform(ctx); err != nil {
			return strings.Join(done, "\n"), &StepFailedError{
				Description: step.Describe(TensePresent),
				Completed:   done,
				Cause:       err,
			}
		}
		done = append(done, step.Describe(TensePast))
	}
	return strings.Join(done, "\n"), nil
}

// BestEffortRemove performs every step regardless of individual failures.
// It returns the descriptions of the steps that succeeded. If at least one
// step failed the returned error is a *BestEffortError bundling every
// failure together with the description of the step that caused it.
func (s RemoveSteps) BestEffortRemove(ctx context.Context) (report string, err error) {
	var done []string
	var failures []StepFailure
	for _, step := range s {
		if err := step.Perform(ctx); err != nil {
			failures = append(failures, StepFailure{
				Description: step.DescribeDetailed(TensePresent),
				Err:         err,
			})
			continue
		}
		done = append(done, step.Describe(TensePast))
	}
	if len(failures) > 0 {
		return strings.Join(done, "\n"), &BestEffortError{Failures: failures}
	}
	return strings.Join(done, "\n"), nil
}

// Describe renders every step in the given tense, one per line.
func (s RemoveSteps) Describe(t Tense) string {
	descriptions := make([]string, 0, len(s))
	for _, step := range s {
		descriptions = append(descriptions, step.Describe(t))
	}
	return strings.Join(descriptions, "\n")
}
