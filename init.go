package svcinstall

import (
	"context"
	"log/slog"
	"strings"
)

// The landmark comment surrounds the name of the managing binary in every
// crontab entry and unit file this package writes. Its presence is the sole
// mechanism for recognizing our entries on removal, so these constants must
// never change between releases.
const (
	commentPreamble = "# This entry was autogenerated, do not edit it here."
	commentSuffix   = "# It will be replaced or removed without warning."
)

// landmarkComment renders the comment block written directly above a
// crontab rule or at the top of a unit file. Every line matters, teardown
// matches them one by one.
func landmarkComment(binName string) string {
	return commentPreamble + "\n# Managed by: " + binName + "\n" + commentSuffix
}

// landmarkLines returns the comment block split into its lines.
func landmarkLines(binName string) []string {
	return strings.Split(landmarkComment(binName), "\n")
}

// InitSystem is one supported init system backend. Implementations must be
// safe for repeated use, every call re-reads the relevant OS state.
type InitSystem interface {
	// Name identifies the init system in errors, for example "systemd".
	Name() string
	// NotAvailable reports whether the init system cannot be used on
	// this machine, for example systemd when PID 1 is something else.
	NotAvailable(ctx context.Context) (bool, error)
	// SetUpSteps returns the ordered steps that register the service.
	SetUpSteps(ctx context.Context, params *Params) (InstallSteps, error)
	// TearDownSteps looks for an existing installation owned by binName.
	// When found it returns the removal steps together with the path of
	// the installed executable recovered from the entry. found is false
	// when this init system holds no such installation.
	TearDownSteps(ctx context.Context, binName string, mode Mode, runAs string) (steps RemoveSteps, exePath string, found bool, err error)
	// IsInitPath reports whether path is the init system's own
	// executable, used to classify the ancestors of a running process.
	IsInitPath(path string) bool
	// DisableSteps returns the steps that stop and disable whatever
	// service of this init system keeps exePath running as pid.
	DisableSteps(ctx context.Context, exePath string, pid int, mode Mode, runAs string) (InstallSteps, error)
}

// DefaultInitSystems returns the supported init systems in the order they
// are tried: systemd first, cron as the fallback.
func DefaultInitSystems() []InitSystem {
	return []InitSystem{NewSystemd(), NewCron()}
}

// initSetUp asks each candidate in order for setup steps. The first
// candidate that produces steps wins. Candidates that report themselves
// unavailable are skipped silently; failures of available candidates are
// collected and returned together when none succeeds.
func initSetUp(ctx context.Context, systems []InitSystem, params *Params, logger *slog.Logger) (InstallSteps, error) {
	var failures InitFailures
	for _, sys := range systems {
		notAvailable, err := sys.NotAvailable(ctx)
		if err != nil {
			logger.Warn("init system unusable", "init", sys.Name(), "error", err)
			failures = append(failures, InitFailure{Name: sys.Name(), Err: err})
			continue
		}
		if notAvailable {
			continue
		}
		steps, err := sys.SetUpSteps(ctx, params)
		if err != nil {
			logger.Warn("init system setup failed", "init", sys.Name(), "error", err)
			failures = append(failures, InitFailure{Name: sys.Name(), Err: err})
			continue
		}
		return steps, nil
	}
	if len(failures) == 0 {
		return nil, ErrNoInitSystemRecognized
	}
	return nil, failures
}

// initTearDown asks each candidate in order whether it holds an
// installation owned by binName. The first recognizer wins, ownership is
// unambiguous once an entry with our landmark comment is found.
func initTearDown(ctx context.Context, systems []InitSystem, binName string, mode Mode, runAs string) (RemoveSteps, string, error) {
	for _, sys := range systems {
		notAvailable, err := sys.NotAvailable(ctx)
		if err != nil {
			return nil, "", err
		}
		if notAvailable {
			continue
		}
		steps, exePath, found, err := sys.TearDownSteps(ctx, binName, mode, runAs)
		if err != nil {
			return nil, "", err
		}
		if found {
			return steps, exePath, nil
		}
	}
	return nil, "", ErrNoInstallFound
}
