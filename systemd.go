package svcinstall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Controller drives systemd's unit lifecycle. SystemctlController shells
// out to systemctl, DBusController talks to the manager over the message
// bus. Both take the full unit name including extension.
type Controller interface {
	// Enable enables the unit, now also starts it immediately
	Enable(ctx context.Context, unit string, mode Mode, now bool) error
	// Disable disables the unit, now also stops it immediately
	Disable(ctx context.Context, unit string, mode Mode, now bool) error
	// Start starts the unit
	Start(ctx context.Context, unit string, mode Mode) error
	// Stop stops the unit
	Stop(ctx context.Context, unit string, mode Mode) error
	// Restart restarts the unit
	Restart(ctx context.Context, unit string, mode Mode) error
	// IsActive reports whether the unit is in the active state
	IsActive(ctx context.Context, unit string, mode Mode) (bool, error)
	// DaemonReload makes the manager re-read unit files from disk
	DaemonReload(ctx context.Context, mode Mode) error
}

const (
	// statePollInterval is how often the unit state is re-checked while
	// waiting for a transition
	statePollInterval = 50 * time.Millisecond
	// stateTimeout bounds how long a transition may take before the
	// wait gives up with a WaitTimeoutError
	stateTimeout = 10 * time.Second
)

// waitForActive polls the unit's state until it matches active or the
// timeout elapses. what names the awaited transition in the error.
func waitForActive(ctx context.Context, control Controller, unit string, mode Mode, active bool, what string) error {
	deadline := time.Now().Add(stateTimeout)
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()
	for {
		state, err := control.IsActive(ctx, unit, mode)
		if err != nil {
			return err
		}
		if state == active {
			return nil
		}
		if time.Now().After(deadline) {
			return &WaitTimeoutError{What: what, Unit: unit, Timeout: stateTimeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// enableAndWait enables the unit and waits for it to become active when it
// was started along.
func enableAndWait(ctx context.Context, control Controller, unit string, mode Mode, now bool) error {
	if err := control.Enable(ctx, unit, mode, now); err != nil {
		return err
	}
	if !now {
		return nil
	}
	return waitForActive(ctx, control, unit, mode, true, "enable")
}

// disableAndWait disables the unit and waits for it to become inactive
// when it was stopped along.
func disableAndWait(ctx context.Context, control Controller, unit string, mode Mode, now bool) error {
	if err := control.Disable(ctx, unit, mode, now); err != nil {
		return err
	}
	if !now {
		return nil
	}
	return waitForActive(ctx, control, unit, mode, false, "disable")
}

// stopAndWait stops the unit and waits for it to become inactive.
func stopAndWait(ctx context.Context, control Controller, unit string, mode Mode) error {
	if err := control.Stop(ctx, unit, mode); err != nil {
		return err
	}
	return waitForActive(ctx, control, unit, mode, false, "stop")
}

// SystemctlController drives systemd through the systemctl CLI.
type SystemctlController struct {
	// UseSudo prefixes system mode commands with sudo, defaults to on
	// when not running as root
	UseSudo bool
	// SudoCommand is the sudo command to use (default: "sudo")
	SudoCommand string
	// SystemctlPath is the path to the systemctl binary
	SystemctlPath string
}

// NewSystemctlController returns a controller shelling out to systemctl,
// using sudo for system mode when not running as root.
func NewSystemctlController() *SystemctlController {
	return &SystemctlController{
		UseSudo:       os.Geteuid() != 0,
		SudoCommand:   "sudo",
		SystemctlPath: "systemctl",
	}
}

// run executes systemctl with the mode flag and unit appended. Unit-less
// commands like daemon-reload pass an empty unit.
func (c *SystemctlController) run(ctx context.Context, unit string, mode Mode, args ...string) (string, error) {
	if mode == ModeUser {
		args = append(args, "--user")
	}
	if unit != "" {
		args = append(args, unit)
	}

	var cmd *exec.Cmd
	if c.UseSudo && mode == ModeSystem {
		sudoArgs := append([]string{c.SystemctlPath}, args...)
		cmd = exec.CommandContext(ctx, c.SudoCommand, sudoArgs...)
	} else {
		cmd = exec.CommandContext(ctx, c.SystemctlPath, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("systemctl %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (c *SystemctlController) Enable(ctx context.Context, unit string, mode Mode, now bool) error {
	args := []string{"enable"}
	if now {
		args = append(args, "--now")
	}
	_, err := c.run(ctx, unit, mode, args...)
	return err
}

func (c *SystemctlController) Disable(ctx context.Context, unit string, mode Mode, now bool) error {
	args := []string{"disable"}
	if now {
		args = append(args, "--now")
	}
	_, err := c.run(ctx, unit, mode, args...)
	return err
}

func (c *SystemctlController) Start(ctx context.Context, unit string, mode Mode) error {
	_, err := c.run(ctx, unit, mode, "start")
	return err
}

func (c *SystemctlController) Stop(ctx context.Context, unit string, mode Mode) error {
	_, err := c.run(ctx, unit, mode, "stop")
	return err
}

func (c *SystemctlController) Restart(ctx context.Context, unit string, mode Mode) error {
	_, err := c.run(ctx, unit, mode, "restart")
	return err
}

func (c *SystemctlController) DaemonReload(ctx context.Context, mode Mode) error {
	_, err := c.run(ctx, "", mode, "daemon-reload")
	return err
}

func (c *SystemctlController) IsActive(ctx context.Context, unit string, mode Mode) (bool, error) {
	out, err := c.run(ctx, unit, mode, "is-active")
	if err != nil {
		// systemctl exits 3 when the unit is inactive, that is a
		// state, not a failure
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 3 {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(out) == "active", nil
}
