package svcinstall

import (
	"context"
	"fmt"
	"strings"
)

// DisableSteps finds the units that keep exePath running and returns a
// step disabling them so the file can be replaced. Timer driven services
// are found through their timers, boot driven ones directly. The rollback
// re-enables everything that was disabled.
func (s *Systemd) DisableSteps(ctx context.Context, exePath string, pid int, mode Mode, runAs string) (InstallSteps, error) {
	dir, err := s.unitDir(mode)
	if err != nil {
		return nil, err
	}
	allServices, err := collectUnits(dir, ".service")
	if err != nil {
		return nil, err
	}
	allTimers, err := collectUnits(dir, ".timer")
	if err != nil {
		return nil, err
	}

	// units of other packages may not parse, that is fine as long as
	// one of the remaining ones runs the target
	var services []Unit
	for _, unit := range allServices {
		path, err := unit.ExePath()
		if err != nil {
			continue
		}
		if path == exePath {
			services = append(services, unit)
		}
	}

	names := make(map[string]bool, len(services))
	for _, service := range services {
		names[service.Name()] = true
	}
	var timers []Unit
	for _, timer := range allTimers {
		if names[timer.Name()] {
			timers = append(timers, timer)
		}
	}

	// services without [Install] are started by their timer, disabling
	// the timer is what stops them
	enabled := services[:0]
	for _, service := range services {
		if service.HasInstall() {
			enabled = append(enabled, service)
		}
	}
	services = enabled

	if len(services) == 0 && len(timers) == 0 {
		return nil, fmt.Errorf("pid %d runs %s but no unit in %s starts it: %w", pid, exePath, dir, ErrNoServiceOrTimerFound)
	}
	return InstallSteps{&disableUnitsStep{
		control:  s.control,
		services: services,
		timers:   timers,
		mode:     mode,
	}}, nil
}

// disableUnitsStep disables the services and timers running the file at
// the install location.
type disableUnitsStep struct {
	control  Controller
	services []Unit
	timers   []Unit
	mode     Mode
}

func (s *disableUnitsStep) Describe(t Tense) string {
	verb := t.pick("Disabled", "Disable", "Will disable", "Disabling")
	return fmt.Sprintf("%s the %s services and/or timers running the file at the install location", verb, s.mode)
}

func (s *disableUnitsStep) DescribeDetailed(t Tense) string {
	var b strings.Builder
	b.WriteString(s.Describe(t))
	if len(s.services) > 0 {
		b.WriteString("\n| services:")
		for _, unit := range s.services {
			b.WriteString("\n|\t- " + unit.FileName)
		}
	}
	if len(s.timers) > 0 {
		b.WriteString("\n| timers:")
		for _, unit := range s.timers {
			b.WriteString("\n|\t- " + unit.FileName)
		}
	}
	return b.String()
}

func (s *disableUnitsStep) Perform(ctx context.Context) (RollbackStep, error) {
	rollback := &reEnableUnitsStep{control: s.control, mode: s.mode}
	for _, unit := range s.services {
		if err := disableAndWait(ctx, s.control, unit.FileName, s.mode, true); err != nil {
			return nil, err
		}
		rollback.units = append(rollback.units, unit.FileName)
	}
	for _, unit := range s.timers {
		if err := disableAndWait(ctx, s.control, unit.FileName, s.mode, true); err != nil {
			return nil, err
		}
		// the timer's service may still be running its last activation
		if err := stopAndWait(ctx, s.control, unit.Name()+".service", s.mode); err != nil {
			return nil, err
		}
		rollback.units = append(rollback.units, unit.FileName)
	}
	return rollback, nil
}

// reEnableUnitsStep re-enables the units a disableUnitsStep disabled.
type reEnableUnitsStep struct {
	control Controller
	units   []string
	mode    Mode
}

func (s *reEnableUnitsStep) Describe(t Tense) string {
	verb := t.pick("Re-enabled", "Re-enable", "Will re-enable", "Re-enabling")
	return fmt.Sprintf("%s the %s units that ran the original file", verb, s.mode)
}

func (s *reEnableUnitsStep) Perform(ctx context.Context) error {
	for _, unit := range s.units {
		if err := enableAndWait(ctx, s.control, unit, s.mode, true); err != nil {
			return &RollbackError{Cause: err}
		}
	}
	return nil
}
