package svcinstall

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TearDownSteps scans the unit directory for units owned by binName. Timer
// units are disabled and removed before their services. The installed
// executable's path is recovered from the services' ExecStart lines, the
// units must agree on a single path.
func (s *Systemd) TearDownSteps(ctx context.Context, binName string, mode Mode, runAs string) (RemoveSteps, string, bool, error) {
	dir, err := s.unitDir(mode)
	if err != nil {
		return nil, "", false, err
	}
	landmark := landmarkComment(binName)

	services, err := collectUnits(dir, ".service")
	if err != nil {
		return nil, "", false, err
	}
	timers, err := collectUnits(dir, ".timer")
	if err != nil {
		return nil, "", false, err
	}
	services = ownedBy(services, landmark)
	timers = ownedBy(timers, landmark)

	if len(services) == 0 && len(timers) == 0 {
		return nil, "", false, nil
	}

	serviceNames := make(map[string]bool, len(services))
	for _, service := range services {
		serviceNames[service.Name()] = true
	}
	for _, timer := range timers {
		if !serviceNames[timer.Name()] {
			return nil, "", false, ErrTimerWithoutService
		}
	}
	if len(services) == 0 {
		return nil, "", false, ErrTimerWithoutService
	}

	var exePath string
	for _, service := range services {
		path, err := service.ExePath()
		if err != nil {
			return nil, "", false, err
		}
		if exePath == "" {
			exePath = path
			continue
		}
		if path != exePath {
			return nil, "", false, &MultipleExePathsError{Paths: []string{exePath, path}}
		}
	}

	var steps RemoveSteps
	for _, timer := range timers {
		steps = append(steps,
			&disableTimerStep{control: s.control, name: timer.Name(), mode: mode},
			&removeUnitStep{path: timer.Path, kind: "timer"},
		)
	}
	for _, service := range services {
		steps = append(steps,
			&disableServiceStep{control: s.control, name: service.Name(), mode: mode, stop: true},
			&removeUnitStep{path: service.Path, kind: "service"},
		)
	}
	return steps, exePath, true, nil
}

// ownedBy keeps the units whose body carries the full landmark comment.
func ownedBy(units []Unit, landmark string) []Unit {
	var owned []Unit
	for _, unit := range units {
		if strings.Contains(unit.Body, landmark) {
			owned = append(owned, unit)
		}
	}
	return owned
}

// disableServiceStep disables a service unit, optionally stopping it.
type disableServiceStep struct {
	control Controller
	name    string
	mode    Mode
	stop    bool
}

func (s *disableServiceStep) Describe(t Tense) string {
	verb := t.pick("Disabled", "Disable", "Will disable", "Disabling")
	if !s.stop {
		return fmt.Sprintf("%s systemd %s service: %s", verb, s.mode, s.name)
	}
	stop := t.pick("and stopped", "and stop", "and stop", "and stopping")
	return fmt.Sprintf("%s %s systemd %s service: %s", verb, stop, s.mode, s.name)
}

func (s *disableServiceStep) DescribeDetailed(t Tense) string {
	return s.Describe(t)
}

func (s *disableServiceStep) Perform(ctx context.Context) error {
	return disableAndWait(ctx, s.control, s.name+".service", s.mode, s.stop)
}

// disableTimerStep disables and stops a timer unit.
type disableTimerStep struct {
	control Controller
	name    string
	mode    Mode
}

func (s *disableTimerStep) Describe(t Tense) string {
	verb := t.pick("Disabled", "Disable", "Will disable", "Disabling")
	return fmt.Sprintf("%s systemd %s timer: %s", verb, s.mode, s.name)
}

func (s *disableTimerStep) DescribeDetailed(t Tense) string {
	return s.Describe(t)
}

func (s *disableTimerStep) Perform(ctx context.Context) error {
	return disableAndWait(ctx, s.control, s.name+".timer", s.mode, true)
}

// removeUnitStep deletes a unit file from the unit directory.
type removeUnitStep struct {
	path string
	kind string
}

func (s *removeUnitStep) Describe(t Tense) string {
	verb := t.pick("Removed", "Remove", "Will remove", "Removing")
	return fmt.Sprintf("%s systemd %s unit at:\n|\t%s", verb, s.kind, s.path)
}

func (s *removeUnitStep) DescribeDetailed(t Tense) string {
	return s.Describe(t)
}

func (s *removeUnitStep) Perform(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil {
		return &OpError{Op: "remove unit", Path: s.path, Err: err}
	}
	return nil
}
