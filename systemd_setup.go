package svcinstall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// Systemd installs services as systemd units, tried before cron.
type Systemd struct {
	control Controller
	table   ProcessTable
	// dirOverride replaces the per-mode unit directory, used in tests
	dirOverride string
}

// NewSystemd returns the systemd backend driving systemctl.
func NewSystemd() *Systemd {
	return &Systemd{control: NewSystemctlController(), table: ProcTable{}}
}

// WithController replaces the unit lifecycle controller, for example with
// a DBusController or a fake in tests.
func (s *Systemd) WithController(control Controller) *Systemd {
	s.control = control
	return s
}

// WithProcessTable replaces the process table source.
func (s *Systemd) WithProcessTable(table ProcessTable) *Systemd {
	s.table = table
	return s
}

// WithUnitDir pins the unit directory instead of resolving it per mode.
func (s *Systemd) WithUnitDir(dir string) *Systemd {
	s.dirOverride = dir
	return s
}

func (s *Systemd) Name() string { return "systemd" }

func (s *Systemd) unitDir(mode Mode) (string, error) {
	if s.dirOverride != "" {
		return s.dirOverride, nil
	}
	return unitDir(mode)
}

// pathIsSystemd reports whether the resolved path has a "systemd"
// component, which is how the systemd binaries are recognized regardless
// of distribution layout.
func pathIsSystemd(path string) bool {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	for _, component := range strings.Split(path, "/") {
		if component == "systemd" {
			return true
		}
	}
	return false
}

func (s *Systemd) IsInitPath(path string) bool {
	return pathIsSystemd(path)
}

// NotAvailable reports true when PID 1 is not systemd.
func (s *Systemd) NotAvailable(ctx context.Context) (bool, error) {
	procs, err := s.table.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	for _, proc := range procs {
		if proc.Pid != 1 {
			continue
		}
		path := proc.Exe
		if path == "" && len(proc.Cmdline) > 0 {
			path = proc.Cmdline[0]
		}
		return !pathIsSystemd(path), nil
	}
	return true, nil
}

// SetUpSteps returns the steps writing and enabling the units. Scheduled
// installs get a service plus a timer, the timer is what gets enabled.
// Boot triggered installs get a single enabled service.
func (s *Systemd) SetUpSteps(ctx context.Context, params *Params) (InstallSteps, error) {
	dir, err := s.unitDir(params.Mode)
	if err != nil {
		return nil, err
	}
	base := filepath.Join(dir, params.Name)

	service := &writeUnitStep{
		path: base + ".service",
		body: renderService(params),
		kind: "service",
	}

	if params.Trigger.Kind == TriggerOnSchedule {
		timer := &writeUnitStep{
			path: base + ".timer",
			body: renderTimer(params, params.Trigger.Schedule),
			kind: "timer",
		}
		enable := &enableTimerStep{
			control: s.control,
			name:    params.Name,
			mode:    params.Mode,
		}
		return InstallSteps{service, timer, enable}, nil
	}

	alreadyRunning, err := s.control.IsActive(ctx, params.Name+".service", params.Mode)
	if err != nil {
		return nil, err
	}
	enable := &enableServiceStep{
		control:        s.control,
		name:           params.Name,
		mode:           params.Mode,
		start:          true,
		alreadyRunning: alreadyRunning,
	}
	return InstallSteps{service, enable}, nil
}

// writeUnitStep writes a unit file, atomically replacing any previous one.
type writeUnitStep struct {
	path string
	body string
	kind string
}

func (s *writeUnitStep) Describe(t Tense) string {
	verb := t.pick("Wrote", "Write", "Will write", "Writing")
	return fmt.Sprintf("%s systemd %s unit at:\n|\t%s", verb, s.kind, s.path)
}

func (s *writeUnitStep) DescribeDetailed(t Tense) string {
	content := strings.ReplaceAll(strings.TrimRight(s.body, "\n"), "\n", "\n|\t")
	return fmt.Sprintf("%s\n| content:\n|\t%s", s.Describe(t), content)
}

func (s *writeUnitStep) Perform(ctx context.Context) (RollbackStep, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, &OpError{Op: "create unit dir", Path: filepath.Dir(s.path), Err: err}
	}
	if err := renameio.WriteFile(s.path, []byte(s.body), 0o664); err != nil {
		return nil, &OpError{Op: "write unit", Path: s.path, Err: err}
	}
	return asRollback(&removeUnitStep{path: s.path, kind: s.kind}), nil
}

// enableTimerStep enables the timer unit with immediate start.
type enableTimerStep struct {
	control Controller
	name    string
	mode    Mode
}

func (s *enableTimerStep) Describe(t Tense) string {
	verb := t.pick("Enabled", "Enable", "Will enable", "Enabling")
	return fmt.Sprintf("%s systemd %s timer: %s", verb, s.mode, s.name)
}

func (s *enableTimerStep) DescribeDetailed(t Tense) string {
	return s.Describe(t)
}

func (s *enableTimerStep) Perform(ctx context.Context) (RollbackStep, error) {
	// the unit files were just written, make the manager see them
	if err := s.control.DaemonReload(ctx, s.mode); err != nil {
		return nil, err
	}
	if err := enableAndWait(ctx, s.control, s.name+".timer", s.mode, true); err != nil {
		return nil, err
	}
	return asRollback(&disableTimerStep{
		control: s.control,
		name:    s.name,
		mode:    s.mode,
	}), nil
}

// enableServiceStep enables the service unit, starting or restarting it.
type enableServiceStep struct {
	control        Controller
	name           string
	mode           Mode
	start          bool
	alreadyRunning bool
}

func (s *enableServiceStep) Describe(t Tense) string {
	enable := t.pick("Enabled", "Enable", "Will enable", "Enabling")
	if !s.start {
		return fmt.Sprintf("%s systemd %s service: %s", enable, s.mode, s.name)
	}
	start := t.pick("started", "start", "start", "starting")
	if s.alreadyRunning {
		start = t.pick("restarted", "restart", "restart", "restarting")
	}
	return fmt.Sprintf("%s and %s systemd %s service: %s", enable, start, s.mode, s.name)
}

func (s *enableServiceStep) DescribeDetailed(t Tense) string {
	return s.Describe(t)
}

func (s *enableServiceStep) Perform(ctx context.Context) (RollbackStep, error) {
	unit := s.name + ".service"
	if err := s.control.DaemonReload(ctx, s.mode); err != nil {
		return nil, err
	}
	if err := enableAndWait(ctx, s.control, unit, s.mode, s.start); err != nil {
		return nil, err
	}
	if s.alreadyRunning {
		if err := s.control.Restart(ctx, unit, s.mode); err != nil {
			return nil, err
		}
	}
	return asRollback(&disableServiceStep{
		control: s.control,
		name:    s.name,
		mode:    s.mode,
		stop:    s.start,
	}), nil
}
