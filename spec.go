package svcinstall

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Spec describes an installation to prepare. Build one with NewUserSpec or
// NewSystemSpec, chain the setters, then call PrepareInstall or
// PrepareRemove. Preparing never touches the system, it only returns steps.
type Spec struct {
	binName string
	mode    Mode

	source      string
	name        string
	description string
	args        []string
	workingDir  string
	env         map[string]string
	trigger     *Trigger
	runAs       string
	overwrite   bool

	inits  []InitSystem
	table  ProcessTable
	logger *slog.Logger

	err error
}

func newSpec(binName string, mode Mode) *Spec {
	return &Spec{
		binName: binName,
		mode:    mode,
		inits:   DefaultInitSystems(),
		table:   ProcTable{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// NewUserSpec starts a spec for an installation owned by the invoking
// user. binName identifies the managing binary in the landmark comments
// written to crontabs and unit files, removal finds the installation by it.
func NewUserSpec(binName string) *Spec {
	return newSpec(binName, ModeUser)
}

// NewSystemSpec starts a spec for a system wide installation. Requires
// root at prepare time.
func NewSystemSpec(binName string) *Spec {
	return newSpec(binName, ModeSystem)
}

// Path sets the executable to install.
func (s *Spec) Path(path string) *Spec {
	s.source = path
	return s
}

// CurrentExe installs the currently running executable.
func (s *Spec) CurrentExe() *Spec {
	exe, err := os.Executable()
	if err != nil && s.err == nil {
		s.err = &OpError{Op: "resolve current exe", Path: "", Err: err}
	}
	s.source = exe
	return s
}

// ServiceName sets the name the service is registered under.
func (s *Spec) ServiceName(name string) *Spec {
	s.name = name
	return s
}

// Description sets the human readable service description. When unset a
// default is derived from the service name.
func (s *Spec) Description(description string) *Spec {
	s.description = description
	return s
}

// OnBoot makes the service start when the machine, or for user installs
// the user session, comes up.
func (s *Spec) OnBoot() *Spec {
	t := OnBoot()
	s.trigger = &t
	return s
}

// OnSchedule makes the service start daily at the given local time.
func (s *Spec) OnSchedule(schedule Schedule) *Spec {
	t := OnSchedule(schedule)
	s.trigger = &t
	return s
}

// Arg appends one argument passed to the executable on start.
func (s *Spec) Arg(arg string) *Spec {
	s.args = append(s.args, arg)
	return s
}

// Args appends arguments passed to the executable on start.
func (s *Spec) Args(args ...string) *Spec {
	s.args = append(s.args, args...)
	return s
}

// EnvVar sets one environment variable for the service.
func (s *Spec) EnvVar(key, value string) *Spec {
	if s.env == nil {
		s.env = make(map[string]string)
	}
	s.env[key] = value
	return s
}

// EnvVars sets environment variables for the service.
func (s *Spec) EnvVars(env map[string]string) *Spec {
	for key, value := range env {
		s.EnvVar(key, value)
	}
	return s
}

// WorkingDir sets the directory the service starts in.
func (s *Spec) WorkingDir(dir string) *Spec {
	s.workingDir = dir
	return s
}

// RunAs makes the service run as the given user instead of root. Only
// valid for system installs.
func (s *Spec) RunAs(user string) *Spec {
	s.runAs = user
	return s
}

// Overwrite allows replacing a file already at the install location.
// Without it PrepareInstall fails with TargetExistsError.
func (s *Spec) Overwrite() *Spec {
	s.overwrite = true
	return s
}

// InitSystems replaces the init systems tried, in order. The default is
// systemd first, cron as the fallback.
func (s *Spec) InitSystems(systems ...InitSystem) *Spec {
	s.inits = systems
	return s
}

// Logger sets the logger used for warnings, for example an init system
// failing before the next one is tried. The default discards everything.
func (s *Spec) Logger(logger *slog.Logger) *Spec {
	s.logger = logger
	return s
}

func (s *Spec) validate() error {
	if s.err != nil {
		return s.err
	}
	if s.source == "" {
		return ErrNoExePath
	}
	if s.name == "" {
		return ErrNoServiceName
	}
	if s.trigger == nil {
		return ErrNoTrigger
	}
	for key := range s.env {
		if strings.Contains(key, "=") {
			return &InvalidEnvKeyError{Key: key}
		}
	}
	if s.mode == ModeSystem && !isRoot() {
		return ErrNeedRootForSysInstall
	}
	if s.runAs != "" {
		if s.mode.IsUser() {
			return ErrRunAsNeedsSystem
		}
		if !isRoot() {
			return ErrNeedRootToRunAs
		}
		exists, err := userExists(s.runAs)
		if err != nil {
			return err
		}
		if !exists {
			return &UserDoesNotExistError{Name: s.runAs}
		}
	}
	return nil
}

// PrepareInstall validates the spec and returns the ordered steps that
// install the executable and register it with the first usable init
// system. Nothing is changed until the steps are performed.
func (s *Spec) PrepareInstall(ctx context.Context) (InstallSteps, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	steps, exePath, err := placeFiles(ctx, s.source, s.mode, s.runAs, s.overwrite, s.inits, s.table)
	if err != nil {
		return nil, err
	}
	params := &Params{
		Name:        s.name,
		BinName:     s.binName,
		Description: s.description,
		ExePath:     exePath,
		ExeArgs:     s.args,
		WorkingDir:  s.workingDir,
		Environment: s.env,
		Trigger:     *s.trigger,
		RunAs:       s.runAs,
		Mode:        s.mode,
	}
	initSteps, err := initSetUp(ctx, s.inits, params, s.logger)
	if err != nil {
		return nil, err
	}
	return append(steps, initSteps...), nil
}

// PrepareRemove looks for an installation owned by the spec's binName and
// returns the ordered steps that unregister it and delete the installed
// executable. ErrNoInstallFound when no init system recognizes one.
func (s *Spec) PrepareRemove(ctx context.Context) (RemoveSteps, error) {
	if s.mode == ModeSystem && !isRoot() {
		return nil, ErrNeedRootForSysInstall
	}
	steps, exePath, err := initTearDown(ctx, s.inits, s.binName, s.mode, s.runAs)
	if err != nil {
		return nil, err
	}
	steps = append(steps, &removeFileStep{path: exePath, what: "executable"})
	return steps, nil
}
