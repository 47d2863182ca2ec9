package svcinstall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController tracks unit state in memory and records every call.
type fakeController struct {
	enabled map[string]bool
	active  map[string]bool
	calls   []string
}

func newFakeController() *fakeController {
	return &fakeController{
		enabled: make(map[string]bool),
		active:  make(map[string]bool),
	}
}

func (f *fakeController) record(action, unit string) {
	f.calls = append(f.calls, action+" "+unit)
}

func (f *fakeController) Enable(ctx context.Context, unit string, mode Mode, now bool) error {
	f.record("enable", unit)
	f.enabled[unit] = true
	if now {
		f.active[unit] = true
	}
	return nil
}

func (f *fakeController) Disable(ctx context.Context, unit string, mode Mode, now bool) error {
	f.record("disable", unit)
	f.enabled[unit] = false
	if now {
		f.active[unit] = false
	}
	return nil
}

func (f *fakeController) Start(ctx context.Context, unit string, mode Mode) error {
	f.record("start", unit)
	f.active[unit] = true
	return nil
}

func (f *fakeController) Stop(ctx context.Context, unit string, mode Mode) error {
	f.record("stop", unit)
	f.active[unit] = false
	return nil
}

func (f *fakeController) Restart(ctx context.Context, unit string, mode Mode) error {
	f.record("restart", unit)
	f.active[unit] = true
	return nil
}

func (f *fakeController) IsActive(ctx context.Context, unit string, mode Mode) (bool, error) {
	return f.active[unit], nil
}

func (f *fakeController) DaemonReload(ctx context.Context, mode Mode) error {
	f.record("daemon-reload", "")
	return nil
}

// systemdPid1 is a process table whose PID 1 is systemd.
func systemdPid1() *fakeTable {
	return &fakeTable{procs: []Process{
		{Pid: 1, ParentPid: 0, Exe: "/usr/lib/systemd/systemd"},
	}}
}

func testSystemd(t *testing.T, control Controller) *Systemd {
	t.Helper()
	return NewSystemd().
		WithController(control).
		WithProcessTable(systemdPid1()).
		WithUnitDir(t.TempDir())
}

func TestPathIsSystemd(t *testing.T) {
	assert.True(t, pathIsSystemd("/usr/lib/systemd/systemd"))
	assert.True(t, pathIsSystemd("/lib/systemd/systemd-executor"))
	assert.False(t, pathIsSystemd("/bin/busybox"))
	assert.False(t, pathIsSystemd(""))
}

func TestSystemdNotAvailable(t *testing.T) {
	ctx := context.Background()

	s := NewSystemd().WithProcessTable(systemdPid1())
	notAvailable, err := s.NotAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, notAvailable)

	s = NewSystemd().WithProcessTable(&fakeTable{procs: []Process{
		{Pid: 1, ParentPid: 0, Exe: "/bin/busybox"},
	}})
	notAvailable, err = s.NotAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, notAvailable)

	s = NewSystemd().WithProcessTable(&fakeTable{})
	notAvailable, err = s.NotAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, notAvailable)
}

func TestSystemdSetUpOnBoot(t *testing.T) {
	ctx := context.Background()
	control := newFakeController()
	s := testSystemd(t, control)
	params := &Params{
		Name:    "myservice",
		BinName: "myapp",
		ExePath: "/home/u/.local/bin/myapp",
		Trigger: OnBoot(),
		Mode:    ModeUser,
	}

	steps, err := s.SetUpSteps(ctx, params)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	_, rollback, err := steps.Install(ctx)
	require.NoError(t, err)

	servicePath := filepath.Join(s.dirOverride, "myservice.service")
	body, err := os.ReadFile(servicePath)
	require.NoError(t, err)
	assert.Equal(t, renderService(params), string(body))
	assert.True(t, control.enabled["myservice.service"])
	assert.True(t, control.active["myservice.service"])

	// unwinding the rollbacks leaves no trace
	require.Len(t, rollback, 2)
	for i := len(rollback) - 1; i >= 0; i-- {
		require.NoError(t, rollback[i].Perform(ctx))
	}
	assert.NoFileExists(t, servicePath)
	assert.False(t, control.enabled["myservice.service"])
}

func TestSystemdSetUpSchedule(t *testing.T) {
	ctx := context.Background()
	control := newFakeController()
	s := testSystemd(t, control)
	params := &Params{
		Name:    "myservice",
		BinName: "myapp",
		ExePath: "/usr/bin/myapp",
		Trigger: OnSchedule(Daily(3, 30, 0)),
		Mode:    ModeSystem,
	}

	steps, err := s.SetUpSteps(ctx, params)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	_, _, err = steps.Install(ctx)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(s.dirOverride, "myservice.service"))
	assert.FileExists(t, filepath.Join(s.dirOverride, "myservice.timer"))
	assert.True(t, control.enabled["myservice.timer"])
	// the timer owns activation, the service itself stays unenabled
	assert.False(t, control.enabled["myservice.service"])
}

func TestSystemdSetUpRestartsRunningService(t *testing.T) {
	ctx := context.Background()
	control := newFakeController()
	control.active["myservice.service"] = true
	s := testSystemd(t, control)
	params := &Params{
		Name:    "myservice",
		BinName: "myapp",
		ExePath: "/usr/bin/myapp",
		Trigger: OnBoot(),
		Mode:    ModeSystem,
	}

	steps, err := s.SetUpSteps(ctx, params)
	require.NoError(t, err)
	_, _, err = steps.Install(ctx)
	require.NoError(t, err)
	assert.Contains(t, control.calls, "restart myservice.service")
}

// writeUnit drops a unit file for teardown and disable tests.
func writeUnit(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func ownedService(binName, exePath string, install bool) string {
	body := landmarkComment(binName) + "\n\n[Service]\nExecStart=" + systemdEscape(exePath) + "\n"
	if install {
		body += "\n[Install]\nWantedBy=default.target\n"
	}
	return body
}

func ownedTimer(binName string) string {
	return landmarkComment(binName) + "\n\n[Timer]\nOnCalendar=*-*-* 03:30:00\n"
}

func TestSystemdTearDown(t *testing.T) {
	ctx := context.Background()
	control := newFakeController()
	s := testSystemd(t, control)
	dir := s.dirOverride

	servicePath := writeUnit(t, dir, "myservice.service", ownedService("myapp", "/usr/bin/myapp", false))
	timerPath := writeUnit(t, dir, "myservice.timer", ownedTimer("myapp"))
	foreignPath := writeUnit(t, dir, "other.service", "[Service]\nExecStart=/usr/bin/other\n")

	steps, exePath, found, err := s.TearDownSteps(ctx, "myapp", ModeUser, "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/usr/bin/myapp", exePath)
	require.Len(t, steps, 4)

	// the timer goes first so nothing re-activates the service
	assert.IsType(t, &disableTimerStep{}, steps[0])
	assert.IsType(t, &removeUnitStep{}, steps[1])
	assert.IsType(t, &disableServiceStep{}, steps[2])
	assert.IsType(t, &removeUnitStep{}, steps[3])

	_, err = steps.Remove(ctx)
	require.NoError(t, err)
	assert.NoFileExists(t, servicePath)
	assert.NoFileExists(t, timerPath)
	assert.FileExists(t, foreignPath)
	assert.Contains(t, control.calls, "disable myservice.timer")
	assert.Contains(t, control.calls, "disable myservice.service")

	// the installation is gone now
	_, _, found, err = s.TearDownSteps(ctx, "myapp", ModeUser, "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSystemdTearDownTimerWithoutService(t *testing.T) {
	ctx := context.Background()
	s := testSystemd(t, newFakeController())
	writeUnit(t, s.dirOverride, "myservice.timer", ownedTimer("myapp"))

	_, _, _, err := s.TearDownSteps(ctx, "myapp", ModeUser, "")
	assert.ErrorIs(t, err, ErrTimerWithoutService)
}

func TestSystemdTearDownMultipleExePaths(t *testing.T) {
	ctx := context.Background()
	s := testSystemd(t, newFakeController())
	writeUnit(t, s.dirOverride, "one.service", ownedService("myapp", "/usr/bin/one", true))
	writeUnit(t, s.dirOverride, "two.service", ownedService("myapp", "/usr/bin/two", true))

	_, _, _, err := s.TearDownSteps(ctx, "myapp", ModeUser, "")
	var multiple *MultipleExePathsError
	require.ErrorAs(t, err, &multiple)
	assert.ElementsMatch(t, []string{"/usr/bin/one", "/usr/bin/two"}, multiple.Paths)
}

func TestSystemdDisableSteps(t *testing.T) {
	ctx := context.Background()
	target := "/usr/bin/myapp"

	t.Run("boot service", func(t *testing.T) {
		control := newFakeController()
		s := testSystemd(t, control)
		writeUnit(t, s.dirOverride, "theirs.service",
			"[Service]\nExecStart="+target+" --flag\n\n[Install]\nWantedBy=default.target\n")
		writeUnit(t, s.dirOverride, "unrelated.service",
			"[Service]\nExecStart=/usr/bin/other\n")

		steps, err := s.DisableSteps(ctx, target, 42, ModeUser, "")
		require.NoError(t, err)
		require.Len(t, steps, 1)

		rollback, err := steps[0].Perform(ctx)
		require.NoError(t, err)
		assert.Contains(t, control.calls, "disable theirs.service")
		assert.NotContains(t, control.calls, "disable unrelated.service")

		require.NoError(t, rollback.Perform(ctx))
		assert.Contains(t, control.calls, "enable theirs.service")
	})

	t.Run("timer driven service", func(t *testing.T) {
		control := newFakeController()
		s := testSystemd(t, control)
		// no [Install] section, the timer is what activates it
		writeUnit(t, s.dirOverride, "theirs.service",
			"[Service]\nExecStart="+target+"\n")
		writeUnit(t, s.dirOverride, "theirs.timer",
			"[Timer]\nOnCalendar=*-*-* 03:30:00\n")

		steps, err := s.DisableSteps(ctx, target, 42, ModeUser, "")
		require.NoError(t, err)
		require.Len(t, steps, 1)

		_, err = steps[0].Perform(ctx)
		require.NoError(t, err)
		assert.Contains(t, control.calls, "disable theirs.timer")
		// the last activation may still be running
		assert.Contains(t, control.calls, "stop theirs.service")
		assert.NotContains(t, control.calls, "disable theirs.service")
	})

	t.Run("no unit found", func(t *testing.T) {
		s := testSystemd(t, newFakeController())
		_, err := s.DisableSteps(ctx, target, 42, ModeUser, "")
		require.ErrorIs(t, err, ErrNoServiceOrTimerFound)
		assert.Contains(t, err.Error(), fmt.Sprintf("pid %d", 42))
	})
}
