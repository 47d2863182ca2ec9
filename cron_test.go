package svcinstall

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCron(crontab CrontabClient, table ProcessTable) *Cron {
	return &Cron{crontab: crontab, table: table}
}

func TestRenderWhen(t *testing.T) {
	when, err := renderWhen(OnBoot())
	require.NoError(t, err)
	assert.Equal(t, "@reboot", when)

	when, err = renderWhen(OnSchedule(Daily(3, 30, 0)))
	require.NoError(t, err)
	assert.Equal(t, "30 3 * * *", when)

	_, err = renderWhen(OnSchedule(Daily(25, 0, 0)))
	assert.Error(t, err)

	_, err = renderWhen(OnSchedule(Daily(3, 61, 0)))
	assert.Error(t, err)
}

func TestRenderRule(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{
			name: "boot minimal",
			params: Params{
				ExePath: "/home/u/.local/bin/myapp",
				Trigger: OnBoot(),
			},
			want: "@reboot /home/u/.local/bin/myapp",
		},
		{
			name: "schedule with args",
			params: Params{
				ExePath: "/usr/bin/myapp",
				ExeArgs: []string{"serve", "--port", "80 81"},
				Trigger: OnSchedule(Daily(3, 30, 0)),
			},
			want: "30 3 * * * /usr/bin/myapp serve --port '80 81'",
		},
		{
			name: "working dir and env",
			params: Params{
				ExePath:     "/usr/bin/my app",
				WorkingDir:  "/var/lib/my app",
				Environment: map[string]string{"B": "2", "A": "o ne"},
				Trigger:     OnBoot(),
			},
			want: "@reboot cd '/var/lib/my app' && export A='o ne' B=2; '/usr/bin/my app'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := renderRule(&tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule)
		})
	}
}

func TestExtractRulePath(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want string
	}{
		{name: "reboot", rule: "@reboot /usr/bin/app", want: "/usr/bin/app"},
		{name: "reboot with args", rule: "@reboot /usr/bin/app --flag x", want: "/usr/bin/app"},
		{name: "time fields", rule: "30 3 * * * /usr/bin/app", want: "/usr/bin/app"},
		{name: "quoted path", rule: "@reboot '/usr/bin/my app' --flag", want: "/usr/bin/my app"},
		{name: "cd prefix", rule: "@reboot cd '/w d' && /usr/bin/app", want: "/usr/bin/app"},
		{name: "export prefix", rule: "@reboot export A='b c'; /usr/bin/app", want: "/usr/bin/app"},
		{
			name: "everything at once",
			rule: "30 3 * * * cd '/w d' && export A='b c' B=2; '/usr/bin/my app' --flag",
			want: "/usr/bin/my app",
		},
		{name: "rule too short", rule: "30 3 * *", want: ""},
		// && inside a quoted directory splits the rule early, the path
		// is not recovered
		{name: "ampersands in dir", rule: "@reboot cd '/a && b' && /usr/bin/app", want: "b && /usr/bin/app"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractRulePath(tt.rule))
		})
	}
}

// extractRulePath must invert renderRule for any params.
func TestRenderExtractRoundTrip(t *testing.T) {
	paths := []string{"/usr/bin/app", "/opt/my app/run", "/odd'path/x"}
	for _, path := range paths {
		params := Params{
			ExePath:     path,
			ExeArgs:     []string{"--flag", "a b"},
			WorkingDir:  "/some dir",
			Environment: map[string]string{"K": "v v"},
			Trigger:     OnSchedule(Daily(4, 5, 0)),
		}
		rule, err := renderRule(&params)
		require.NoError(t, err)
		assert.Equal(t, path, extractRulePath(rule), "rule: %s", rule)
	}
}

func TestCronSetUpAndTearDown(t *testing.T) {
	ctx := context.Background()
	crontab := newFakeCrontab()
	crontab.set("", "0 1 * * * /usr/bin/other")
	cron := testCron(crontab, &fakeTable{})

	params := &Params{
		Name:    "myservice",
		BinName: "myapp",
		ExePath: "/home/u/.local/bin/myapp",
		Trigger: OnBoot(),
	}

	steps, err := cron.SetUpSteps(ctx, params)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	_, _, err = steps.Install(ctx)
	require.NoError(t, err)

	content := crontab.tabs[""]
	assert.Contains(t, content, "0 1 * * * /usr/bin/other")
	assert.Contains(t, content, landmarkComment("myapp"))
	assert.Contains(t, content, "@reboot /home/u/.local/bin/myapp")

	// repeated install removes the previous entry first, exactly one
	// landmark block remains
	steps, err = cron.SetUpSteps(ctx, params)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	_, _, err = steps.Install(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(crontab.tabs[""], commentPreamble))

	// teardown recognizes the entry and recovers the executable path
	removeSteps, exePath, found, err := cron.TearDownSteps(ctx, "myapp", ModeUser, "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/home/u/.local/bin/myapp", exePath)

	_, err = removeSteps.Remove(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0 1 * * * /usr/bin/other\n", crontab.tabs[""])

	// nothing left to find
	_, _, found, err = cron.TearDownSteps(ctx, "myapp", ModeUser, "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCronTearDownAbortsOnConcurrentEdit(t *testing.T) {
	ctx := context.Background()
	crontab := newFakeCrontab()
	lines := append(landmarkLines("myapp"), "@reboot /x")
	crontab.set("", lines...)
	cron := testCron(crontab, &fakeTable{})

	removeSteps, _, found, err := cron.TearDownSteps(ctx, "myapp", ModeUser, "")
	require.NoError(t, err)
	require.True(t, found)

	// someone rewrites the crontab between prepare and perform
	crontab.set("", "something else entirely")

	_, err = removeSteps.Remove(ctx)
	assert.ErrorIs(t, err, ErrCrontabChanged)
	assert.Equal(t, "something else entirely\n", crontab.tabs[""])
}

func TestCronRollbackImpossible(t *testing.T) {
	ctx := context.Background()
	crontab := newFakeCrontab()
	cron := testCron(crontab, &fakeTable{})
	params := &Params{Name: "s", BinName: "myapp", ExePath: "/x", Trigger: OnBoot()}

	steps, err := cron.SetUpSteps(ctx, params)
	require.NoError(t, err)
	_, rollback, err := steps.Install(ctx)
	require.NoError(t, err)
	require.Len(t, rollback, 1)

	var rollbackErr *RollbackError
	require.ErrorAs(t, rollback[0].Perform(ctx), &rollbackErr)
}

func TestCronDisableSteps(t *testing.T) {
	ctx := context.Background()
	exePath := "/home/u/.local/bin/myapp"

	t.Run("own entry is removed", func(t *testing.T) {
		crontab := newFakeCrontab()
		lines := append(landmarkLines("myapp"), "@reboot "+exePath)
		crontab.set("", lines...)
		cron := testCron(crontab, &fakeTable{})

		steps, err := cron.DisableSteps(ctx, exePath, 42, ModeUser, "")
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.IsType(t, &removePreviousEntry{}, steps[0])
		assert.IsType(t, &killStep{}, steps[1])
	})

	t.Run("foreign rule is commented out", func(t *testing.T) {
		crontab := newFakeCrontab()
		crontab.set("", "@reboot "+shellEscape(exePath)+" --their-flags")
		cron := testCron(crontab, &fakeTable{})

		steps, err := cron.DisableSteps(ctx, exePath, 42, ModeUser, "")
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.IsType(t, &commentOutRule{}, steps[0])

		// performing it prefixes the rule and the rollback restores it
		rollback, err := steps[0].Perform(ctx)
		require.NoError(t, err)
		assert.Equal(t, "# @reboot "+exePath+" --their-flags\n", crontab.tabs[""])
		require.NoError(t, rollback.Perform(ctx))
		assert.Equal(t, "@reboot "+exePath+" --their-flags\n", crontab.tabs[""])
	})

	t.Run("no entry leaves only the kill", func(t *testing.T) {
		crontab := newFakeCrontab()
		cron := testCron(crontab, &fakeTable{})
		steps, err := cron.DisableSteps(ctx, exePath, 42, ModeUser, "")
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.IsType(t, &killStep{}, steps[0])
	})
}

func TestCronNotAvailable(t *testing.T) {
	ctx := context.Background()

	withCron := testCron(newFakeCrontab(), &fakeTable{procs: []Process{
		{Pid: 1, ParentPid: 0, Exe: "/usr/lib/systemd/systemd"},
		{Pid: 99, ParentPid: 1, Exe: "/usr/sbin/crond"},
	}})
	notAvailable, err := withCron.NotAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, notAvailable)

	withoutCron := testCron(newFakeCrontab(), &fakeTable{procs: []Process{
		{Pid: 1, ParentPid: 0, Exe: "/usr/lib/systemd/systemd"},
	}})
	notAvailable, err = withoutCron.NotAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, notAvailable)

	// exe unreadable, the cmdline still identifies the daemon
	cmdlineOnly := testCron(newFakeCrontab(), &fakeTable{procs: []Process{
		{Pid: 99, ParentPid: 1, Cmdline: []string{"/usr/sbin/cron", "-f"}},
	}})
	notAvailable, err = cmdlineOnly.NotAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, notAvailable)
}
