package svcinstall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderServiceOnBootUser(t *testing.T) {
	params := &Params{
		Name:    "myservice",
		BinName: "myapp",
		ExePath: "/home/u/.local/bin/myapp",
		Trigger: OnBoot(),
		Mode:    ModeUser,
	}
	body := renderService(params)

	assert.Contains(t, body, landmarkComment("myapp"))
	assert.Contains(t, body, "Description=starts myservice\n")
	assert.Contains(t, body, "After=network.target\n")
	assert.Contains(t, body, "Type=simple\n")
	assert.Contains(t, body, "ExecStart=/home/u/.local/bin/myapp\n")
	assert.Contains(t, body, "[Install]\nWantedBy=default.target\n")
	assert.NotContains(t, body, "WorkingDirectory=")
	assert.NotContains(t, body, "User=")
	assert.NotContains(t, body, "Environment=")
}

func TestRenderServiceOnBootSystem(t *testing.T) {
	params := &Params{
		Name:        "myservice",
		BinName:     "myapp",
		Description: "does things",
		ExePath:     "/usr/bin/my app",
		ExeArgs:     []string{"serve", "a b"},
		WorkingDir:  "/var/lib/my app",
		Environment: map[string]string{"B": "two words", "A": "1"},
		RunAs:       "svcuser",
		Trigger:     OnBoot(),
		Mode:        ModeSystem,
	}
	body := renderService(params)

	assert.Contains(t, body, "Description=does things\n")
	assert.Contains(t, body, `WorkingDirectory="/var/lib/my app"`+"\n")
	assert.Contains(t, body, "User=svcuser\n")
	assert.Contains(t, body, `Environment=A=1 "B=two words"`+"\n")
	assert.Contains(t, body, `ExecStart="/usr/bin/my app" serve "a b"`+"\n")
	assert.Contains(t, body, "[Install]\nWantedBy=multi-user.target\n")
}

func TestRenderServiceScheduledHasNoInstall(t *testing.T) {
	params := &Params{
		Name:    "myservice",
		BinName: "myapp",
		ExePath: "/usr/bin/myapp",
		Trigger: OnSchedule(Daily(3, 30, 0)),
		Mode:    ModeSystem,
	}
	body := renderService(params)
	assert.NotContains(t, body, "[Install]")

	unit := Unit{Body: body, FileName: "myservice.service"}
	assert.False(t, unit.HasInstall())
	assert.True(t, unit.Ours())
}

func TestRenderTimer(t *testing.T) {
	params := &Params{Name: "myservice", BinName: "myapp", ExePath: "/x"}
	body := renderTimer(params, Daily(3, 5, 7))

	assert.Contains(t, body, landmarkComment("myapp"))
	assert.Contains(t, body, "OnCalendar=*-*-* 03:05:07\n")
	assert.Contains(t, body, "AccuracySec=60\n")
	assert.Contains(t, body, "[Install]\nWantedBy=timers.target\n")
}

func TestUnitExePath(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "bare path",
			body: "[Service]\nExecStart=/usr/bin/myapp --flag\n",
			want: "/usr/bin/myapp",
		},
		{
			name: "quoted path",
			body: "[Service]\nExecStart=\"/usr/bin/my app\" --flag\n",
			want: "/usr/bin/my app",
		},
		{
			name:    "no ExecStart",
			body:    "[Unit]\nDescription=x\n",
			wantErr: true,
		},
		{
			name:    "broken quoting",
			body:    "[Service]\nExecStart=\"/usr/bin/app\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := Unit{Body: tt.body, Path: "/dir/x.service", FileName: "x.service"}
			got, err := unit.ExePath()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// render and parse must agree on the executable path
func TestUnitExePathRoundTrip(t *testing.T) {
	paths := []string{"/usr/bin/myapp", "/opt/my app/run", `/odd"path/x`}
	for _, path := range paths {
		params := &Params{
			Name:    "s",
			BinName: "b",
			ExePath: path,
			ExeArgs: []string{"--flag", "a b"},
			Trigger: OnBoot(),
		}
		unit := Unit{Body: renderService(params), FileName: "s.service"}
		got, err := unit.ExePath()
		require.NoError(t, err)
		assert.Equal(t, path, got)
	}
}

func TestUnitName(t *testing.T) {
	assert.Equal(t, "myservice", Unit{FileName: "myservice.service"}.Name())
	assert.Equal(t, "myservice", Unit{FileName: "myservice.timer"}.Name())
}

func TestCollectUnits(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.service"), []byte("B"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.service"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.timer"), []byte("T"), 0o644))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.service"), []byte("C"), 0o644))

	services, err := collectUnits(dir, ".service")
	require.NoError(t, err)
	require.Len(t, services, 3)
	// sorted by name, nested directories included
	assert.Equal(t, "a.service", services[0].FileName)
	assert.Equal(t, "b.service", services[1].FileName)
	assert.Equal(t, "c.service", services[2].FileName)
	assert.Equal(t, "A", services[0].Body)

	timers, err := collectUnits(dir, ".timer")
	require.NoError(t, err)
	require.Len(t, timers, 1)

	none, err := collectUnits(filepath.Join(dir, "missing"), ".service")
	require.NoError(t, err)
	assert.Nil(t, none)
}
