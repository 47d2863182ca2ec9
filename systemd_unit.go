package svcinstall

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Unit is one systemd unit file read from disk.
type Unit struct {
	// Body is the file's full content
	Body string
	// Path is where the file lives
	Path string
	// FileName is the file's base name including extension
	FileName string
}

// LoadUnit reads the unit file at path.
func LoadUnit(path string) (Unit, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Unit{}, &OpError{Op: "read unit", Path: path, Err: err}
	}
	return Unit{
		Body:     string(body),
		Path:     path,
		FileName: filepath.Base(path),
	}, nil
}

// Name returns the unit's name without extension.
func (u Unit) Name() string {
	return strings.TrimSuffix(u.FileName, filepath.Ext(u.FileName))
}

// Ours reports whether this unit was written by us. Both halves of the
// landmark comment must be present in the body.
func (u Unit) Ours() bool {
	return strings.Contains(u.Body, commentPreamble) && strings.Contains(u.Body, commentSuffix)
}

// HasInstall reports whether the unit carries an [Install] section. Our
// service units only do when they are boot triggered, timer triggered ones
// leave activation to the timer.
func (u Unit) HasInstall() bool {
	return strings.Contains(u.Body, "[Install]")
}

// ExePath recovers the installed executable's path from the unit's
// ExecStart line.
func (u Unit) ExePath() (string, error) {
	for _, line := range strings.Split(u.Body, "\n") {
		line = strings.TrimSpace(line)
		value, found := strings.CutPrefix(line, "ExecStart=")
		if !found {
			continue
		}
		path, err := firstSystemdToken(value)
		if err != nil {
			return "", &OpError{Op: "parse ExecStart", Path: u.Path, Err: err}
		}
		return path, nil
	}
	return "", &OpError{Op: "parse ExecStart", Path: u.Path, Err: fmt.Errorf("unit has no ExecStart line")}
}

// unitDir returns the unit directory for the mode. Other directories
// exist, these are the most commonly used ones.
func unitDir(mode Mode) (string, error) {
	if mode == ModeSystem {
		return "/etc/systemd/system", nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config/systemd/user"), nil
}

// collectUnits loads every unit below dir with the given extension
// (".service" or ".timer"). A missing directory yields no units.
func collectUnits(dir, ext string) ([]Unit, error) {
	var units []Unit
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ext {
			return nil
		}
		unit, err := LoadUnit(path)
		if err != nil {
			return err
		}
		units = append(units, unit)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name() < units[j].Name() })
	return units, nil
}

// renderService renders the body of the .service unit for params. Timer
// triggered services get no [Install] section, the timer owns activation.
func renderService(params *Params) string {
	var b strings.Builder
	b.WriteString(landmarkComment(params.BinName))
	b.WriteString("\n\n[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", params.description())
	b.WriteString("After=network.target\n")

	b.WriteString("\n[Service]\n")
	b.WriteString("Type=simple\n")
	if params.WorkingDir != "" {
		fmt.Fprintf(&b, "WorkingDirectory=%s\n", systemdEscape(params.WorkingDir))
	}
	if params.RunAs != "" {
		fmt.Fprintf(&b, "User=%s\n", params.RunAs)
	}
	if env := renderEnvironment(params.Environment); env != "" {
		fmt.Fprintf(&b, "Environment=%s\n", env)
	}
	exec := systemdEscape(params.ExePath)
	if len(params.ExeArgs) > 0 {
		exec += " " + systemdJoin(params.ExeArgs)
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", exec)

	if params.Trigger.Kind == TriggerOnBoot {
		target := "multi-user.target"
		if params.Mode == ModeUser {
			target = "default.target"
		}
		fmt.Fprintf(&b, "\n[Install]\nWantedBy=%s\n", target)
	}
	return b.String()
}

// renderEnvironment renders the Environment= value, keys sorted so the
// output is stable.
func renderEnvironment(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		// each assignment is one token, quote it whole
		pairs = append(pairs, systemdEscape(key+"="+env[key]))
	}
	return strings.Join(pairs, " ")
}

// renderTimer renders the body of the .timer unit firing the service on
// the given daily schedule.
func renderTimer(params *Params, schedule Schedule) string {
	var b strings.Builder
	b.WriteString(landmarkComment(params.BinName))
	b.WriteString("\n\n[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", params.description())
	b.WriteString("\n[Timer]\n")
	fmt.Fprintf(&b, "OnCalendar=*-*-* %02d:%02d:%02d\n", schedule.Hour, schedule.Minute, schedule.Second)
	b.WriteString("AccuracySec=60\n")
	b.WriteString("\n[Install]\nWantedBy=timers.target\n")
	return b.String()
}
