package svcinstall

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Line is one physical line of a crontab. Pos is the line's 0-based index
// in the crontab at read time and is used to detect concurrent edits
// before writing back.
type Line struct {
	Pos  int
	Text string
}

// String renders the line as "pos: text" for detailed step descriptions
func (l Line) String() string {
	return fmt.Sprintf("%d: %s", l.Pos, l.Text)
}

// CrontabClient reads and replaces crontabs. The production implementation
// shells out to the crontab CLI, tests swap in an in-memory fake.
type CrontabClient interface {
	// List returns the crontab's lines for the given user, empty user
	// means the invoking user. The banner the CLI prepends is stripped.
	// A missing crontab lists as empty, not as an error.
	List(ctx context.Context, user string) ([]Line, error)
	// Store replaces the crontab for the given user with content.
	Store(ctx context.Context, content, user string) error
}

// listBanner is the first line of the three line header `crontab -l`
// prepends on some distributions.
const listBanner = "# DO NOT EDIT THIS FILE"

// crontabLines splits raw `crontab -l` output into positioned lines,
// dropping the CLI's three line banner when present.
func crontabLines(raw string) []Line {
	raw = strings.TrimSuffix(raw, "\n")
	if raw == "" {
		return nil
	}
	split := strings.Split(raw, "\n")
	if strings.HasPrefix(split[0], listBanner) && len(split) >= 3 {
		split = split[3:]
	}
	lines := make([]Line, 0, len(split))
	for pos, text := range split {
		lines = append(lines, Line{Pos: pos, Text: text})
	}
	return lines
}

// ExecCrontab drives the OS crontab CLI.
type ExecCrontab struct{}

func (ExecCrontab) List(ctx context.Context, user string) ([]Line, error) {
	args := []string{"-l"}
	if user != "" {
		args = append(args, "-u", user)
	}
	cmd := exec.CommandContext(ctx, "crontab", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// a user without a crontab is an empty crontab, not a failure
		if strings.Contains(stderr.String(), "no crontab for") {
			return nil, nil
		}
		return nil, &OpError{Op: "crontab -l", Path: user, Err: fmt.Errorf("%w, stderr: %s", err, strings.TrimSpace(stderr.String()))}
	}
	return crontabLines(stdout.String()), nil
}

func (ExecCrontab) Store(ctx context.Context, content, user string) error {
	args := []string{"-"}
	if user != "" {
		args = append(args, "-u", user)
	}
	cmd := exec.CommandContext(ctx, "crontab", args...)
	cmd.Stdin = strings.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &OpError{Op: "crontab -", Path: user, Err: fmt.Errorf("%w, stderr: %s", err, strings.TrimSpace(stderr.String()))}
	}
	return nil
}

// joinLines renders lines back into crontab text, one trailing newline.
func joinLines(texts []string) string {
	if len(texts) == 0 {
		return ""
	}
	return strings.Join(texts, "\n") + "\n"
}

// filterOut returns the crontab minus the rule and its comment block. It
// verifies every line it removes still carries the text recorded when the
// steps were prepared. Steps may be stored and executed later, if anything
// changed in between the removal aborts with ErrCrontabChanged instead of
// clobbering a manual edit.
func filterOut(current []Line, comments []Line, rule Line) ([]string, error) {
	toRemove := append(append([]Line(nil), comments...), rule)
	var kept []string
	for _, line := range current {
		if len(toRemove) > 0 && line.Pos == toRemove[0].Pos {
			if line.Text != toRemove[0].Text {
				return nil, ErrCrontabChanged
			}
			toRemove = toRemove[1:]
			continue
		}
		kept = append(kept, line.Text)
	}
	if len(toRemove) > 0 {
		return nil, ErrCrontabChanged
	}
	return kept, nil
}

// findLandmark looks for the landmark comment block of binName in the
// crontab. On a match it returns the comment lines and the rule line
// directly below them.
func findLandmark(current []Line, binName string) (comments []Line, rule Line, found bool) {
	landmark := landmarkLines(binName)
	if len(current) < len(landmark)+1 {
		return nil, Line{}, false
	}
	for start := 0; start+len(landmark) < len(current); start++ {
		match := true
		for i, want := range landmark {
			if current[start+i].Text != want {
				match = false
				break
			}
		}
		if match {
			window := current[start : start+len(landmark)]
			return append([]Line(nil), window...), current[start+len(landmark)], true
		}
	}
	return nil, Line{}, false
}
