package svcinstall

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/robfig/cron/v3"
)

// Cron installs services as crontab entries, the fallback when systemd is
// not the init system. Entries are marked with the landmark comment so
// removal touches exactly what install wrote.
type Cron struct {
	crontab CrontabClient
	table   ProcessTable
}

// NewCron returns the cron backend using the OS crontab CLI and /proc.
func NewCron() *Cron {
	return &Cron{crontab: ExecCrontab{}, table: ProcTable{}}
}

func (c *Cron) Name() string { return "cron" }

// NotAvailable reports true when no cron daemon is running.
func (c *Cron) NotAvailable(ctx context.Context) (bool, error) {
	procs, err := c.table.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	for _, proc := range procs {
		if c.IsInitPath(proc.Exe) {
			return false, nil
		}
		if len(proc.Cmdline) > 0 && c.IsInitPath(proc.Cmdline[0]) {
			return false, nil
		}
	}
	return true, nil
}

// IsInitPath reports whether path is a cron daemon executable.
func (c *Cron) IsInitPath(path string) bool {
	base := filepath.Base(path)
	return base == "cron" || base == "crond"
}

// renderWhen renders the trigger as cron time fields. Daily schedules are
// validated before being handed to the daemon.
func renderWhen(trigger Trigger) (string, error) {
	if trigger.Kind == TriggerOnBoot {
		return "@reboot", nil
	}
	schedule := trigger.Schedule
	when := fmt.Sprintf("%d %d * * *", schedule.Minute, schedule.Hour)
	if _, err := cron.ParseStandard(when); err != nil {
		return "", fmt.Errorf("invalid schedule %02d:%02d:%02d: %w",
			schedule.Hour, schedule.Minute, schedule.Second, err)
	}
	return when, nil
}

// renderRule renders the crontab rule starting the service.
func renderRule(params *Params) (string, error) {
	when, err := renderWhen(params.Trigger)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(when)
	b.WriteByte(' ')
	if params.WorkingDir != "" {
		b.WriteString("cd " + shellEscape(params.WorkingDir) + " && ")
	}
	if exports := renderExports(params.Environment); exports != "" {
		b.WriteString(exports + " ")
	}
	b.WriteString(shellEscape(params.ExePath))
	if len(params.ExeArgs) > 0 {
		b.WriteByte(' ')
		b.WriteString(shellJoin(params.ExeArgs))
	}
	return b.String(), nil
}

// renderExports renders the environment as a single export statement, keys
// sorted so the output is stable.
func renderExports(env map[string]string) string {
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
		pairs = append(pairs, key+"="+shellEscape(env[key]))
	}
	return "export " + strings.Join(pairs, " ") + ";"
}

// extractRulePath recovers the executable path from a crontab rule. The
// path is whatever follows the time fields, an optional `cd <dir> &&` and
// an optional export statement, up to the first unescaped whitespace.
func extractRulePath(rule string) string {
	var command string
	if rest, found := strings.CutPrefix(rule, "@reboot"); found {
		command = rest
	} else {
		command = afterTimeFields(rule)
	}
	// Cutting at the first && assumes no quoted directory or argument
	// contains the sequence itself. Rules with such a directory are not
	// recognized on removal and stay in the crontab.
	if _, after, found := strings.Cut(command, "&&"); found {
		command = after
	}
	command = strings.TrimSpace(command)
	if strings.HasPrefix(command, "export ") {
		if _, after, found := strings.Cut(command, ";"); found {
			command = after
		}
	}
	return firstShellToken(strings.TrimSpace(command))
}

// afterTimeFields drops the five cron time fields.
func afterTimeFields(rule string) string {
	rest := strings.TrimSpace(rule)
	for i := 0; i < 5; i++ {
		idx := strings.IndexFunc(rest, unicode.IsSpace)
		if idx < 0 {
			return ""
		}
		rest = strings.TrimLeftFunc(rest[idx:], unicode.IsSpace)
	}
	return rest
}

// SetUpSteps returns the steps adding the crontab entry. A leftover entry
// from a previous install of the same binary is removed first, repeated
// installs leave exactly one landmark block.
func (c *Cron) SetUpSteps(ctx context.Context, params *Params) (InstallSteps, error) {
	current, err := c.crontab.List(ctx, params.RunAs)
	if err != nil {
		return nil, err
	}
	rule, err := renderRule(params)
	if err != nil {
		return nil, err
	}

	var steps InstallSteps
	if comments, oldRule, found := findLandmark(current, params.BinName); found {
		steps = append(steps, &removePreviousEntry{
			crontab:  c.crontab,
			user:     params.RunAs,
			comments: comments,
			rule:     oldRule,
		})
	}
	steps = append(steps, &appendEntry{
		crontab: c.crontab,
		user:    params.RunAs,
		comment: landmarkComment(params.BinName),
		rule:    rule,
	})
	return steps, nil
}

// TearDownSteps looks for our landmark block in the crontab. On a match it
// returns the removal step and the executable path recovered from the
// rule.
func (c *Cron) TearDownSteps(ctx context.Context, binName string, mode Mode, runAs string) (RemoveSteps, string, bool, error) {
	current, err := c.crontab.List(ctx, runAs)
	if err != nil {
		return nil, "", false, err
	}
	comments, rule, found := findLandmark(current, binName)
	if !found {
		return nil, "", false, nil
	}
	exePath := extractRulePath(rule.Text)
	step := &removeInstalledEntry{
		crontab:  c.crontab,
		user:     runAs,
		comments: comments,
		rule:     rule,
	}
	return RemoveSteps{step}, exePath, true, nil
}

// DisableSteps stops whatever cron runs from exePath so the file can be
// replaced. A rule from a previous install is removed, a foreign rule is
// only commented out so it can be restored on rollback. The running
// process is stopped either way.
func (c *Cron) DisableSteps(ctx context.Context, exePath string, pid int, mode Mode, runAs string) (InstallSteps, error) {
	current, err := c.crontab.List(ctx, runAs)
	if err != nil {
		return nil, err
	}
	kill := &killStep{pid: pid, table: c.table}

	binName := filepath.Base(exePath)
	if comments, rule, found := findLandmark(current, binName); found {
		remove := &removePreviousEntry{
			crontab:  c.crontab,
			user:     runAs,
			comments: comments,
			rule:     rule,
		}
		return InstallSteps{remove, kill}, nil
	}
	for _, line := range current {
		if extractRulePath(line.Text) == exePath {
			commentOut := &commentOutRule{crontab: c.crontab, user: runAs, rule: line}
			return InstallSteps{commentOut, kill}, nil
		}
	}
	return InstallSteps{kill}, nil
}

// crontabRollbackImpossible is returned as the rollback of crontab
// mutations that cannot be undone, cron keeps no journal.
type crontabRollbackImpossible struct{}

func (crontabRollbackImpossible) Describe(t Tense) string {
	return "rollback of the crontab change is not possible, check the crontab manually"
}

func (crontabRollbackImpossible) Perform(ctx context.Context) error {
	return &RollbackError{Cause: fmt.Errorf("crontab changes cannot be rolled back, verify the crontab manually")}
}

// removeEntry rewrites the crontab without the given comment block and
// rule, verifying nothing changed since they were read.
func removeEntry(ctx context.Context, crontab CrontabClient, user string, comments []Line, rule Line) error {
	current, err := crontab.List(ctx, user)
	if err != nil {
		return err
	}
	kept, err := filterOut(current, comments, rule)
	if err != nil {
		return err
	}
	return crontab.Store(ctx, joinLines(kept), user)
}

// describeUser renders "<user>'s " or nothing for the invoking user.
func describeUser(user string) string {
	if user == "" {
		return ""
	}
	return user + "'s "
}

// describeLines renders lines for detailed step descriptions.
func describeLines(lines []Line) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("\n|\t" + line.String())
	}
	return b.String()
}

// removePreviousEntry removes the entry a previous install left behind,
// performed as an install step before appending the new entry.
type removePreviousEntry struct {
	crontab  CrontabClient
	user     string
	comments []Line
	rule     Line
}

func (s *removePreviousEntry) Describe(t Tense) string {
	verb := t.pick("Removed", "Remove", "Will remove", "Removing")
	return fmt.Sprintf("%s comment and rule from previous installation from %scrontab", verb, describeUser(s.user))
}

func (s *removePreviousEntry) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("%s:\n| comment:%s\n| rule:\n|\t%s",
		s.Describe(t), describeLines(s.comments), s.rule)
}

func (s *removePreviousEntry) Perform(ctx context.Context) (RollbackStep, error) {
	if err := removeEntry(ctx, s.crontab, s.user, s.comments, s.rule); err != nil {
		return nil, err
	}
	return crontabRollbackImpossible{}, nil
}

// appendEntry appends the landmark comment and rule to the crontab.
type appendEntry struct {
	crontab CrontabClient
	user    string
	comment string
	rule    string
}

func (s *appendEntry) Describe(t Tense) string {
	verb := t.pick("Appended", "Append", "Will append", "Appending")
	return fmt.Sprintf("%s comment and rule to %scrontab", verb, describeUser(s.user))
}

func (s *appendEntry) DescribeDetailed(t Tense) string {
	comment := strings.ReplaceAll(s.comment, "\n", "\n|\t")
	return fmt.Sprintf("%s:\n| comment:\n|\t%s\n| rule:\n|\t%s", s.Describe(t), comment, s.rule)
}

func (s *appendEntry) Perform(ctx context.Context) (RollbackStep, error) {
	current, err := s.crontab.List(ctx, s.user)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(current)+2)
	for _, line := range current {
		texts = append(texts, line.Text)
	}
	texts = append(texts, s.comment, s.rule)
	if err := s.crontab.Store(ctx, joinLines(texts), s.user); err != nil {
		return nil, err
	}
	return crontabRollbackImpossible{}, nil
}

// removeInstalledEntry removes the entry during uninstall.
type removeInstalledEntry struct {
	crontab  CrontabClient
	user     string
	comments []Line
	rule     Line
}

func (s *removeInstalledEntry) Describe(t Tense) string {
	verb := t.pick("Removed", "Remove", "Will remove", "Removing")
	return fmt.Sprintf("%s the installs comment and rule from %scrontab", verb, describeUser(s.user))
}

func (s *removeInstalledEntry) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("%s:\n| comment:%s\n| rule:\n|\t%s",
		s.Describe(t), describeLines(s.comments), s.rule)
}

func (s *removeInstalledEntry) Perform(ctx context.Context) error {
	return removeEntry(ctx, s.crontab, s.user, s.comments, s.rule)
}

// commentOutRule disables a foreign cron rule that keeps the install
// target running. It only prefixes the rule with "# " so the rollback can
// restore it exactly.
type commentOutRule struct {
	crontab CrontabClient
	user    string
	rule    Line
}

func (s *commentOutRule) Describe(t Tense) string {
	verb := t.pick("Commented out", "Comment out", "Will comment out", "Commenting out")
	return fmt.Sprintf("%s a cron rule that is preventing the installation", verb)
}

func (s *commentOutRule) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("%s\n| rule:\n|\t%s", s.Describe(t), s.rule)
}

func (s *commentOutRule) Perform(ctx context.Context) (RollbackStep, error) {
	commented := Line{Pos: s.rule.Pos, Text: "# " + s.rule.Text}
	if err := replaceLine(ctx, s.crontab, s.user, s.rule, commented.Text); err != nil {
		return nil, err
	}
	return &uncommentRule{
		crontab:   s.crontab,
		user:      s.user,
		commented: commented,
		original:  s.rule,
	}, nil
}

// uncommentRule restores a rule commentOutRule disabled.
type uncommentRule struct {
	crontab   CrontabClient
	user      string
	commented Line
	original  Line
}

func (s *uncommentRule) Describe(t Tense) string {
	verb := t.pick("Uncommented", "Uncomment", "Will uncomment", "Uncommenting")
	return fmt.Sprintf("%s a cron rule that was commented out as it prevented the installation", verb)
}

func (s *uncommentRule) Perform(ctx context.Context) error {
	if err := replaceLine(ctx, s.crontab, s.user, s.commented, s.original.Text); err != nil {
		return &RollbackError{Cause: err}
	}
	return nil
}

// replaceLine rewrites the crontab with want's text replaced. The line
// must still read exactly as recorded, otherwise the write aborts with
// ErrCrontabChanged.
func replaceLine(ctx context.Context, crontab CrontabClient, user string, want Line, newText string) error {
	current, err := crontab.List(ctx, user)
	if err != nil {
		return err
	}
	texts := make([]string, 0, len(current))
	replaced := false
	for _, line := range current {
		if line.Pos == want.Pos {
			if line.Text != want.Text {
				return ErrCrontabChanged
			}
			texts = append(texts, newText)
			replaced = true
			continue
		}
		texts = append(texts, line.Text)
	}
	if !replaced {
		return ErrCrontabChanged
	}
	return crontab.Store(ctx, joinLines(texts), user)
}
