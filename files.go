package svcinstall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Errors resolving the install directory
var (
	// ErrUserDirNotAvailable indicates none of the usual directories
	// for user binaries exist
	ErrUserDirNotAvailable = errors.New("svcinstall: no usual dir for user binaries exists")

	// ErrSystemDirNotAvailable indicates none of the usual directories
	// for system binaries exist
	ErrSystemDirNotAvailable = errors.New("svcinstall: no usual dir for system binaries exists")

	// ErrSourceNotFile indicates the source path does not point to a
	// file
	ErrSourceNotFile = errors.New("svcinstall: source path does not point to a file")
)

// OrphanProcessError indicates the file at the install location is being
// run by a process without any resolvable parent. There is no information
// on how it was started, so it cannot be safely disabled or replaced.
type OrphanProcessError struct {
	// Pid is the orphaned process
	Pid int
	// Path is the install location it keeps busy
	Path string
}

func (e *OrphanProcessError) Error() string {
	return fmt.Sprintf("file at install location %q is run by orphaned process %d, cannot safely replace it", e.Path, e.Pid)
}

// currentExe resolves the path of the running binary, swapped in tests.
var currentExe = os.Executable

// installDir resolves the directory the executable is placed in. Only the
// most common locations are considered.
func installDir(mode Mode) (string, error) {
	if mode == ModeSystem {
		dir := "/usr/bin"
		if info, err := os.Stat(filepath.Dir(dir)); err != nil || !info.IsDir() {
			return "", ErrSystemDirNotAvailable
		}
		return dir, nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local/bin")
	if info, err := os.Stat(filepath.Dir(dir)); err != nil || !info.IsDir() {
		return "", ErrUserDirNotAvailable
	}
	return dir, nil
}

// placeFiles builds the steps that put the executable at its install
// location and returns that location. Installing the binary that already
// sits at the target is a no-op. A foreign file at the target is only
// replaced when overwrite is set, and whatever runs it is disabled or
// stopped first.
func placeFiles(ctx context.Context, source string, mode Mode, runAs string, overwrite bool, inits []InitSystem, table ProcessTable) (InstallSteps, string, error) {
	info, err := os.Stat(source)
	if err != nil || info.IsDir() {
		return nil, "", ErrSourceNotFile
	}
	dir, err := installDir(mode)
	if err != nil {
		return nil, "", err
	}
	target := filepath.Join(dir, filepath.Base(source))

	targetInfo, statErr := os.Stat(target)
	targetIsFile := statErr == nil && !targetInfo.IsDir()

	if targetIsFile {
		current, err := currentExe()
		if err != nil {
			return nil, "", &OpError{Op: "resolve current exe", Path: source, Err: err}
		}
		if current == target {
			return InstallSteps{&alreadyInstalledNotice{target: target}}, target, nil
		}
		if !overwrite {
			return nil, "", &TargetExistsError{Path: target}
		}
	}

	var steps InstallSteps
	if targetIsFile && targetInfo.Mode().Perm()&0o200 == 0 {
		steps = append(steps, &makeWritableStep{path: target, original: targetInfo.Mode().Perm()})
	}

	disable, err := disableIfRunning(ctx, target, mode, runAs, inits, table)
	if err != nil {
		return nil, "", err
	}
	steps = append(steps, disable...)

	steps = append(steps,
		&copyExeStep{source: source, target: target, targetExists: targetIsFile},
		&makeReadExecOnlyStep{path: target},
	)
	if mode == ModeSystem {
		steps = append(steps, &chownRootStep{path: target})
	}
	return steps, target, nil
}

// disableIfRunning splices in the steps that free the target path when a
// process is executing it. A process whose ancestry leads to a recognized
// init system is disabled through it, anything else is stopped directly.
func disableIfRunning(ctx context.Context, target string, mode Mode, runAs string, inits []InitSystem, table ProcessTable) (InstallSteps, error) {
	identities, err := identifyRunning(ctx, table, target, inits)
	if err != nil {
		return nil, err
	}
	var steps InstallSteps
	for _, identity := range identities {
		switch {
		case identity.Init != nil:
			disable, err := identity.Init.DisableSteps(ctx, target, identity.Pid, mode, runAs)
			if err != nil {
				return nil, err
			}
			steps = append(steps, disable...)
		case len(identity.Ancestors) == 0:
			return nil, &OrphanProcessError{Pid: identity.Pid, Path: target}
		default:
			steps = append(steps,
				&runningNotice{parents: identity.Ancestors},
				&killStep{pid: identity.Pid, table: table},
			)
		}
	}
	return steps, nil
}

// alreadyInstalledNotice tells the user the running binary already sits at
// the install location. Nothing to do.
type alreadyInstalledNotice struct {
	target string
}

func (n *alreadyInstalledNotice) isNotification() bool { return true }

func (n *alreadyInstalledNotice) Describe(t Tense) string {
	if t == TensePast {
		return "this binary was already installed at the target location"
	}
	return "this binary is already installed at the target location"
}

func (n *alreadyInstalledNotice) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("%s\n| target location:\n|\t%s", n.Describe(t), n.target)
}

func (n *alreadyInstalledNotice) Perform(ctx context.Context) (RollbackStep, error) {
	return nil, nil
}

// makeWritableStep lifts the read-only bits from a file occupying the
// install location so it can be replaced.
type makeWritableStep struct {
	path     string
	original os.FileMode
}

func (s *makeWritableStep) Describe(t Tense) string {
	verb := t.pick("Made", "Make", "Will make", "Making")
	return fmt.Sprintf("%s the file taking up the install location removable", verb)
}

func (s *makeWritableStep) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("A read only file is taking up the install location. %s\n| file:\n|\t%s", s.Describe(t), s.path)
}

func (s *makeWritableStep) Perform(ctx context.Context) (RollbackStep, error) {
	if err := os.Chmod(s.path, 0o600); err != nil {
		return nil, &OpError{Op: "chmod", Path: s.path, Err: err}
	}
	return &restorePermissions{path: s.path, original: s.original}, nil
}

// restorePermissions puts a file's previous permission bits back. The file
// being gone is fine, overwrite or the user may have removed it.
type restorePermissions struct {
	path     string
	original os.FileMode
}

func (s *restorePermissions) Describe(t Tense) string {
	verb := t.pick("Restored", "Restore", "Will restore", "Restoring")
	return fmt.Sprintf("%s the executables previous permissions", verb)
}

func (s *restorePermissions) Perform(ctx context.Context) error {
	err := os.Chmod(s.path, s.original)
	if err != nil && !os.IsNotExist(err) {
		return &RollbackError{Cause: err}
	}
	return nil
}

// copyExeStep copies the executable to the install location. When a file
// was there its bytes are backed up to a temporary file first so the
// rollback can restore them verbatim.
type copyExeStep struct {
	source       string
	target       string
	targetExists bool
}

func (s *copyExeStep) Describe(t Tense) string {
	verb := t.pick("Copied", "Copy", "Will copy", "Copying")
	return fmt.Sprintf("%s executable `%s` to:\n|\t%s",
		verb, filepath.Base(s.source), filepath.Dir(s.target))
}

func (s *copyExeStep) DescribeDetailed(t Tense) string {
	verb := t.pick("Copied", "Copy", "Will copy", "Copying")
	return fmt.Sprintf("%s executable `%s`\n| from:\n|\t%s\n| to:\n|\t%s",
		verb, filepath.Base(s.source), filepath.Dir(s.source), filepath.Dir(s.target))
}

func (s *copyExeStep) Perform(ctx context.Context) (RollbackStep, error) {
	var rollback RollbackStep
	if s.targetExists {
		original, err := os.ReadFile(s.target)
		if err != nil {
			return nil, &OpError{Op: "backup read", Path: s.target, Err: err}
		}
		backup, err := os.CreateTemp("", "svcinstall-backup-*")
		if err != nil {
			return nil, &OpError{Op: "backup create", Path: s.target, Err: err}
		}
		if _, err := backup.Write(original); err != nil {
			backup.Close()
			return nil, &OpError{Op: "backup write", Path: backup.Name(), Err: err}
		}
		backup.Close()
		rollback = &restoreBackup{backup: backup.Name(), target: s.target}
	} else {
		rollback = asRollback(&removeFileStep{path: s.target, what: "file at the install location"})
	}

	if err := copyFile(s.source, s.target); err != nil {
		return nil, err
	}
	return rollback, nil
}

func copyFile(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &OpError{Op: "create dir", Path: filepath.Dir(target), Err: err}
	}
	in, err := os.Open(source)
	if err != nil {
		return &OpError{Op: "open", Path: source, Err: err}
	}
	defer in.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return &OpError{Op: "create", Path: target, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &OpError{Op: "copy", Path: target, Err: err}
	}
	if err := out.Close(); err != nil {
		return &OpError{Op: "close", Path: target, Err: err}
	}
	return nil
}

// restoreBackup writes the backed up bytes back to the install location.
type restoreBackup struct {
	backup string
	target string
}

func (s *restoreBackup) Describe(t Tense) string {
	verb := t.pick("Moved", "Move", "Will move", "Moving")
	return fmt.Sprintf("%s back the file that was originally at the install location", verb)
}

func (s *restoreBackup) Perform(ctx context.Context) error {
	original, err := os.ReadFile(s.backup)
	if err != nil {
		return &RollbackError{Cause: err}
	}
	if err := os.WriteFile(s.target, original, 0o755); err != nil {
		return &RollbackError{Cause: err}
	}
	os.Remove(s.backup)
	return nil
}

// makeReadExecOnlyStep sets the installed executable to read and execute
// only.
type makeReadExecOnlyStep struct {
	path string
}

func (s *makeReadExecOnlyStep) Describe(t Tense) string {
	verb := t.pick("Made", "Make", "Will make", "Making")
	return fmt.Sprintf("%s the executable read and execute only", verb)
}

func (s *makeReadExecOnlyStep) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("%s\n| file:\n|\t%s", s.Describe(t), s.path)
}

func (s *makeReadExecOnlyStep) Perform(ctx context.Context) (RollbackStep, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, &OpError{Op: "stat", Path: s.path, Err: err}
	}
	if err := os.Chmod(s.path, 0o555); err != nil {
		return nil, &OpError{Op: "chmod", Path: s.path, Err: err}
	}
	return &restorePermissions{path: s.path, original: info.Mode().Perm()}, nil
}

// chownRootStep hands the installed executable to root. There is no
// rollback for this step, a failure later on leaves ownership changed.
type chownRootStep struct {
	path string
}

func (s *chownRootStep) Describe(t Tense) string {
	verb := t.pick("Set", "Set", "Will set", "Setting")
	return fmt.Sprintf("%s the executables owner to root", verb)
}

func (s *chownRootStep) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("%s\n| file:\n|\t%s", s.Describe(t), s.path)
}

func (s *chownRootStep) Perform(ctx context.Context) (RollbackStep, error) {
	if err := os.Chown(s.path, 0, 0); err != nil {
		return nil, &OpError{Op: "chown", Path: s.path, Err: err}
	}
	return nil, nil
}

// removeFileStep deletes a file, used to remove the installed executable
// and as the rollback of placing it somewhere new.
type removeFileStep struct {
	path string
	what string
}

func (s *removeFileStep) Describe(t Tense) string {
	verb := t.pick("Removed", "Remove", "Will remove", "Removing")
	return fmt.Sprintf("%s %s `%s`", verb, s.what, filepath.Base(s.path))
}

func (s *removeFileStep) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("%s\n| installed at:\n|\t%s", s.Describe(t), filepath.Dir(s.path))
}

func (s *removeFileStep) Perform(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil {
		return &OpError{Op: "remove", Path: s.path, Err: err}
	}
	return nil
}
