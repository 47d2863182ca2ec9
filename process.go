package svcinstall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Process is one row of a process table snapshot.
type Process struct {
	Pid       int
	ParentPid int
	// Exe is the resolved executable path, empty when unreadable
	Exe string
	// Cmdline is the process's argument vector
	Cmdline []string
}

// ProcessTable provides process table snapshots. The production
// implementation reads /proc, tests swap in a fixed table.
type ProcessTable interface {
	// Snapshot returns all processes visible right now
	Snapshot(ctx context.Context) ([]Process, error)
	// Alive reports whether a process with the given pid exists
	Alive(pid int) bool
}

// ProcTable reads the process table from a proc filesystem.
type ProcTable struct {
	// Root is the proc mount point, defaults to /proc when empty
	Root string
}

func (t ProcTable) root() string {
	if t.Root == "" {
		return "/proc"
	}
	return t.Root
}

func (t ProcTable) Snapshot(ctx context.Context) ([]Process, error) {
	entries, err := os.ReadDir(t.root())
	if err != nil {
		return nil, &OpError{Op: "read", Path: t.root(), Err: err}
	}
	var procs []Process
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		// processes may exit while we scan, skip the ones that did
		proc, err := t.read(pid)
		if err != nil {
			continue
		}
		procs = append(procs, proc)
	}
	return procs, nil
}

// read assembles one Process from its proc directory.
func (t ProcTable) read(pid int) (Process, error) {
	dir := filepath.Join(t.root(), strconv.Itoa(pid))
	stat, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return Process{}, err
	}
	ppid, err := parentFromStat(string(stat))
	if err != nil {
		return Process{}, err
	}

	proc := Process{Pid: pid, ParentPid: ppid}
	// exe is a symlink we may lack permission to resolve
	if exe, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		proc.Exe = exe
	}
	if raw, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
		proc.Cmdline = splitCmdline(raw)
	}
	return proc, nil
}

// parentFromStat pulls the parent pid out of a proc stat line. The comm
// field may contain spaces and parentheses, fields are counted from the
// last closing parenthesis.
func parentFromStat(stat string) (int, error) {
	end := strings.LastIndexByte(stat, ')')
	if end < 0 || end+2 > len(stat) {
		return 0, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(stat[end+1:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat line")
	}
	return strconv.Atoi(fields[1])
}

// splitCmdline splits the NUL separated argument vector.
func splitCmdline(raw []byte) []string {
	trimmed := strings.TrimRight(string(raw), "\x00")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\x00")
}

func (t ProcTable) Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// ProcessIdentity is a process found executing the install target,
// together with its classified ancestry.
type ProcessIdentity struct {
	// Pid is the running process
	Pid int
	// Ancestors holds the resolved executable paths of the process's
	// ancestors, nearest first. Empty means the process is orphaned.
	Ancestors []string
	// Init is the recognized init system among the ancestors, nil when
	// none matched.
	Init InitSystem
}

// identifyRunning finds every process whose executable is target, keeping
// only the root of each such subtree, and classifies its ancestry against
// the candidate init systems.
func identifyRunning(ctx context.Context, table ProcessTable, target string, inits []InitSystem) ([]ProcessIdentity, error) {
	procs, err := table.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	byPid := make(map[int]Process, len(procs))
	for _, proc := range procs {
		byPid[proc.Pid] = proc
	}

	usingTarget := make(map[int]Process)
	for _, proc := range procs {
		if proc.Exe == target {
			usingTarget[proc.Pid] = proc
		}
	}

	var identities []ProcessIdentity
	for _, proc := range procs {
		if proc.Exe != target {
			continue
		}
		if _, parentAlsoUsesTarget := usingTarget[proc.ParentPid]; parentAlsoUsesTarget {
			continue
		}
		identity := ProcessIdentity{Pid: proc.Pid}
		for current := proc; ; {
			parent, ok := byPid[current.ParentPid]
			if !ok || current.ParentPid == 0 {
				break
			}
			path := parent.Exe
			if path == "" && len(parent.Cmdline) > 0 {
				path = parent.Cmdline[0]
			}
			identity.Ancestors = append(identity.Ancestors, path)
			current = parent
		}
		for _, ancestor := range identity.Ancestors {
			for _, init := range inits {
				if init.IsInitPath(ancestor) {
					identity.Init = init
					break
				}
			}
			if identity.Init != nil {
				break
			}
		}
		identities = append(identities, identity)
	}
	return identities, nil
}

// escalateInterval is the pause between trying the next stronger signal.
const escalateInterval = 200 * time.Millisecond

// killStep stops a process that keeps the install target busy by sending
// increasingly drastic signals until it disappears from the process table.
type killStep struct {
	pid   int
	table ProcessTable
}

func (s *killStep) Describe(t Tense) string {
	verb := t.pick("Stopped", "Stop", "Will stop", "Stopping")
	return fmt.Sprintf("%s the running process with pid: %d", verb, s.pid)
}

func (s *killStep) DescribeDetailed(t Tense) string {
	verb := t.pick("Stopped", "Stop", "Will stop", "Stopping")
	return fmt.Sprintf("%s the running process with pid: %d\n| using signal:\n|\t- Stop\n| if that does not work:\n|\t- Kill\n| and if that fails:\n|\t- Abort", verb, s.pid)
}

func (s *killStep) Perform(ctx context.Context) (RollbackStep, error) {
	signals := []unix.Signal{unix.SIGSTOP, unix.SIGKILL, unix.SIGABRT}
	for _, signal := range signals {
		if !s.table.Alive(s.pid) {
			return nil, nil
		}
		if err := unix.Kill(s.pid, signal); err != nil && err != unix.ESRCH {
			return nil, &OpError{Op: "kill", Path: strconv.Itoa(s.pid), Err: err}
		}
		if err := sleepCtx(ctx, escalateInterval); err != nil {
			return nil, err
		}
	}
	// all signals sent, give the process a bounded amount of time to go
	for i := 0; i < 10; i++ {
		if !s.table.Alive(s.pid) {
			return nil, nil
		}
		if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
			return nil, err
		}
	}
	if !s.table.Alive(s.pid) {
		return nil, nil
	}
	return nil, ErrCouldNotStop
}

// runningNotice informs the user the executable about to be replaced is
// currently running. It changes nothing.
type runningNotice struct {
	parents []string
}

func (n *runningNotice) isNotification() bool { return true }

func (n *runningNotice) Describe(t Tense) string {
	if t == TensePast {
		return "the executable replaced was running"
	}
	return "the to be replaced executable is running"
}

func (n *runningNotice) DescribeDetailed(t Tense) string {
	return fmt.Sprintf("%s, it was started by:\n|\t- %s",
		n.Describe(t), strings.Join(n.parents, "\n|\t- "))
}

func (n *runningNotice) Perform(ctx context.Context) (RollbackStep, error) {
	return nil, nil
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
