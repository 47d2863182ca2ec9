// Package svcinstall installs an executable as an OS-managed background
// service and can later find and cleanly remove that installation again.
//
// The library copies the binary to a well known location (user or system
// wide), then registers it with the first init system that is available on
// the host: systemd or cron. Registration means writing unit files or
// appending a crontab rule, marked with a landmark comment so the exact
// entry can be recognized and removed later.
//
// The core abstraction is the step. Preparing an install or removal does
// not touch the system; it returns an ordered list of steps:
//
//	spec := svcinstall.NewUserSpec("myapp").
//	    Path("target/release/myapp").
//	    ServiceName("myapp").
//	    OnBoot()
//
//	steps, err := spec.PrepareInstall(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, rollback, err := steps.Install(context.Background())
//
// Each step can describe itself in past, present, future or active tense,
// which makes it easy to build confirmation wizards on top. Every install
// step that changes the system hands back a rollback step; the collected
// rollback list can be unwound (in reverse) when a later step fails.
//
// # Safety Against Concurrent Edits
//
// The crontab is a shared resource. Before rewriting it the library
// re-reads the current content and verifies that every line it is about to
// touch still has identical text at its recorded position. A manual edit
// made in between aborts the write with ErrCrontabChanged instead of
// silently clobbering it.
//
// # Design Philosophy
//
// This library prioritizes:
//
//   - Steps that are described before they are performed
//   - Best-effort rollback of partial installs
//   - Detection (not prevention) of concurrent external edits
//   - Context-aware operations with bounded polling timeouts
//   - Type safety (typed errors for every failure class)
//
// Steps are performed strictly in sequence: later steps assume the
// filesystem, crontab and unit-directory state left behind by earlier ones.
package svcinstall
