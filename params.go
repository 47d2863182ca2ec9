package svcinstall

import "fmt"

// Mode selects whether the install targets the invoking user only or the
// whole system. It determines the install directory, the unit directory
// and whether elevated privilege is required.
type Mode int

const (
	// ModeUser installs for the invoking user only
	ModeUser Mode = iota
	// ModeSystem installs for the whole machine, needs root
	ModeSystem
)

// String returns the mode's name
func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "user"
	case ModeSystem:
		return "system"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// IsUser reports whether the mode targets the invoking user only
func (m Mode) IsUser() bool {
	return m == ModeUser
}

// Schedule is a daily time of day, local time, second precision.
type Schedule struct {
	Hour   int
	Minute int
	Second int
}

// Daily returns a schedule firing every day at the given local time.
func Daily(hour, minute, second int) Schedule {
	return Schedule{Hour: hour, Minute: minute, Second: second}
}

// TriggerKind says what starts the installed program.
type TriggerKind int

const (
	// TriggerOnBoot starts the program when the machine (or the user
	// session) comes up
	TriggerOnBoot TriggerKind = iota
	// TriggerOnSchedule starts the program on a daily schedule
	TriggerOnSchedule
)

// Trigger is the condition that starts the installed program.
type Trigger struct {
	Kind     TriggerKind
	Schedule Schedule
}

// OnBoot returns a trigger firing at boot or session start.
func OnBoot() Trigger {
	return Trigger{Kind: TriggerOnBoot}
}

// OnSchedule returns a trigger firing daily at the given time.
func OnSchedule(s Schedule) Trigger {
	return Trigger{Kind: TriggerOnSchedule, Schedule: s}
}

// Params bundles everything an init system backend needs to set up an
// installation. Built by Spec.PrepareInstall after the executable's final
// location is known, immutable from then on.
type Params struct {
	// Name is the service name
	Name string
	// BinName identifies the managing binary in landmark comments
	BinName string
	// Description is the human readable service description, empty
	// means a default is derived from Name
	Description string

	// ExePath is the executable's path after placement
	ExePath string
	// ExeArgs are passed to the executable on start
	ExeArgs []string
	// WorkingDir is the directory to start in, empty means unset
	WorkingDir string
	// Environment holds variables set for the service, keys must not
	// contain '='
	Environment map[string]string

	// Trigger says when the service runs
	Trigger Trigger
	// RunAs is the user the service runs as, empty means the invoking
	// user
	RunAs string
	// Mode is user or system wide
	Mode Mode
}

// description returns the configured description or a default derived
// from the service name.
func (p *Params) description() string {
	if p.Description != "" {
		return p.Description
	}
	return "starts " + p.Name
}
