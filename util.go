package svcinstall

import (
	"errors"
	"os"
	"os/user"

	"golang.org/x/sys/unix"
)

// ErrNoHome indicates the invoking user's home directory is unknown, so no
// user mode install location can be resolved.
var ErrNoHome = errors.New("svcinstall: home directory not known")

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", ErrNoHome
	}
	return home, nil
}

// userExists reports whether name is a known user on this machine.
func userExists(name string) (bool, error) {
	_, err := user.Lookup(name)
	var unknown user.UnknownUserError
	if errors.As(err, &unknown) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func isRoot() bool {
	return unix.Geteuid() == 0
}
