package profile

import (
	"errors"
	"fmt"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid profile name")

const maxNameLen = 64

// ValidateName checks that name can serve as a directory under profiles/
// and be passed to --profile: lowercase letters, digits, '-' and '_', at
// most 64 bytes, not starting with '-'.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w %q: longer than %d characters", ErrInvalidName, name, maxNameLen)
	case name[0] == '-':
		return fmt.Errorf("%w %q: starts with '-'", ErrInvalidName, name)
	}
	for _, r := range name {
		if !validNameRune(r) {
			return fmt.Errorf("%w %q: %q not allowed, use a-z, 0-9, '-' or '_'", ErrInvalidName, name, r)
		}
	}
	return nil
}

func validNameRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}
