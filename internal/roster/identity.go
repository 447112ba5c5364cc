package roster

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Role is the privilege class of a logged-in person.
type Role string

const (
	// RoleFrontDesk may reset the roster and upload reports, but does not
	// take credit for cleaning and may not operate common areas.
	RoleFrontDesk Role = "front_desk"
	// RoleHousekeeping records cleaning work.
	RoleHousekeeping Role = "housekeeping"
)

const maxNameLen = 64

// ErrInvalidIdentity is returned for an unusable name or role.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the person operating a device.
type Identity struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// NewIdentity validates and trims a login.
func NewIdentity(name string, role Role) (Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Identity{}, fmt.Errorf("%w: name is required", ErrInvalidIdentity)
	}
	if !utf8.ValidString(name) || utf8.RuneCountInString(name) > maxNameLen {
		return Identity{}, fmt.Errorf("%w: name must be valid text of at most %d characters", ErrInvalidIdentity, maxNameLen)
	}
	if role == "" {
		role = RoleHousekeeping
	}
	if role != RoleFrontDesk && role != RoleHousekeeping {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, role)
	}
	return Identity{Name: name, Role: role}, nil
}

// Privileged reports whether the identity holds the front desk role.
func (i Identity) Privileged() bool {
	return i.Role == RoleFrontDesk
}

// IsZero reports whether nobody is logged in.
func (i Identity) IsZero() bool {
	return i.Name == ""
}
