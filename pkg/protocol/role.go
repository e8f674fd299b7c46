package protocol

import (
	"fmt"
	"strings"
)

// Role is the replication role a process is running.
type Role string

const (
	RoleHost  Role = "HOST"  // Owns the session state and accepts commands.
	RoleSlave Role = "SLAVE" // Displays snapshots and forwards commands.
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleSlave:
		return true
	default:
		return false
	}
}

// ParseRole accepts a role name in any letter case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// ModeReply formats the discovery reply announcing r.
func ModeReply(r Role) string {
	return ModePrefix + string(r)
}

// ParseMode extracts the role from a discovery reply such as "MODE:HOST".
func ParseMode(reply string) (Role, error) {
	reply = strings.TrimSpace(reply)
	rest, ok := strings.CutPrefix(reply, ModePrefix)
	if !ok {
		return "", fmt.Errorf("malformed mode reply %q", reply)
	}
	r := Role(rest)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role in mode reply %q", reply)
	}
	return r, nil
}
