package auth

import "strings"

// Role is the closed set of account roles. Authorization decisions switch
// on this type; raw strings from the wire are parsed exactly once.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func ParseRole(v string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(v))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleTeacher:
		return RoleTeacher, true
	case RoleStudent:
		return RoleStudent, true
	default:
		return "", false
	}
}

func (r Role) String() string { return string(r) }

// Satisfies reports whether the role meets a requirement for any of the
// given roles. Admin passes every check.
func (r Role) Satisfies(required ...Role) bool {
	if r == RoleAdmin {
		return true
	}
	for _, req := range required {
		if r == req {
			return true
		}
	}
	return false
}

// IsStaff reports whether the role may manage content (questions, exams,
// materials).
func (r Role) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleTeacher:
		return true
	case RoleStudent:
		return false
	default:
		return false
	}
}
