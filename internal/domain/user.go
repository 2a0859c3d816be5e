package domain

import "time"

// Role enumerates the platform roles carried in identity tokens.
type Role string

const (
	RoleStudent       Role = "student"
	RoleCounselor     Role = "counselor"
	RolePeerCounselor Role = "peer_counselor"
	RoleAdmin         Role = "admin"
)

// CounselorRoles lists roles allowed to take tickets and hold bookings.
var CounselorRoles = []Role{RoleCounselor, RolePeerCounselor}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleCounselor, RolePeerCounselor, RoleAdmin:
		return true
	}
	return false
}

// IsCounselor is true for professional and peer counselors.
func (r Role) IsCounselor() bool {
	return r == RoleCounselor || r == RolePeerCounselor
}

// User is the read model of an account managed by the identity system.
type User struct {
	ID        string
	Username  string
	FullName  string
	Email     string
	Role      Role
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor returns the identity used for authorization decisions.
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Role: u.Role}
}
