package domain

// Actor identifies the caller of an operation.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor holds the administrative override.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
