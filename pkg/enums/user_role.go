package enums

// UserRole is the platform-level role of a user account.
type UserRole string

const (
	UserRoleMember  UserRole = "member"
	UserRoleCreator UserRole = "creator"
	UserRoleAdmin   UserRole = "admin"
)

// String implements fmt.Stringer.
func (r UserRole) String() string {
	return string(r)
}

// CanReceiveProductCores reports whether the role may receive cores for a
// catalog product redemption. Direct core purchases are open to every role.
func (r UserRole) CanReceiveProductCores() bool {
	return r == UserRoleCreator || r == UserRoleAdmin
}
