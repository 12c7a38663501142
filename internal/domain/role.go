package domain

// Roles assigned to accounts. Registration always yields RoleUser.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
