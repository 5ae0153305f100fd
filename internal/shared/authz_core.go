package shared

// Core platform permissions.
const (
	PermRolesView = "roles.view"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermRolesView,
	}
}
