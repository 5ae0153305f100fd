package rbac

// Role names carried on bearer tokens.
const (
	RoleAdmin      = "admin"
	RoleWarehouse  = "warehouse"
	RoleTechnician = "technician"
	RoleViewer     = "viewer"
)

// Role represents a high-level permission grouping.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}
