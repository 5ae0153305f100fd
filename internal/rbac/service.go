package rbac

import (
	"context"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Service resolves permissions from a static role table.
type Service struct {
	roles map[string]Role
}

// NewService constructs a Service with the default role table.
func NewService() *Service {
	return NewServiceWithRoles(DefaultRoles())
}

// NewServiceWithRoles constructs a Service from roles.
func NewServiceWithRoles(roles []Role) *Service {
	table := make(map[string]Role, len(roles))
	for _, role := range roles {
		role.Permissions = normalizePermissions(role.Permissions)
		table[strings.ToLower(role.Name)] = role
	}
	return &Service{roles: table}
}

// DefaultRoles returns the built-in grants.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        RoleAdmin,
			Description: "Full access to the stock core",
			Permissions: concat(shared.StockScopes(), shared.DocumentScopes(), shared.MasterDataScopes(), shared.CoreScopes()),
		},
		{
			Name:        RoleWarehouse,
			Description: "Ledger, reservations and delivery notes",
			Permissions: concat(shared.StockScopes(), shared.ViewScopes(), []string{
				shared.PermDeliveryNoteCreate,
				shared.PermDeliveryNoteEdit,
				shared.PermDeliveryNoteShip,
				shared.PermDeliveryNoteDeliver,
			}),
		},
		{
			Name:        RoleTechnician,
			Description: "Service forms and vehicle stock lookups",
			Permissions: concat(shared.ViewScopes(), []string{
				shared.PermServiceFormEdit,
				shared.PermServiceFormComplete,
			}),
		},
		{
			Name:        RoleViewer,
			Description: "Read-only access",
			Permissions: shared.ViewScopes(),
		},
	}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	roles := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// EffectivePermissions returns the permissions granted to actor's role.
func (s *Service) EffectivePermissions(ctx context.Context, actor shared.Actor) ([]string, error) {
	role, ok := s.roles[strings.ToLower(strings.TrimSpace(actor.Role))]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), role.Permissions...), nil
}

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
