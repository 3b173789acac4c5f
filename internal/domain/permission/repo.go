package permission

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for permissions and roles.
type Repository interface {
	UpsertPermission(ctx context.Context, p *Permission) error
	ListPermissions(ctx context.Context) ([]*Permission, error)

	CreateRole(ctx context.Context, r *Role) error
	// UpsertSystemRole creates the role or marks an existing one as system.
	UpsertSystemRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRoleByExternalID(ctx context.Context, id uuid.UUID) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id int64) error
	ListRoles(ctx context.Context, limit, offset int) ([]*Role, int, error)

	// RolePermissions returns the permission slugs bound to a role.
	RolePermissions(ctx context.Context, roleID int64) ([]string, error)
	// AddRolePermissions binds slugs to a role, keeping existing bindings.
	AddRolePermissions(ctx context.Context, roleID int64, slugs []string) error
	// ReplaceRolePermissions makes slugs the exact permission set of a role.
	ReplaceRolePermissions(ctx context.Context, roleID int64, slugs []string) error
	// RolesGranting returns every role bound to any of slugs.
	RolesGranting(ctx context.Context, slugs []string) ([]int64, error)
}
