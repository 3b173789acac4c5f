package permission

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) UpsertPermission(ctx context.Context, p *Permission) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO permission (slug, name, description, context)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name,
			description = EXCLUDED.description, context = EXCLUDED.context
		RETURNING id`,
		p.Slug, p.Name, p.Description, p.Context,
	).Scan(&p.ID)
}

func (r *repoPG) ListPermissions(ctx context.Context) ([]*Permission, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT id, slug, name, description, context FROM permission ORDER BY context, slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Context); err != nil {
			return nil, err
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

const roleColumns = `id, external_id, name, description, is_system, created_at, updated_at`

func scanRole(row pgx.Row) (*Role, error) {
	var ro Role
	err := row.Scan(&ro.ID, &ro.ExternalID, &ro.Name, &ro.Description, &ro.IsSystem, &ro.CreatedAt, &ro.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("role")
		}
		return nil, err
	}
	return &ro, nil
}

func (r *repoPG) CreateRole(ctx context.Context, ro *Role) error {
	if ro.ExternalID == uuid.Nil {
		ro.ExternalID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO role (external_id, name, description, is_system)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		ro.ExternalID, ro.Name, ro.Description, ro.IsSystem,
	).Scan(&ro.ID, &ro.CreatedAt, &ro.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("a role with this name already exists")
	}
	return err
}

func (r *repoPG) UpsertSystemRole(ctx context.Context, ro *Role) error {
	if ro.ExternalID == uuid.Nil {
		ro.ExternalID = uuid.New()
	}
	ro.IsSystem = true
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO role (external_id, name, description, is_system)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description,
			is_system = TRUE, updated_at = NOW()
		RETURNING id, external_id, created_at, updated_at`,
		ro.ExternalID, ro.Name, ro.Description,
	).Scan(&ro.ID, &ro.ExternalID, &ro.CreatedAt, &ro.UpdatedAt)
}

func (r *repoPG) GetRole(ctx context.Context, id int64) (*Role, error) {
	return scanRole(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+` FROM role WHERE id = $1`, id))
}

func (r *repoPG) GetRoleByExternalID(ctx context.Context, id uuid.UUID) (*Role, error) {
	return scanRole(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+` FROM role WHERE external_id = $1`, id))
}

func (r *repoPG) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+` FROM role WHERE name = $1`, name))
}

func (r *repoPG) UpdateRole(ctx context.Context, ro *Role) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE role SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`,
		ro.ID, ro.Name, ro.Description)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("a role with this name already exists")
	}
	return err
}

func (r *repoPG) DeleteRole(ctx context.Context, id int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM role WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Conflict("role is still assigned to users")
	}
	return err
}

func (r *repoPG) ListRoles(ctx context.Context, limit, offset int) ([]*Role, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM role`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+roleColumns+` FROM role ORDER BY is_system DESC, name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		ro, err := scanRole(rows)
		if err != nil {
			return nil, 0, err
		}
		roles = append(roles, ro)
	}
	return roles, total, rows.Err()
}

func (r *repoPG) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT p.slug FROM role_permission rp
		JOIN permission p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 ORDER BY p.slug`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repoPG) AddRolePermissions(ctx context.Context, roleID int64, slugs []string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO role_permission (role_id, permission_id)
		SELECT $1, id FROM permission WHERE slug = ANY($2)
		ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, slugs)
	return err
}

func (r *repoPG) ReplaceRolePermissions(ctx context.Context, roleID int64, slugs []string) error {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `
		DELETE FROM role_permission rp USING permission p
		WHERE rp.permission_id = p.id AND rp.role_id = $1 AND NOT (p.slug = ANY($2))`,
		roleID, slugs); err != nil {
		return err
	}
	return r.AddRolePermissions(ctx, roleID, slugs)
}

func (r *repoPG) RolesGranting(ctx context.Context, slugs []string) ([]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT DISTINCT rp.role_id FROM role_permission rp
		JOIN permission p ON p.id = rp.permission_id
		WHERE p.slug = ANY($1)`, slugs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
