package valueset

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

type valuesetRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &valuesetRepoPG{pool: pool}
}

const valuesetColumns = `id, external_id, slug, name, description, compose, status, is_system_defined,
	created_at, updated_at`

func scanValueSet(row pgx.Row) (*ValueSet, error) {
	var v ValueSet
	err := row.Scan(&v.ID, &v.ExternalID, &v.Slug, &v.Name, &v.Description, &v.Compose, &v.Status,
		&v.IsSystemDefined, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("valueset")
		}
		return nil, err
	}
	return &v, nil
}

func (r *valuesetRepoPG) Create(ctx context.Context, v *ValueSet) error {
	if v.ExternalID == uuid.Nil {
		v.ExternalID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO valueset (external_id, slug, name, description, compose, status, is_system_defined)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		v.ExternalID, v.Slug, v.Name, v.Description, v.Compose, v.Status, v.IsSystemDefined,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("Valueset with this slug already exists")
	}
	return err
}

func (r *valuesetRepoPG) GetBySlug(ctx context.Context, slug string) (*ValueSet, error) {
	return scanValueSet(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+valuesetColumns+` FROM valueset WHERE slug = $1`, slug))
}

func (r *valuesetRepoPG) Update(ctx context.Context, v *ValueSet) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE valueset SET name = $2, description = $3, compose = $4, status = $5,
			is_system_defined = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.Name, v.Description, v.Compose, v.Status, v.IsSystemDefined,
	).Scan(&v.UpdatedAt)
}

func (r *valuesetRepoPG) List(ctx context.Context, search string, limit, offset int) ([]*ValueSet, int, error) {
	const where = ` WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR slug ILIKE '%' || $1 || '%')`
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM valueset`+where, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+valuesetColumns+` FROM valueset`+where+` ORDER BY slug LIMIT $2 OFFSET $3`, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*ValueSet
	for rows.Next() {
		v, err := scanValueSet(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}
