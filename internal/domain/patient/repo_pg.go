package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

const patientColumns = `p.id, p.external_id, p.name, p.gender, p.date_of_birth, p.phone_number, p.address,
	p.geo_organization_id, g.external_id, p.organization_cache, p.users_cache, p.created_by_id,
	p.created_at, p.updated_at`

const patientFrom = ` FROM patient p LEFT JOIN organization g ON g.id = p.geo_organization_id`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Gender, &p.DateOfBirth, &p.PhoneNumber, &p.Address,
		&p.GeoOrganizationID, &p.GeoOrganization, &p.OrganizationCache, &p.UsersCache, &p.CreatedByID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient")
		}
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ExternalID == uuid.Nil {
		p.ExternalID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (external_id, name, gender, date_of_birth, phone_number, address,
			geo_organization_id, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		p.ExternalID, p.Name, p.Gender, p.DateOfBirth, p.PhoneNumber, p.Address,
		p.GeoOrganizationID, p.CreatedByID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientColumns+patientFrom+` WHERE p.id = $1 AND NOT p.deleted`, id))
}

func (r *patientRepoPG) GetByExternalID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientColumns+patientFrom+` WHERE p.external_id = $1 AND NOT p.deleted`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET name = $2, gender = $3, date_of_birth = $4, phone_number = $5, address = $6,
			geo_organization_id = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Gender, p.DateOfBirth, p.PhoneNumber, p.Address, p.GeoOrganizationID,
	).Scan(&p.UpdatedAt)
}

func (r *patientRepoPG) List(ctx context.Context, f Filter) ([]*Patient, int, error) {
	conds := []string{"NOT p.deleted"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Name != "" {
		conds = append(conds, "p.name ILIKE "+arg("%"+f.Name+"%"))
	}
	if f.Phone != "" {
		conds = append(conds, "p.phone_number = "+arg(f.Phone))
	}
	if !f.Scope.Unrestricted {
		ids := f.Scope.IDs
		if ids == nil {
			ids = []int64{}
		}
		conds = append(conds, fmt.Sprintf("(p.organization_cache && %s OR p.users_cache @> ARRAY[%s::BIGINT])",
			arg(ids), arg(f.Scope.UserID)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+patientFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + patientColumns + patientFrom + where +
		fmt.Sprintf(` ORDER BY p.created_at DESC LIMIT %s OFFSET %s`, arg(f.Limit), arg(f.Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *patientRepoPG) ListByPhone(ctx context.Context, phone string) ([]*Patient, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+patientColumns+patientFrom+` WHERE p.phone_number = $1 AND NOT p.deleted ORDER BY p.created_at`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *patientRepoPG) AddOrganization(ctx context.Context, patientID, organizationID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO patient_organization (patient_id, organization_id) VALUES ($1, $2)`, patientID, organizationID)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("organization is already linked to the patient")
	}
	return err
}

func (r *patientRepoPG) RemoveOrganization(ctx context.Context, patientID, organizationID int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM patient_organization WHERE patient_id = $1 AND organization_id = $2`, patientID, organizationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient organization")
	}
	return nil
}

func (r *patientRepoPG) RebuildCaches(ctx context.Context, p *Patient) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET
			organization_cache = COALESCE((
				SELECT array_agg(DISTINCT n ORDER BY n)
				FROM organization o, unnest(o.parent_cache || o.id) AS n
				WHERE o.id IN (SELECT organization_id FROM patient_organization WHERE patient_id = $1)
					OR o.id = patient.geo_organization_id
			), '{}'),
			users_cache = COALESCE((
				SELECT array_agg(user_id ORDER BY user_id) FROM patient_user WHERE patient_id = $1
			), '{}')
		WHERE id = $1
		RETURNING organization_cache, users_cache`, p.ID).Scan(&p.OrganizationCache, &p.UsersCache)
}
