package facility

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

type facilityRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &facilityRepoPG{pool: pool}
}

const facilityColumns = `f.id, f.external_id, f.name, f.facility_type, f.geo_organization_id,
	g.external_id, f.created_by_id, f.created_at, f.updated_at`

const facilityFrom = ` FROM facility f LEFT JOIN organization g ON g.id = f.geo_organization_id`

func scanFacility(row pgx.Row) (*Facility, error) {
	var f Facility
	err := row.Scan(&f.ID, &f.ExternalID, &f.Name, &f.FacilityType, &f.GeoOrganizationID,
		&f.GeoOrganization, &f.CreatedByID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("facility")
		}
		return nil, err
	}
	return &f, nil
}

func (r *facilityRepoPG) Create(ctx context.Context, f *Facility) error {
	if f.ExternalID == uuid.Nil {
		f.ExternalID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO facility (external_id, name, facility_type, geo_organization_id, created_by_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		f.ExternalID, f.Name, f.FacilityType, f.GeoOrganizationID, f.CreatedByID,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
}

func (r *facilityRepoPG) GetByID(ctx context.Context, id int64) (*Facility, error) {
	return scanFacility(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+facilityColumns+facilityFrom+` WHERE f.id = $1`, id))
}

func (r *facilityRepoPG) GetByExternalID(ctx context.Context, id uuid.UUID) (*Facility, error) {
	return scanFacility(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+facilityColumns+facilityFrom+` WHERE f.external_id = $1`, id))
}

func (r *facilityRepoPG) Update(ctx context.Context, f *Facility) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE facility SET name = $2, facility_type = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, f.ID, f.Name, f.FacilityType).Scan(&f.UpdatedAt)
}

func (r *facilityRepoPG) List(ctx context.Context, userID int64, limit, offset int) ([]*Facility, int, error) {
	where := ` WHERE ($1::BIGINT = 0 OR f.id IN (
		SELECT fo.facility_id FROM facility_organization fo
		JOIN facility_organization_user fu ON fu.facility_organization_id = fo.id
		WHERE fu.user_id = $1))`

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+facilityFrom+where, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+facilityColumns+facilityFrom+where+` ORDER BY f.name LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}
