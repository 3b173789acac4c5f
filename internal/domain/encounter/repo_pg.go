package encounter

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

type encounterRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &encounterRepoPG{pool: pool}
}

const encounterColumns = `e.id, e.external_id, e.status, e.encounter_class, e.patient_id, p.external_id,
	e.facility_id, f.external_id, e.period_start, e.period_end, e.facility_organization_cache,
	e.created_by_id, e.created_at, e.updated_at`

const encounterFrom = ` FROM encounter e
	JOIN patient p ON p.id = e.patient_id
	JOIN facility f ON f.id = e.facility_id`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.ExternalID, &e.Status, &e.EncounterClass, &e.PatientID, &e.Patient,
		&e.FacilityID, &e.Facility, &e.PeriodStart, &e.PeriodEnd, &e.FacilityOrganizationCache,
		&e.CreatedByID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("encounter")
		}
		return nil, err
	}
	return &e, nil
}

func (r *encounterRepoPG) Create(ctx context.Context, e *Encounter) error {
	if e.ExternalID == uuid.Nil {
		e.ExternalID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO encounter (external_id, status, encounter_class, patient_id, facility_id,
			period_start, period_end, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		e.ExternalID, e.Status, e.EncounterClass, e.PatientID, e.FacilityID,
		e.PeriodStart, e.PeriodEnd, e.CreatedByID,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *encounterRepoPG) GetByID(ctx context.Context, id int64) (*Encounter, error) {
	return scanEncounter(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+encounterColumns+encounterFrom+` WHERE e.id = $1`, id))
}

func (r *encounterRepoPG) GetByExternalID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scanEncounter(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+encounterColumns+encounterFrom+` WHERE e.external_id = $1`, id))
}

func (r *encounterRepoPG) Update(ctx context.Context, e *Encounter) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE encounter SET status = $2, encounter_class = $3, period_start = $4, period_end = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.Status, e.EncounterClass, e.PeriodStart, e.PeriodEnd,
	).Scan(&e.UpdatedAt)
}

func (r *encounterRepoPG) List(ctx context.Context, f Filter) ([]*Encounter, int, error) {
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	conds := []string{"e.facility_id = " + arg(f.FacilityID)}
	if f.PatientID != 0 {
		conds = append(conds, "e.patient_id = "+arg(f.PatientID))
	}
	if f.Status != "" {
		conds = append(conds, "e.status = "+arg(f.Status))
	}
	if !f.Scope.Unrestricted {
		ids := f.Scope.IDs
		if ids == nil {
			ids = []int64{}
		}
		conds = append(conds, "e.facility_organization_cache && "+arg(ids))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+encounterFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + encounterColumns + encounterFrom + where +
		fmt.Sprintf(` ORDER BY e.created_at DESC LIMIT %s OFFSET %s`, arg(f.Limit), arg(f.Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *encounterRepoPG) AddOrganization(ctx context.Context, encounterID, facilityOrganizationID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO encounter_organization (encounter_id, facility_organization_id) VALUES ($1, $2)`,
		encounterID, facilityOrganizationID)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("organization is already attached to the encounter")
	}
	return err
}

func (r *encounterRepoPG) RemoveOrganization(ctx context.Context, encounterID, facilityOrganizationID int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM encounter_organization WHERE encounter_id = $1 AND facility_organization_id = $2`,
		encounterID, facilityOrganizationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("encounter organization")
	}
	return nil
}

func (r *encounterRepoPG) RebuildCache(ctx context.Context, e *Encounter) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE encounter SET facility_organization_cache = COALESCE((
			SELECT array_agg(DISTINCT n ORDER BY n)
			FROM facility_organization fo, unnest(fo.parent_cache || fo.id) AS n
			WHERE fo.id IN (SELECT facility_organization_id FROM encounter_organization WHERE encounter_id = $1)
				OR (fo.facility_id = encounter.facility_id AND fo.org_type = 'root')
		), '{}')
		WHERE id = $1
		RETURNING facility_organization_cache`, e.ID).Scan(&e.FacilityOrganizationCache)
}

func (r *encounterRepoPG) OpenEncounterCaches(ctx context.Context, patientID int64) ([][]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT facility_organization_cache FROM encounter
		WHERE patient_id = $1 AND NOT (status = ANY($2))`, patientID, ClosedStatuses)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[[]int64])
}
