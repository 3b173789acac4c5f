package observation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

type observationRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &observationRepoPG{pool: pool}
}

const observationColumns = `o.id, o.external_id, o.status, o.category, o.main_code, o.value_type, o.value,
	o.value_code, o.value_quantity, o.note, o.body_site, o.method, o.subject_type, o.subject_id,
	o.patient_id, o.encounter_id, o.effective_datetime, o.data_entered_by_id, p.external_id,
	o.questionnaire_response_id, o.created_at`

const observationFrom = ` FROM observation o LEFT JOIN observation p ON p.id = o.parent_id`

func scanObservation(row pgx.Row) (*Observation, error) {
	var o Observation
	err := row.Scan(&o.ID, &o.ExternalID, &o.Status, &o.Category, &o.MainCode, &o.ValueType, &o.Value,
		&o.ValueCode, &o.ValueQuantity, &o.Note, &o.BodySite, &o.Method, &o.SubjectType, &o.SubjectID,
		&o.PatientID, &o.EncounterID, &o.EffectiveDatetime, &o.DataEnteredByID, &o.Parent,
		&o.QuestionnaireResponseID, &o.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("observation")
		}
		return nil, err
	}
	return &o, nil
}

// CreateBatch queues one INSERT per observation and sends them in a single
// round trip. Parents are referenced by external id, so a child resolves
// the parent row inserted earlier in the same batch.
func (r *observationRepoPG) CreateBatch(ctx context.Context, obs []*Observation) error {
	if len(obs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range obs {
		if o.ExternalID == uuid.Nil {
			o.ExternalID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO observation (external_id, status, category, main_code, value_type, value, value_code,
				value_quantity, note, body_site, method, subject_type, subject_id, patient_id, encounter_id,
				effective_datetime, data_entered_by_id, parent_id, questionnaire_response_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
				(SELECT id FROM observation WHERE external_id = $18), $19)
			RETURNING id, created_at`,
			o.ExternalID, o.Status, o.Category, o.MainCode, o.ValueType, o.Value, o.ValueCode,
			o.ValueQuantity, o.Note, o.BodySite, o.Method, o.SubjectType, o.SubjectID, o.PatientID, o.EncounterID,
			o.EffectiveDatetime, o.DataEnteredByID, o.Parent, o.QuestionnaireResponseID,
		)
	}

	var results pgx.BatchResults
	if tx := db.TxFromContext(ctx); tx != nil {
		results = tx.SendBatch(ctx, batch)
	} else if c := db.ConnFromContext(ctx); c != nil {
		results = c.SendBatch(ctx, batch)
	} else {
		results = r.pool.SendBatch(ctx, batch)
	}
	for i, o := range obs {
		if err := results.QueryRow().Scan(&o.ID, &o.CreatedAt); err != nil {
			results.Close()
			return fmt.Errorf("insert observation %d: %w", i, err)
		}
	}
	return results.Close()
}

func (r *observationRepoPG) GetByExternalID(ctx context.Context, patientID int64, id uuid.UUID) (*Observation, error) {
	return scanObservation(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+observationColumns+observationFrom+` WHERE o.patient_id = $1 AND o.external_id = $2`, patientID, id))
}

func (r *observationRepoPG) ListByPatient(ctx context.Context, patientID int64, f Filter) ([]*Observation, int, error) {
	const where = ` WHERE o.patient_id = $1
		AND ($2 = '' OR o.main_code->>'code' = $2)
		AND ($3::BIGINT = 0 OR o.encounter_id = $3)
		AND o.status <> 'entered_in_error'`

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+observationFrom+where,
		patientID, f.Code, f.EncounterID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+observationColumns+observationFrom+where+` ORDER BY o.effective_datetime DESC, o.id LIMIT $4 OFFSET $5`,
		patientID, f.Code, f.EncounterID, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *observationRepoPG) ListByResponse(ctx context.Context, responseID int64) ([]*Observation, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+observationColumns+observationFrom+` WHERE o.questionnaire_response_id = $1 ORDER BY o.id`, responseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
