package questionnaire

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

type questionnaireRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &questionnaireRepoPG{pool: pool}
}

const questionnaireColumns = `q.id, q.external_id, q.slug, q.version, q.title, q.description, q.status,
	q.subject_type, q.questions, q.created_by_id, q.created_at, q.updated_at,
	ARRAY(SELECT qo.organization_id FROM questionnaire_organization qo
		WHERE qo.questionnaire_id = q.id ORDER BY qo.organization_id),
	ARRAY(SELECT o.external_id FROM questionnaire_organization qo JOIN organization o ON o.id = qo.organization_id
		WHERE qo.questionnaire_id = q.id ORDER BY qo.organization_id)`

func scanQuestionnaire(row pgx.Row) (*Questionnaire, error) {
	var q Questionnaire
	err := row.Scan(&q.ID, &q.ExternalID, &q.Slug, &q.Version, &q.Title, &q.Description, &q.Status,
		&q.SubjectType, &q.Questions, &q.CreatedByID, &q.CreatedAt, &q.UpdatedAt,
		&q.OrganizationIDs, &q.Organizations)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("questionnaire")
		}
		return nil, err
	}
	return &q, nil
}

func (r *questionnaireRepoPG) Create(ctx context.Context, q *Questionnaire) error {
	if q.ExternalID == uuid.Nil {
		q.ExternalID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO questionnaire (external_id, slug, version, title, description, status, subject_type,
			questions, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		q.ExternalID, q.Slug, q.Version, q.Title, q.Description, q.Status, q.SubjectType,
		q.Questions, q.CreatedByID,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("Questionnaire with this slug already exists")
	}
	return err
}

func (r *questionnaireRepoPG) GetBySlug(ctx context.Context, slug string) (*Questionnaire, error) {
	return scanQuestionnaire(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+questionnaireColumns+` FROM questionnaire q WHERE q.slug = $1`, slug))
}

func (r *questionnaireRepoPG) Update(ctx context.Context, q *Questionnaire) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE questionnaire SET version = $2, title = $3, description = $4, status = $5,
			questions = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		q.ID, q.Version, q.Title, q.Description, q.Status, q.Questions,
	).Scan(&q.UpdatedAt)
}

func (r *questionnaireRepoPG) List(ctx context.Context, f Filter) ([]*Questionnaire, int, error) {
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	conds := []string{"TRUE"}
	if f.Status != "" {
		conds = append(conds, "q.status = "+arg(f.Status))
	}
	if f.Search != "" {
		p := arg(f.Search)
		conds = append(conds, "(q.title ILIKE '%' || "+p+" || '%' OR q.slug ILIKE '%' || "+p+" || '%')")
	}
	if f.OrganizationIDs != nil {
		conds = append(conds, `EXISTS (SELECT 1 FROM questionnaire_organization qo
			WHERE qo.questionnaire_id = q.id AND qo.organization_id = ANY(`+arg(f.OrganizationIDs)+`))`)
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM questionnaire q`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + questionnaireColumns + ` FROM questionnaire q` + where +
		fmt.Sprintf(` ORDER BY q.created_at DESC LIMIT %s OFFSET %s`, arg(f.Limit), arg(f.Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Questionnaire
	for rows.Next() {
		q, err := scanQuestionnaire(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, q)
	}
	return out, total, rows.Err()
}

func (r *questionnaireRepoPG) SetOrganizations(ctx context.Context, q *Questionnaire, orgIDs []int64) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM questionnaire_organization WHERE questionnaire_id = $1`, q.ID); err != nil {
		return err
	}
	if len(orgIDs) == 0 {
		q.OrganizationIDs = nil
		return nil
	}
	_, err := conn.Exec(ctx, `
		INSERT INTO questionnaire_organization (questionnaire_id, organization_id)
		SELECT $1, unnest($2::BIGINT[])
		ON CONFLICT DO NOTHING`, q.ID, orgIDs)
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("unknown organization")
	}
	if err != nil {
		return err
	}
	q.OrganizationIDs = orgIDs
	return nil
}

func (r *questionnaireRepoPG) CountResponses(ctx context.Context, questionnaireID int64) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM questionnaire_response WHERE questionnaire_id = $1`, questionnaireID).Scan(&n)
	return n, err
}

func (r *questionnaireRepoPG) CreateResponse(ctx context.Context, resp *Response) error {
	if resp.ExternalID == uuid.Nil {
		resp.ExternalID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO questionnaire_response (external_id, questionnaire_id, subject_id, encounter_id, patient_id,
			responses, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		resp.ExternalID, resp.QuestionnaireID, resp.SubjectID, resp.EncounterID, resp.PatientID,
		resp.Responses, resp.CreatedByID,
	).Scan(&resp.ID, &resp.CreatedAt)
}
