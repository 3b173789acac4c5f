package rolebinding

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

type bindingRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &bindingRepoPG{pool: pool}
}

func selectBindings(kind Kind) string {
	return fmt.Sprintf(`SELECT b.id, b.external_id, b.%s, b.user_id, b.role_id, b.created_at,
		u.external_id, u.username, u.first_name, u.last_name, r.external_id, r.name
	FROM %s b
	JOIN emr_user u ON u.id = b.user_id
	JOIN role r ON r.id = b.role_id`, kind.nodeColumn(), kind.table())
}

func scanBinding(row pgx.Row, kind Kind) (*Binding, error) {
	b := Binding{Kind: kind}
	err := row.Scan(&b.ID, &b.ExternalID, &b.NodeID, &b.UserID, &b.RoleID, &b.CreatedAt,
		&b.User.ID, &b.User.Username, &b.User.FirstName, &b.User.LastName, &b.Role.ID, &b.Role.Name)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound(kind.String() + " user")
		}
		return nil, err
	}
	return &b, nil
}

func (r *bindingRepoPG) Add(ctx context.Context, b *Binding) error {
	if b.ExternalID == uuid.Nil {
		b.ExternalID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (external_id, %s, user_id, role_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, b.Kind.table(), b.Kind.nodeColumn()),
		b.ExternalID, b.NodeID, b.UserID, b.RoleID,
	).Scan(&b.ID, &b.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("User already has a role in this " + b.Kind.String())
	}
	return err
}

func (r *bindingRepoPG) GetByExternalID(ctx context.Context, kind Kind, id uuid.UUID) (*Binding, error) {
	return scanBinding(db.Conn(ctx, r.pool).QueryRow(ctx, selectBindings(kind)+` WHERE b.external_id = $1`, id), kind)
}

func (r *bindingRepoPG) UpdateRole(ctx context.Context, b *Binding) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE `+b.Kind.table()+` SET role_id = $2 WHERE id = $1`, b.ID, b.RoleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(b.Kind.String() + " user")
	}
	return nil
}

func (r *bindingRepoPG) Remove(ctx context.Context, kind Kind, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM `+kind.table()+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(kind.String() + " user")
	}
	return nil
}

func (r *bindingRepoPG) RemoveByUser(ctx context.Context, kind Kind, nodeID, userID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE %s = $1 AND user_id = $2`, kind.table(), kind.nodeColumn()), nodeID, userID)
	return err
}

func (r *bindingRepoPG) list(ctx context.Context, kind Kind, query string, args ...interface{}) ([]*Binding, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Binding
	for rows.Next() {
		b, err := scanBinding(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *bindingRepoPG) ListForNode(ctx context.Context, kind Kind, nodeID int64, limit, offset int) ([]*Binding, int, error) {
	var total int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s = $1`, kind.table(), kind.nodeColumn()), nodeID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	out, err := r.list(ctx, kind, selectBindings(kind)+` WHERE b.`+kind.nodeColumn()+` = $1
		ORDER BY u.username LIMIT $2 OFFSET $3`, nodeID, limit, offset)
	return out, total, err
}

func (r *bindingRepoPG) ListForUser(ctx context.Context, kind Kind, userID int64) ([]*Binding, error) {
	return r.list(ctx, kind, selectBindings(kind)+` WHERE b.user_id = $1 ORDER BY b.created_at`, userID)
}

func (r *bindingRepoPG) UserIDs(ctx context.Context, kind Kind, nodeID int64) ([]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, fmt.Sprintf(
		`SELECT user_id FROM %s WHERE %s = $1 ORDER BY user_id`, kind.table(), kind.nodeColumn()), nodeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanGrants(rows pgx.Rows, err error) ([]authz.Grant, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (authz.Grant, error) {
		var g authz.Grant
		var parents []int64
		if err := row.Scan(&g.NodeID, &g.RoleID, &parents); err != nil {
			return g, err
		}
		g.Chain = append(parents, g.NodeID)
		return g, nil
	})
}

func (r *bindingRepoPG) OrganizationGrants(ctx context.Context, userID int64) ([]authz.Grant, error) {
	return scanGrants(db.Conn(ctx, r.pool).Query(ctx, `
		SELECT b.organization_id, b.role_id, o.parent_cache
		FROM organization_user b
		JOIN organization o ON o.id = b.organization_id
		WHERE b.user_id = $1`, userID))
}

func (r *bindingRepoPG) FacilityOrganizationGrants(ctx context.Context, userID, facilityID int64) ([]authz.Grant, error) {
	return scanGrants(db.Conn(ctx, r.pool).Query(ctx, `
		SELECT b.facility_organization_id, b.role_id, o.parent_cache
		FROM facility_organization_user b
		JOIN facility_organization o ON o.id = b.facility_organization_id
		WHERE b.user_id = $1 AND ($2::BIGINT = 0 OR o.facility_id = $2)`, userID, facilityID))
}

func (r *bindingRepoPG) PatientGrants(ctx context.Context, userID, patientID int64) ([]authz.Grant, error) {
	return scanGrants(db.Conn(ctx, r.pool).Query(ctx, `
		SELECT patient_id, role_id, '{}'::BIGINT[]
		FROM patient_user
		WHERE user_id = $1 AND patient_id = $2`, userID, patientID))
}
