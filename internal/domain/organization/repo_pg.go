package organization

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

type orgRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &orgRepoPG{pool: pool}
}

func columns(tree Tree) string {
	facility := "NULL::BIGINT"
	if tree == TreeFacility {
		facility = "facility_id"
	}
	return `id, external_id, ` + facility + `, name, description, org_type, parent_id, root_org_id,
	level_cache, parent_cache, has_children, system_generated, metadata,
	cached_parent_json, cached_parent_json_at, created_at, updated_at`
}

func scanOrganization(row pgx.Row, tree Tree) (*Organization, error) {
	o := Organization{Tree: tree}
	var metadata []byte
	err := row.Scan(&o.ID, &o.ExternalID, &o.FacilityID, &o.Name, &o.Description, &o.OrgType,
		&o.ParentID, &o.RootOrgID, &o.LevelCache, &o.ParentCache, &o.HasChildren, &o.SystemGenerated,
		&metadata, &o.Parent, &o.ParentCachedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound(tree.String())
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", tree, err)
		}
	}
	return &o, nil
}

func (r *orgRepoPG) Create(ctx context.Context, o *Organization) error {
	if o.ExternalID == uuid.Nil {
		o.ExternalID = uuid.New()
	}
	if o.Metadata == nil {
		o.Metadata = map[string]interface{}{}
	}
	metadata, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var q string
	args := []interface{}{o.ExternalID, o.Name, o.Description, o.OrgType, o.ParentID, o.RootOrgID,
		o.LevelCache, o.ParentCache, o.SystemGenerated, metadata}
	if o.Tree == TreeFacility {
		q = `INSERT INTO facility_organization (external_id, name, description, org_type, parent_id, root_org_id,
			level_cache, parent_cache, system_generated, metadata, facility_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
		args = append(args, o.FacilityID)
	} else {
		q = `INSERT INTO organization (external_id, name, description, org_type, parent_id, root_org_id,
			level_cache, parent_cache, system_generated, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, q, args...).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("Organization with this name already exists")
	}
	return err
}

func (r *orgRepoPG) GetByID(ctx context.Context, tree Tree, id int64) (*Organization, error) {
	return scanOrganization(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+columns(tree)+` FROM `+tree.table()+` WHERE id = $1`, id), tree)
}

func (r *orgRepoPG) GetByExternalID(ctx context.Context, tree Tree, id uuid.UUID) (*Organization, error) {
	return scanOrganization(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+columns(tree)+` FROM `+tree.table()+` WHERE external_id = $1`, id), tree)
}

func (r *orgRepoPG) GetRoot(ctx context.Context, facilityID int64) (*Organization, error) {
	return scanOrganization(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+columns(TreeFacility)+` FROM facility_organization WHERE facility_id = $1 AND org_type = 'root'`,
		facilityID), TreeFacility)
}

func (r *orgRepoPG) Update(ctx context.Context, o *Organization) error {
	metadata, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE `+o.Tree.table()+` SET name = $2, description = $3, metadata = $4,
			cached_parent_json = NULL, cached_parent_json_at = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Name, o.Description, metadata).Scan(&o.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound(o.Tree.String())
	}
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("Organization with this name already exists")
	}
	if err != nil {
		return err
	}
	// Descendants embed this node's name in their cached chain.
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE `+o.Tree.table()+` SET cached_parent_json = NULL, cached_parent_json_at = NULL
		WHERE $1 = ANY(parent_cache)`, o.ID)
	return err
}

func (r *orgRepoPG) SetHasChildren(ctx context.Context, tree Tree, id int64, hasChildren bool) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE `+tree.table()+` SET has_children = $2, updated_at = NOW() WHERE id = $1`, id, hasChildren)
	return err
}

func (r *orgRepoPG) CountChildren(ctx context.Context, tree Tree, id int64) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM `+tree.table()+` WHERE parent_id = $1`, id).Scan(&n)
	return n, err
}

func (r *orgRepoPG) NameTaken(ctx context.Context, o *Organization, excludeID int64) (bool, error) {
	q := `SELECT EXISTS (SELECT 1 FROM ` + o.Tree.table() + `
		WHERE COALESCE(root_org_id, 0) = COALESCE($1, 0) AND level_cache = $2 AND name = $3 AND id <> $4`
	args := []interface{}{o.RootOrgID, o.LevelCache, o.Name, excludeID}
	if o.Tree == TreeFacility {
		q += ` AND facility_id = $5`
		args = append(args, o.FacilityID)
	}
	q += `)`
	var taken bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, q, args...).Scan(&taken)
	return taken, err
}

func (r *orgRepoPG) Delete(ctx context.Context, tree Tree, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM `+tree.table()+` WHERE id = $1 OR $1 = ANY(parent_cache)`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Conflict("organization is still referenced")
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(tree.String())
	}
	return nil
}

type whereBuilder struct {
	parts []string
	args  []interface{}
}

func (w *whereBuilder) add(clause string, args ...interface{}) {
	for _, a := range args {
		w.args = append(w.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.parts = append(w.parts, clause)
}

func (w *whereBuilder) String() string {
	if len(w.parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.parts, " AND ")
}

func (r *orgRepoPG) List(ctx context.Context, f Filter) ([]*Organization, int, error) {
	var w whereBuilder
	if f.Tree == TreeFacility {
		w.add("facility_id = ?", f.FacilityID)
	}
	if f.ParentID != nil {
		w.add("parent_id = ?", *f.ParentID)
	} else if f.RootsOnly {
		w.add("parent_id IS NULL")
	}
	if f.OrgType != "" {
		w.add("org_type = ?", f.OrgType)
	}
	if f.Name != "" {
		w.add("name ILIKE ?", "%"+f.Name+"%")
	}
	if !f.Scope.Unrestricted {
		clause := "(parent_cache && ? OR id = ANY(?) OR id = ANY(?)"
		if f.Tree == TreeOrganization {
			clause += " OR org_type = '" + TypeGovt + "'"
		}
		w.add(clause+")", nonNil(f.Scope.IDs), nonNil(f.Scope.IDs), nonNil(f.Scope.MemberIDs))
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM `+f.Tree.table()+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY level_cache, name LIMIT $%d OFFSET $%d`,
		columns(f.Tree), f.Tree.table(), w.String(), len(w.args)+1, len(w.args)+2)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, append(w.args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Organization
	for rows.Next() {
		o, err := scanOrganization(rows, f.Tree)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *orgRepoPG) ListByIDs(ctx context.Context, tree Tree, ids []int64) ([]*Organization, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+columns(tree)+` FROM `+tree.table()+` WHERE id = ANY($1) ORDER BY level_cache`, nonNil(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Organization
	for rows.Next() {
		o, err := scanOrganization(rows, tree)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *orgRepoPG) SaveParentChain(ctx context.Context, tree Tree, id int64, chain json.RawMessage, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE `+tree.table()+` SET cached_parent_json = $2, cached_parent_json_at = $3 WHERE id = $1`,
		id, chain, at)
	return err
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
