package fileupload

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

type fileRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &fileRepoPG{pool: pool}
}

const fileColumns = `id, external_id, name, internal_name, file_type, file_category, associating_id, mime_type,
	upload_completed, is_archived, archive_reason, created_by_id, created_at, updated_at`

func scanFile(row pgx.Row) (*FileUpload, error) {
	var f FileUpload
	err := row.Scan(&f.ID, &f.ExternalID, &f.Name, &f.InternalName, &f.FileType, &f.FileCategory, &f.AssociatingID,
		&f.MimeType, &f.UploadCompleted, &f.IsArchived, &f.ArchiveReason, &f.CreatedByID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("file")
		}
		return nil, err
	}
	return &f, nil
}

func (r *fileRepoPG) Create(ctx context.Context, f *FileUpload) error {
	if f.ExternalID == uuid.Nil {
		f.ExternalID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO file_upload (external_id, name, internal_name, file_type, file_category, associating_id,
			mime_type, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		f.ExternalID, f.Name, f.InternalName, f.FileType, f.FileCategory, f.AssociatingID, f.MimeType, f.CreatedByID,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
}

func (r *fileRepoPG) GetByExternalID(ctx context.Context, id uuid.UUID) (*FileUpload, error) {
	return scanFile(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+fileColumns+` FROM file_upload WHERE external_id = $1`, id))
}

func (r *fileRepoPG) Update(ctx context.Context, f *FileUpload) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE file_upload SET upload_completed = $2, is_archived = $3, archive_reason = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		f.ID, f.UploadCompleted, f.IsArchived, f.ArchiveReason,
	).Scan(&f.UpdatedAt)
}

func (r *fileRepoPG) List(ctx context.Context, f Filter) ([]*FileUpload, int, error) {
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	conds := []string{"file_type = " + arg(f.FileType), "associating_id = " + arg(f.AssociatingID)}
	if f.Archived != nil {
		conds = append(conds, "is_archived = "+arg(*f.Archived))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM file_upload`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + fileColumns + ` FROM file_upload` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT %s OFFSET %s`, arg(f.Limit), arg(f.Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*FileUpload
	for rows.Next() {
		fu, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, fu)
	}
	return out, total, rows.Err()
}
