package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

const userColumns = `id, external_id, username, first_name, last_name, phone_number,
	is_superuser, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.FirstName, &u.LastName, &u.PhoneNumber,
		&u.IsSuperuser, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("user")
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ExternalID == uuid.Nil {
		u.ExternalID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO emr_user (external_id, username, first_name, last_name, phone_number, is_superuser, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		u.ExternalID, u.Username, u.FirstName, u.LastName, u.PhoneNumber, u.IsSuperuser, u.IsActive,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("a user with this username already exists")
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM emr_user WHERE id = $1`, id))
}

func (r *userRepoPG) GetByExternalID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM emr_user WHERE external_id = $1`, id))
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM emr_user WHERE username = $1`, username))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE emr_user SET first_name = $2, last_name = $3, phone_number = $4,
			is_superuser = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1`,
		u.ID, u.FirstName, u.LastName, u.PhoneNumber, u.IsSuperuser, u.IsActive)
	return err
}

func (r *userRepoPG) List(ctx context.Context, search string, limit, offset int) ([]*User, int, error) {
	where := ` WHERE is_active`
	var args []interface{}
	if search != "" {
		where += ` AND (username ILIKE $1 OR first_name ILIKE $1 OR last_name ILIKE $1)`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM emr_user`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM emr_user%s ORDER BY username LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)+1, len(args)+2)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}
