package otp

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/db"
)

type otpRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &otpRepoPG{pool: pool}
}

func (r *otpRepoPG) Create(ctx context.Context, o *OTP) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO phone_otp (phone_number, otp_hash) VALUES ($1, $2)
		RETURNING id, created_at`,
		o.PhoneNumber, o.Hash,
	).Scan(&o.ID, &o.CreatedAt)
}

func (r *otpRepoPG) CountUnused(ctx context.Context, phone string, since time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM phone_otp
		WHERE phone_number = $1 AND NOT is_used AND created_at >= $2`,
		phone, since).Scan(&n)
	return n, err
}

func (r *otpRepoPG) ListUnused(ctx context.Context, phone string, since time.Time) ([]*OTP, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, phone_number, otp_hash, is_used, created_at FROM phone_otp
		WHERE phone_number = $1 AND NOT is_used AND created_at >= $2
		ORDER BY created_at DESC`,
		phone, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*OTP
	for rows.Next() {
		var o OTP
		if err := rows.Scan(&o.ID, &o.PhoneNumber, &o.Hash, &o.IsUsed, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (r *otpRepoPG) MarkUsed(ctx context.Context, id int64) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE phone_otp SET is_used = TRUE WHERE id = $1 AND NOT is_used`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *otpRepoPG) Delete(ctx context.Context, id int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM phone_otp WHERE id = $1`, id)
	return err
}
