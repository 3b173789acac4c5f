package otp

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, o *OTP) error
	// CountUnused counts the unused codes of phone created at or after since.
	CountUnused(ctx context.Context, phone string, since time.Time) (int, error)
	ListUnused(ctx context.Context, phone string, since time.Time) ([]*OTP, error)
	// MarkUsed flips is_used and reports false when the code was already used.
	MarkUsed(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
}
