package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrLockHeld = errors.New("lock already held")

// Lock is a TTL-bounded key in the KV whose value is a progress percentage.
// Holding the key is the lock; progress is readable by anyone.
type Lock struct {
	kv  KV
	key string
	ttl time.Duration
}

func NewLock(kv KV, key string, ttl time.Duration) *Lock {
	return &Lock{kv: kv, key: key, ttl: ttl}
}

func (l *Lock) Key() string { return l.key }

// Acquire takes the lock with progress 0. It returns ErrLockHeld when another
// holder has it.
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.kv.SetNX(ctx, l.key, "0", l.ttl)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Progress returns the current progress and whether the lock is held.
func (l *Lock) Progress(ctx context.Context) (int, bool, error) {
	v, err := l.kv.Get(ctx, l.key)
	if errors.Is(err, ErrMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, nil
	}
	return p, true, nil
}

// SetProgress updates the progress of a held lock, clamped to 0..100.
func (l *Lock) SetProgress(ctx context.Context, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	ok, err := l.kv.SetXX(ctx, l.key, strconv.Itoa(progress))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock %s not held", l.key)
	}
	return nil
}

func (l *Lock) Release(ctx context.Context) error {
	return l.kv.Delete(ctx, l.key)
}
