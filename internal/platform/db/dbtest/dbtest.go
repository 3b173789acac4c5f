// Package dbtest provides the Transactor used with in-memory repositories.
package dbtest

import (
	"context"
	"sync"

	"github.com/care/emr/internal/platform/db"
)

type heldKey struct{}

// Transactor serializes units of work with a mutex. In-memory repositories
// have no rollback; post-commit callbacks still follow db.AfterCommit rules.
type Transactor struct {
	mu sync.Mutex
}

func NewTransactor() *Transactor {
	return &Transactor{}
}

func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(heldKey{}) == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	inner, unit := db.Track(context.WithValue(ctx, heldKey{}, true))
	err := fn(inner)
	unit.Finish(ctx, err)
	return err
}
