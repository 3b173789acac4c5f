package organization

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Repository persists nodes of either tree. Every method takes the tree
// explicitly so both tables share one implementation.
type Repository interface {
	Create(ctx context.Context, o *Organization) error
	GetByID(ctx context.Context, tree Tree, id int64) (*Organization, error)
	GetByExternalID(ctx context.Context, tree Tree, id uuid.UUID) (*Organization, error)
	GetRoot(ctx context.Context, facilityID int64) (*Organization, error)
	Update(ctx context.Context, o *Organization) error
	SetHasChildren(ctx context.Context, tree Tree, id int64, hasChildren bool) error
	CountChildren(ctx context.Context, tree Tree, id int64) (int, error)
	// NameTaken reports whether a sibling level of the same root already
	// uses name. excludeID is skipped (for renames).
	NameTaken(ctx context.Context, o *Organization, excludeID int64) (bool, error)
	// Delete removes id and every descendant.
	Delete(ctx context.Context, tree Tree, id int64) error
	List(ctx context.Context, f Filter) ([]*Organization, int, error)
	ListByIDs(ctx context.Context, tree Tree, ids []int64) ([]*Organization, error)
	SaveParentChain(ctx context.Context, tree Tree, id int64, chain json.RawMessage, at time.Time) error
}
