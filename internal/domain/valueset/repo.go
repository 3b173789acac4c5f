package valueset

import "context"

type Repository interface {
	Create(ctx context.Context, v *ValueSet) error
	GetBySlug(ctx context.Context, slug string) (*ValueSet, error)
	Update(ctx context.Context, v *ValueSet) error
	List(ctx context.Context, search string, limit, offset int) ([]*ValueSet, int, error)
}
