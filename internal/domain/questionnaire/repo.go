package questionnaire

import "context"

type Repository interface {
	Create(ctx context.Context, q *Questionnaire) error
	GetBySlug(ctx context.Context, slug string) (*Questionnaire, error)
	Update(ctx context.Context, q *Questionnaire) error
	List(ctx context.Context, f Filter) ([]*Questionnaire, int, error)
	SetOrganizations(ctx context.Context, q *Questionnaire, orgIDs []int64) error
	CountResponses(ctx context.Context, questionnaireID int64) (int, error)
	CreateResponse(ctx context.Context, r *Response) error
}

// Filter narrows List. A nil OrganizationIDs lists everything; otherwise only
// questionnaires bound to one of the ids, or bound to none, are returned.
type Filter struct {
	Status          string
	Search          string
	OrganizationIDs []int64
	Limit           int
	Offset          int
}
