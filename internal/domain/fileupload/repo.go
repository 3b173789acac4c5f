package fileupload

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, f *FileUpload) error
	GetByExternalID(ctx context.Context, id uuid.UUID) (*FileUpload, error)
	// Update writes the upload and archive state.
	Update(ctx context.Context, f *FileUpload) error
	List(ctx context.Context, f Filter) ([]*FileUpload, int, error)
}
