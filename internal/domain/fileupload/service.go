// Package fileupload tracks files attached to patients and encounters. The
// bytes live in the blob store; rows here hold the object key and the upload
// and archive state.
package fileupload

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/encounter"
	"github.com/care/emr/internal/domain/patient"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/blobstore"
)

type Patients interface {
	Authorize(ctx context.Context, actor *auth.User, id uuid.UUID, action string) (*patient.Patient, error)
}

type Encounters interface {
	Authorize(ctx context.Context, actor *auth.User, id uuid.UUID, action string, mutating bool) (*encounter.Encounter, error)
}

type Service struct {
	repo       Repository
	blobs      blobstore.Store
	patients   Patients
	encounters Encounters
	logger     zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, patients Patients, encounters Encounters, logger zerolog.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, patients: patients, encounters: encounters, logger: logger}
}

// authorize checks access to the resource a file is attached to. Patient
// files follow clinical data permissions; encounter files follow the
// encounter, so writes fail once it is closed.
func (s *Service) authorize(ctx context.Context, actor *auth.User, fileType string, id uuid.UUID, write bool) error {
	switch fileType {
	case FileTypePatient:
		action := authz.CanViewClinicalData
		if write {
			action = authz.CanWritePatient
		}
		_, err := s.patients.Authorize(ctx, actor, id, action)
		return err
	case FileTypeEncounter:
		action := authz.CanViewEncounter
		if write {
			action = authz.CanUpdateEncounter
		}
		_, err := s.encounters.Authorize(ctx, actor, id, action, write)
		return err
	}
	return apperr.Validation("invalid file type", apperr.FieldError{Type: "value_error", Loc: "file_type", Msg: "Invalid file type"})
}

func objectKey(fileType, originalName string) string {
	return fileType + "/" + uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
}

// Create registers a file and returns it with a presigned upload URL.
func (s *Service) Create(ctx context.Context, actor *auth.User, in CreateInput) (*FileUpload, error) {
	if !fileTypes[in.FileType] {
		return nil, apperr.Validation("invalid file type", apperr.FieldError{Type: "value_error", Loc: "file_type", Msg: "Invalid file type"})
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("name is required", apperr.FieldError{Type: "missing", Loc: "name", Msg: "Field required"})
	}
	if in.AssociatingID == uuid.Nil {
		return nil, apperr.Validation("associating_id is required", apperr.FieldError{Type: "missing", Loc: "associating_id", Msg: "Field required"})
	}
	if err := s.authorize(ctx, actor, in.FileType, in.AssociatingID, true); err != nil {
		return nil, err
	}
	if in.OriginalName == "" {
		in.OriginalName = in.Name
	}
	if in.MimeType == "" {
		in.MimeType = "application/octet-stream"
	}
	f := &FileUpload{
		Name:          in.Name,
		InternalName:  objectKey(in.FileType, in.OriginalName),
		FileType:      in.FileType,
		FileCategory:  in.FileCategory,
		AssociatingID: in.AssociatingID,
		MimeType:      in.MimeType,
	}
	if actor != nil {
		id := actor.ID
		f.CreatedByID = &id
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	url, err := s.blobs.PresignPut(ctx, f.InternalName, f.MimeType)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	f.SignedURL = url
	s.logger.Info().Str("file", f.ExternalID.String()).Str("file_type", f.FileType).Msg("file upload registered")
	return f, nil
}

func (s *Service) load(ctx context.Context, actor *auth.User, id uuid.UUID, write bool) (*FileUpload, error) {
	f, err := s.repo.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, f.FileType, f.AssociatingID, write); err != nil {
		return nil, err
	}
	return f, nil
}

// MarkUploadCompleted flips upload_completed once the object exists.
func (s *Service) MarkUploadCompleted(ctx context.Context, actor *auth.User, id uuid.UUID) (*FileUpload, error) {
	f, err := s.load(ctx, actor, id, true)
	if err != nil {
		return nil, err
	}
	if f.UploadCompleted {
		return f, nil
	}
	if _, err := s.blobs.Stat(ctx, f.InternalName); err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, apperr.Validation("File has not been uploaded")
		}
		return nil, apperr.Internal(err)
	}
	f.UploadCompleted = true
	if err := s.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the file with a presigned download URL when the upload is
// complete and the file is not archived.
func (s *Service) Get(ctx context.Context, actor *auth.User, id uuid.UUID) (*FileUpload, error) {
	f, err := s.load(ctx, actor, id, false)
	if err != nil {
		return nil, err
	}
	if !f.UploadCompleted || f.IsArchived {
		return f, nil
	}
	url, err := s.blobs.PresignGet(ctx, f.InternalName)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return f, nil
		}
		return nil, apperr.Internal(err)
	}
	f.ReadSignedURL = url
	return f, nil
}

func (s *Service) Archive(ctx context.Context, actor *auth.User, id uuid.UUID, reason string) (*FileUpload, error) {
	f, err := s.load(ctx, actor, id, true)
	if err != nil {
		return nil, err
	}
	if f.IsArchived {
		return nil, apperr.Conflict("File is already archived")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("archive_reason is required", apperr.FieldError{Type: "missing", Loc: "archive_reason", Msg: "Field required"})
	}
	f.IsArchived = true
	f.ArchiveReason = reason
	if err := s.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info().Str("file", f.ExternalID.String()).Msg("file archived")
	return f, nil
}

func (s *Service) List(ctx context.Context, actor *auth.User, f Filter) ([]*FileUpload, int, error) {
	if !fileTypes[f.FileType] || f.AssociatingID == uuid.Nil {
		return nil, 0, apperr.Validation("file_type and associating_id are required")
	}
	if err := s.authorize(ctx, actor, f.FileType, f.AssociatingID, false); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, f)
}
