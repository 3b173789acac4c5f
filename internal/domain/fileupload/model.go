package fileupload

import (
	"time"

	"github.com/google/uuid"
)

// File types name the resource a file is attached to. They also prefix the
// object key.
const (
	FileTypePatient   = "patient"
	FileTypeEncounter = "encounter"
)

var fileTypes = map[string]bool{FileTypePatient: true, FileTypeEncounter: true}

type FileUpload struct {
	ID              int64     `json:"-"`
	ExternalID      uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	InternalName    string    `json:"-"`
	FileType        string    `json:"file_type"`
	FileCategory    string    `json:"file_category"`
	AssociatingID   uuid.UUID `json:"associating_id"`
	MimeType        string    `json:"mime_type"`
	UploadCompleted bool      `json:"upload_completed"`
	IsArchived      bool      `json:"is_archived"`
	ArchiveReason   string    `json:"archive_reason"`
	CreatedByID     *int64    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	SignedURL     string `json:"signed_url,omitempty"`
	ReadSignedURL string `json:"read_signed_url,omitempty"`
}

type CreateInput struct {
	Name          string    `json:"name"`
	OriginalName  string    `json:"original_name"`
	FileType      string    `json:"file_type"`
	FileCategory  string    `json:"file_category"`
	AssociatingID uuid.UUID `json:"associating_id"`
	MimeType      string    `json:"mime_type"`
}

type Filter struct {
	FileType      string
	AssociatingID uuid.UUID
	Archived      *bool
	Limit         int
	Offset        int
}
