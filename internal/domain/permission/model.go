package permission

import (
	"time"

	"github.com/google/uuid"
)

// Context tags where a permission is evaluated.
type Context string

const (
	ContextPatient              Context = "PATIENT"
	ContextFacility             Context = "FACILITY"
	ContextOrganization         Context = "ORGANIZATION"
	ContextEncounter            Context = "ENCOUNTER"
	ContextQuestionnaire        Context = "QUESTIONNAIRE"
	ContextFacilityOrganization Context = "FACILITY_ORGANIZATION"
	ContextGeneric              Context = "GENERIC"
)

// Permission maps to the permission table.
type Permission struct {
	ID          int64   `db:"id" json:"-"`
	Slug        string  `db:"slug" json:"slug"`
	Name        string  `db:"name" json:"name"`
	Description string  `db:"description" json:"description"`
	Context     Context `db:"context" json:"context"`
}

// Role maps to the role table. Permissions is filled on reads.
type Role struct {
	ID          int64     `db:"id" json:"-"`
	ExternalID  uuid.UUID `db:"external_id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	IsSystem    bool      `db:"is_system" json:"is_system"`
	Permissions []string  `db:"-" json:"permissions"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
