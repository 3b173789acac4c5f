package valueset

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft   = "draft"
	StatusActive  = "active"
	StatusRetired = "retired"
	StatusUnknown = "unknown"
)

var statuses = map[string]bool{StatusDraft: true, StatusActive: true, StatusRetired: true, StatusUnknown: true}

var slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]{3,255}$`)

// Coding is a code from a code system.
type Coding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

type Concept struct {
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// Rule selects codes of one system. A rule without concepts selects every
// code of the system.
type Rule struct {
	System  string    `json:"system"`
	Concept []Concept `json:"concept,omitempty"`
}

func (r Rule) match(c Coding) (Concept, bool) {
	if r.System != c.System {
		return Concept{}, false
	}
	if len(r.Concept) == 0 {
		return Concept{Code: c.Code, Display: c.Display}, true
	}
	for _, concept := range r.Concept {
		if concept.Code == c.Code {
			return concept, true
		}
	}
	return Concept{}, false
}

type Compose struct {
	Include []Rule `json:"include"`
	Exclude []Rule `json:"exclude,omitempty"`
}

// Lookup returns the concept c resolves to when the compose admits it.
func (cp Compose) Lookup(c Coding) (Concept, bool) {
	for _, r := range cp.Exclude {
		if _, ok := r.match(c); ok {
			return Concept{}, false
		}
	}
	for _, r := range cp.Include {
		if concept, ok := r.match(c); ok {
			return concept, true
		}
	}
	return Concept{}, false
}

type ValueSet struct {
	ID              int64     `db:"id" json:"-"`
	ExternalID      uuid.UUID `db:"external_id" json:"id"`
	Slug            string    `db:"slug" json:"slug"`
	Name            string    `db:"name" json:"name"`
	Description     string    `db:"description" json:"description"`
	Compose         Compose   `db:"compose" json:"compose"`
	Status          string    `db:"status" json:"status"`
	IsSystemDefined bool      `db:"is_system_defined" json:"is_system_defined"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Contains reports whether c is a member of the valueset.
func (v *ValueSet) Contains(c Coding) bool {
	_, ok := v.Compose.Lookup(c)
	return ok
}
