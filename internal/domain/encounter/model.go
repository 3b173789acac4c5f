package encounter

import (
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/authz"
)

const (
	StatusPlanned        = "planned"
	StatusInProgress     = "in_progress"
	StatusOnHold         = "on_hold"
	StatusDischarged     = "discharged"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusDiscontinued   = "discontinued"
	StatusEnteredInError = "entered_in_error"
	StatusUnknown        = "unknown"
)

var statuses = map[string]bool{
	StatusPlanned: true, StatusInProgress: true, StatusOnHold: true, StatusDischarged: true,
	StatusCompleted: true, StatusCancelled: true, StatusDiscontinued: true,
	StatusEnteredInError: true, StatusUnknown: true,
}

// ClosedStatuses are terminal. A closed encounter rejects every write.
var ClosedStatuses = []string{StatusCompleted, StatusCancelled, StatusDiscontinued, StatusEnteredInError}

var classes = map[string]bool{
	"imp": true, "amb": true, "obsenc": true, "emer": true, "vr": true, "hh": true,
}

type Encounter struct {
	ID                        int64      `db:"id" json:"-"`
	ExternalID                uuid.UUID  `db:"external_id" json:"id"`
	Status                    string     `db:"status" json:"status"`
	EncounterClass            string     `db:"encounter_class" json:"encounter_class"`
	PatientID                 int64      `db:"patient_id" json:"-"`
	Patient                   uuid.UUID  `json:"patient"`
	FacilityID                int64      `db:"facility_id" json:"-"`
	Facility                  uuid.UUID  `json:"facility"`
	PeriodStart               *time.Time `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd                 *time.Time `db:"period_end" json:"period_end,omitempty"`
	FacilityOrganizationCache []int64    `db:"facility_organization_cache" json:"-"`
	CreatedByID               *int64     `db:"created_by_id" json:"-"`
	CreatedAt                 time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                 time.Time  `db:"updated_at" json:"updated_at"`
}

func (e *Encounter) Closed() bool {
	return isClosed(e.Status)
}

func isClosed(status string) bool {
	for _, s := range ClosedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// View returns the authorization view of the encounter.
func (e *Encounter) View() *authz.Encounter {
	return &authz.Encounter{
		ID:                        e.ID,
		PatientID:                 e.PatientID,
		FacilityID:                e.FacilityID,
		Closed:                    e.Closed(),
		FacilityOrganizationCache: e.FacilityOrganizationCache,
	}
}

// Filter narrows List. FacilityID is required.
type Filter struct {
	FacilityID int64
	PatientID  int64
	Status     string
	Scope      authz.Scope
	Limit      int
	Offset     int
}

// DischargeSummaryRequest is the payload of the generate_discharge_summary task.
type DischargeSummaryRequest struct {
	EncounterID uuid.UUID `json:"encounter_id"`
}

// EmailRequest is the payload of the email_discharge_summary task.
type EmailRequest struct {
	FileID     uuid.UUID `json:"file_id"`
	Recipients []string  `json:"recipients"`
}
