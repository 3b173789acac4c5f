package observation

import (
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/valueset"
)

const (
	StatusFinal          = "final"
	StatusAmended        = "amended"
	StatusEnteredInError = "entered_in_error"
)

// Subject types. An observation is recorded either against a patient or
// against one of the patient's encounters.
const (
	SubjectPatient   = "patient"
	SubjectEncounter = "encounter"
)

// Value types mirror the question type that produced the value.
const (
	ValueString   = "string"
	ValueInteger  = "integer"
	ValueDecimal  = "decimal"
	ValueBoolean  = "boolean"
	ValueDate     = "date"
	ValueDateTime = "dateTime"
	ValueTime     = "time"
	ValueCoding   = "coding"
	ValueQuantity = "quantity"
	ValueGroup    = "group"
)

type Quantity struct {
	Value float64          `json:"value"`
	Unit  string           `json:"unit,omitempty"`
	Code  *valueset.Coding `json:"code,omitempty"`
}

type Observation struct {
	ID                      int64            `db:"id" json:"-"`
	ExternalID              uuid.UUID        `db:"external_id" json:"id"`
	Status                  string           `db:"status" json:"status"`
	Category                *valueset.Coding `db:"category" json:"category,omitempty"`
	MainCode                valueset.Coding  `db:"main_code" json:"main_code"`
	ValueType               string           `db:"value_type" json:"value_type"`
	Value                   *string          `db:"value" json:"value,omitempty"`
	ValueCode               *valueset.Coding `db:"value_code" json:"value_code,omitempty"`
	ValueQuantity           *Quantity        `db:"value_quantity" json:"value_quantity,omitempty"`
	Note                    string           `db:"note" json:"note"`
	BodySite                *valueset.Coding `db:"body_site" json:"body_site,omitempty"`
	Method                  *valueset.Coding `db:"method" json:"method,omitempty"`
	SubjectType             string           `db:"subject_type" json:"subject_type"`
	SubjectID               uuid.UUID        `db:"subject_id" json:"subject_id"`
	PatientID               int64            `db:"patient_id" json:"-"`
	EncounterID             *int64           `db:"encounter_id" json:"-"`
	EffectiveDatetime       time.Time        `db:"effective_datetime" json:"effective_datetime"`
	DataEnteredByID         *int64           `db:"data_entered_by_id" json:"-"`
	Parent                  *uuid.UUID       `json:"parent,omitempty"`
	QuestionnaireResponseID *int64           `db:"questionnaire_response_id" json:"-"`
	CreatedAt               time.Time        `db:"created_at" json:"created_at"`
}

// Filter narrows ListByPatient.
type Filter struct {
	Code        string
	EncounterID int64
	Limit       int
	Offset      int
}
