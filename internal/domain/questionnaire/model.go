package questionnaire

import (
	"bytes"
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/observation"
	"github.com/care/emr/internal/domain/valueset"
)

const (
	StatusDraft   = "draft"
	StatusActive  = "active"
	StatusRetired = "retired"
)

// transitions lists the status moves open to writers. retired → active is
// reserved to superusers.
var transitions = map[string]map[string]bool{
	StatusDraft:   {StatusDraft: true, StatusActive: true, StatusRetired: true},
	StatusActive:  {StatusActive: true, StatusRetired: true},
	StatusRetired: {StatusRetired: true},
}

const SubjectPatient = "patient"

// Question types.
const (
	TypeGroup      = "group"
	TypeBoolean    = "boolean"
	TypeDecimal    = "decimal"
	TypeInteger    = "integer"
	TypeString     = "string"
	TypeText       = "text"
	TypeDisplay    = "display"
	TypeDate       = "date"
	TypeDateTime   = "dateTime"
	TypeTime       = "time"
	TypeChoice     = "choice"
	TypeURL        = "url"
	TypeStructured = "structured"
)

var questionTypes = map[string]bool{
	TypeGroup: true, TypeBoolean: true, TypeDecimal: true, TypeInteger: true, TypeString: true,
	TypeText: true, TypeDisplay: true, TypeDate: true, TypeDateTime: true, TypeTime: true,
	TypeChoice: true, TypeURL: true, TypeStructured: true,
}

// Enable-when operators.
const (
	OpExists       = "exists"
	OpEquals       = "equals"
	OpNotEquals    = "not_equals"
	OpGreater      = "greater"
	OpLess         = "less"
	OpGreaterEqual = "greater_or_equals"
	OpLessEqual    = "less_or_equals"
)

var operators = map[string]string{
	OpExists: OpExists, "=": OpEquals, OpEquals: OpEquals, "!=": OpNotEquals, OpNotEquals: OpNotEquals,
	">": OpGreater, OpGreater: OpGreater, "<": OpLess, OpLess: OpLess,
	">=": OpGreaterEqual, OpGreaterEqual: OpGreaterEqual, "<=": OpLessEqual, OpLessEqual: OpLessEqual,
}

const (
	BehaviorAll = "all"
	BehaviorAny = "any"
)

var slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]{3,255}$`)

type AnswerOption struct {
	Value string           `json:"value"`
	Code  *valueset.Coding `json:"code,omitempty"`
}

// EnableWhen gates a question on the answer to another question, addressed
// by link_id.
type EnableWhen struct {
	Question string `json:"question"`
	Operator string `json:"operator"`
	Answer   Scalar `json:"answer"`
}

type Question struct {
	ID             uuid.UUID        `json:"id"`
	LinkID         string           `json:"link_id"`
	Text           string           `json:"text"`
	Type           string           `json:"type"`
	Code           *valueset.Coding `json:"code,omitempty"`
	Category       *valueset.Coding `json:"category,omitempty"`
	Unit           *valueset.Coding `json:"unit,omitempty"`
	AnswerOption   []AnswerOption   `json:"answer_option,omitempty"`
	AnswerValueSet string           `json:"answer_value_set,omitempty"`
	EnableWhen     []EnableWhen     `json:"enable_when,omitempty"`
	EnableBehavior string           `json:"enable_behavior,omitempty"`
	Required       bool             `json:"required"`
	Repeats        bool             `json:"repeats"`
	StructuredType string           `json:"structured_type,omitempty"`
	Questions      []Question       `json:"questions,omitempty"`
}

type Questionnaire struct {
	ID              int64       `db:"id" json:"-"`
	ExternalID      uuid.UUID   `db:"external_id" json:"id"`
	Slug            string      `db:"slug" json:"slug"`
	Version         string      `db:"version" json:"version"`
	Title           string      `db:"title" json:"title"`
	Description     string      `db:"description" json:"description"`
	Status          string      `db:"status" json:"status"`
	SubjectType     string      `db:"subject_type" json:"subject_type"`
	Questions       []Question  `db:"questions" json:"questions"`
	OrganizationIDs []int64     `json:"-"`
	Organizations   []uuid.UUID `json:"organizations"`
	CreatedByID     *int64      `db:"created_by_id" json:"-"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// Scalar is an answer value. JSON strings, numbers and booleans all decode
// into it; String gives the canonical string form and the original JSON is
// written back unchanged.
type Scalar struct {
	s   string
	raw json.RawMessage
}

// NewScalar returns a Scalar that encodes as a JSON string.
func NewScalar(s string) Scalar {
	return Scalar{s: s}
}

func (s Scalar) String() string { return s.s }

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	raw := append(json.RawMessage(nil), b...)
	switch {
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Scalar{s: v, raw: raw}
	case bytes.Equal(b, []byte("null")):
		*s = Scalar{raw: raw}
	default:
		*s = Scalar{s: string(b), raw: raw}
	}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	if len(s.raw) > 0 {
		return s.raw, nil
	}
	return json.Marshal(s.s)
}

type Value struct {
	Value         *Scalar               `json:"value,omitempty"`
	ValueCode     *valueset.Coding      `json:"value_code,omitempty"`
	ValueQuantity *observation.Quantity `json:"value_quantity,omitempty"`
}

func (v Value) empty() bool {
	return (v.Value == nil || v.Value.String() == "") && v.ValueCode == nil && v.ValueQuantity == nil
}

type Result struct {
	QuestionID uuid.UUID        `json:"question_id"`
	Values     []Value          `json:"values"`
	Note       string           `json:"note,omitempty"`
	BodySite   *valueset.Coding `json:"body_site,omitempty"`
	Method     *valueset.Coding `json:"method,omitempty"`
	TakenAt    *time.Time       `json:"taken_at,omitempty"`
}

type SubmitRequest struct {
	ResourceID uuid.UUID  `json:"resource_id"`
	Encounter  *uuid.UUID `json:"encounter"`
	Patient    uuid.UUID  `json:"patient"`
	Results    []Result   `json:"results"`
}

// Response is the persisted QuestionnaireResponse.
type Response struct {
	ID              int64                      `db:"id" json:"-"`
	ExternalID      uuid.UUID                  `db:"external_id" json:"id"`
	QuestionnaireID int64                      `db:"questionnaire_id" json:"-"`
	Questionnaire   uuid.UUID                  `json:"questionnaire"`
	SubjectID       uuid.UUID                  `db:"subject_id" json:"subject_id"`
	EncounterID     *int64                     `db:"encounter_id" json:"-"`
	PatientID       *int64                     `db:"patient_id" json:"-"`
	Encounter       *uuid.UUID                 `json:"encounter,omitempty"`
	Patient         uuid.UUID                  `json:"patient"`
	Responses       []Result                   `db:"responses" json:"responses"`
	Observations    []*observation.Observation `json:"observations,omitempty"`
	CreatedByID     *int64                     `db:"created_by_id" json:"-"`
	CreatedAt       time.Time                  `db:"created_at" json:"created_at"`
}
