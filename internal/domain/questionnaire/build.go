package questionnaire

import (
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/observation"
)

// subject identifies who a submission is about.
type subject struct {
	kind        string
	id          uuid.UUID
	patientID   int64
	encounterID *int64
	enteredBy   int64
	at          time.Time
}

// buildObservations re-walks the tree in pre-order. A coded group emits a
// parent observation when at least one descendant produced a value; coded
// leaves emit one observation per value, parented to the nearest emitting
// group.
func buildObservations(ev *evaluation, sub subject) []*observation.Observation {
	answeredGroups := make(map[*Question]bool)
	for q := range ev.values {
		for _, g := range ev.tree.ancestors(q) {
			answeredGroups[g] = true
		}
	}

	var out []*observation.Observation
	emitted := make(map[*Question]uuid.UUID)
	parentOf := func(q *Question) *uuid.UUID {
		for _, g := range ev.tree.ancestors(q) {
			if id, ok := emitted[g]; ok {
				return &id
			}
		}
		return nil
	}
	base := func(q *Question) *observation.Observation {
		return &observation.Observation{
			ExternalID:        uuid.New(),
			Status:            observation.StatusFinal,
			Category:          q.Category,
			MainCode:          *q.Code,
			SubjectType:       sub.kind,
			SubjectID:         sub.id,
			PatientID:         sub.patientID,
			EncounterID:       sub.encounterID,
			EffectiveDatetime: sub.at,
			DataEnteredByID:   &sub.enteredBy,
			Parent:            parentOf(q),
		}
	}

	for _, n := range ev.tree.nodes {
		q := n.q
		if q.Code == nil {
			continue
		}
		if q.Type == TypeGroup {
			if !answeredGroups[q] || !ev.enabled[q] {
				continue
			}
			o := base(q)
			o.ValueType = observation.ValueGroup
			emitted[q] = o.ExternalID
			out = append(out, o)
			continue
		}
		r := ev.answers[q.ID]
		for _, v := range ev.values[q] {
			o := base(q)
			o.ValueType = v.valueType
			o.Value = v.value
			o.ValueCode = v.code
			o.ValueQuantity = v.quantity
			if r != nil {
				o.Note = r.Note
				o.BodySite = r.BodySite
				o.Method = r.Method
			}
			out = append(out, o)
		}
	}
	return out
}
