package questionnaire

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/observation"
	"github.com/care/emr/internal/domain/valueset"
	"github.com/care/emr/internal/platform/apperr"
)

func fieldErr(loc, msg string) apperr.FieldError {
	return apperr.FieldError{Type: "value_error", Loc: loc, Msg: msg}
}

// validateDefinition checks the question tree and assigns ids to questions
// that have none.
func validateDefinition(qs []Question) []apperr.FieldError {
	var errs []apperr.FieldError
	t := newTree(qs)
	links := make(map[string]bool, len(t.nodes))
	ids := make(map[uuid.UUID]bool, len(t.nodes))

	for _, n := range t.nodes {
		q := n.q
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		loc := "questions." + q.LinkID
		switch {
		case strings.TrimSpace(q.LinkID) == "":
			errs = append(errs, fieldErr("questions", "Every question needs a link_id"))
		case links[q.LinkID]:
			errs = append(errs, fieldErr(loc, "Duplicate link_id "+q.LinkID))
		}
		links[q.LinkID] = true
		if ids[q.ID] {
			errs = append(errs, fieldErr(loc, "Duplicate question id "+q.ID.String()))
		}
		ids[q.ID] = true

		if !questionTypes[q.Type] {
			errs = append(errs, fieldErr(loc, fmt.Sprintf("Invalid question type %q", q.Type)))
		}
		if q.Type != TypeGroup && len(q.Questions) > 0 {
			errs = append(errs, fieldErr(loc, "Only group questions can have sub-questions"))
		}
		if q.Type == TypeChoice && len(q.AnswerOption) == 0 && q.AnswerValueSet == "" {
			errs = append(errs, fieldErr(loc, "Choice questions need answer_option or answer_value_set"))
		}
		if q.Type == TypeDisplay && q.Required {
			errs = append(errs, fieldErr(loc, "Display questions cannot be required"))
		}
		if q.EnableBehavior != "" && q.EnableBehavior != BehaviorAll && q.EnableBehavior != BehaviorAny {
			errs = append(errs, fieldErr(loc, "enable_behavior must be all or any"))
		}
	}

	// enable_when may point forward, so references are checked once every
	// link_id is known.
	for _, n := range t.nodes {
		for i, ew := range n.q.EnableWhen {
			loc := "questions." + n.q.LinkID
			if !links[ew.Question] {
				errs = append(errs, fieldErr(loc, "enable_when references unknown question "+ew.Question))
			}
			op, ok := operators[ew.Operator]
			if !ok {
				errs = append(errs, fieldErr(loc, fmt.Sprintf("Invalid enable_when operator %q", ew.Operator)))
				continue
			}
			n.q.EnableWhen[i].Operator = op
		}
	}
	return errs
}

// CodeLookup resolves a coding against a valueset slug.
type CodeLookup interface {
	LookupCode(ctx context.Context, slug string, c valueset.Coding) (valueset.Coding, bool, error)
}

// parsed is one validated answer value.
type parsed struct {
	valueType string
	value     *string
	code      *valueset.Coding
	quantity  *observation.Quantity
}

// evaluation holds a validated submission.
type evaluation struct {
	tree    *tree
	answers map[uuid.UUID]*Result
	enabled map[*Question]bool
	values  map[*Question][]parsed
}

func answerString(r *Result) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, v := range r.Values {
		switch {
		case v.empty():
		case v.ValueCode != nil:
			return v.ValueCode.Code, true
		case v.ValueQuantity != nil:
			return strconv.FormatFloat(v.ValueQuantity.Value, 'f', -1, 64), true
		default:
			return v.Value.String(), true
		}
	}
	return "", false
}

func (ev *evaluation) condition(ew EnableWhen) bool {
	target := ev.tree.byLink[ew.Question]
	if target == nil {
		return false
	}
	got, has := answerString(ev.answers[target.ID])
	want := ew.Answer.String()
	op := operators[ew.Operator]
	if op == OpExists {
		expect, _ := parseBoolean(want)
		return has == (expect != "false")
	}
	if !has {
		return false
	}
	if target.Type == TypeBoolean {
		got, _ = parseBoolean(got)
		want, _ = parseBoolean(want)
	}
	c := compare(got, want)
	switch op {
	case OpEquals:
		return c == 0
	case OpNotEquals:
		return c != 0
	case OpGreater:
		return c > 0
	case OpLess:
		return c < 0
	case OpGreaterEqual:
		return c >= 0
	case OpLessEqual:
		return c <= 0
	}
	return false
}

// isEnabled evaluates q's own conditions. A question inside a disabled group
// is disabled regardless.
func (ev *evaluation) isEnabled(q *Question) bool {
	if p := ev.tree.parentOf[q]; p != nil && !ev.enabled[p] {
		return false
	}
	if len(q.EnableWhen) == 0 {
		return true
	}
	anyOf := q.EnableBehavior == BehaviorAny
	for _, ew := range q.EnableWhen {
		ok := ev.condition(ew)
		if anyOf && ok {
			return true
		}
		if !anyOf && !ok {
			return false
		}
	}
	return !anyOf
}

// evaluate validates results against the questionnaire. Every problem is
// collected into one validation error carrying the question ids.
func evaluate(ctx context.Context, q *Questionnaire, results []Result, codes CodeLookup) (*evaluation, error) {
	ev := &evaluation{
		tree:    newTree(q.Questions),
		answers: make(map[uuid.UUID]*Result, len(results)),
		enabled: make(map[*Question]bool),
		values:  make(map[*Question][]parsed),
	}
	byID := make(map[uuid.UUID]*Question, len(ev.tree.nodes))
	for _, n := range ev.tree.nodes {
		byID[n.q.ID] = n.q
	}

	var errs []apperr.FieldError
	for i := range results {
		r := &results[i]
		if byID[r.QuestionID] == nil {
			errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "results", Msg: "Unknown question", Question: r.QuestionID.String()})
			continue
		}
		if ev.answers[r.QuestionID] != nil {
			errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "results", Msg: "Question answered more than once", Question: r.QuestionID.String()})
			continue
		}
		ev.answers[r.QuestionID] = r
	}

	for _, n := range ev.tree.nodes {
		qn := n.q
		ev.enabled[qn] = ev.isEnabled(qn)
		r := ev.answers[qn.ID]
		answered := r != nil && hasValue(r)

		qerr := func(msg string) {
			errs = append(errs, apperr.FieldError{Type: "value_error", Loc: qn.LinkID, Msg: msg, Question: qn.ID.String()})
		}
		if !ev.enabled[qn] {
			continue
		}
		if qn.Type == TypeGroup || qn.Type == TypeDisplay {
			if answered {
				qerr("Question does not accept values")
			}
			continue
		}
		if !answered {
			if qn.Required {
				qerr("Question is required")
			}
			continue
		}
		vals := nonEmpty(r.Values)
		if !qn.Repeats && len(vals) > 1 {
			qerr("Question does not allow multiple values")
			continue
		}
		for _, v := range vals {
			p, err := parseValue(ctx, qn, v, codes)
			if err != nil {
				qerr(err.Error())
				continue
			}
			ev.values[qn] = append(ev.values[qn], p)
		}
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("invalid questionnaire response", errs...)
	}
	return ev, nil
}

func hasValue(r *Result) bool {
	return len(nonEmpty(r.Values)) > 0
}

func nonEmpty(vals []Value) []Value {
	out := make([]Value, 0, len(vals))
	for _, v := range vals {
		if !v.empty() {
			out = append(out, v)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

// parseValue checks one value against the question type and returns it in
// canonical form.
func parseValue(ctx context.Context, q *Question, v Value, codes CodeLookup) (parsed, error) {
	if v.ValueQuantity != nil {
		switch q.Type {
		case TypeDecimal:
		case TypeInteger:
			if v.ValueQuantity.Value != float64(int64(v.ValueQuantity.Value)) {
				return parsed{}, fmt.Errorf("%v is not a valid integer", v.ValueQuantity.Value)
			}
		default:
			return parsed{}, fmt.Errorf("value_quantity is not allowed for %s questions", q.Type)
		}
		qty := *v.ValueQuantity
		if qty.Unit == "" && q.Unit != nil {
			qty.Unit = q.Unit.Code
			qty.Code = q.Unit
		}
		return parsed{valueType: observation.ValueQuantity, quantity: &qty}, nil
	}

	switch q.Type {
	case TypeChoice:
		return parseChoice(ctx, q, v, codes)
	case TypeStructured:
		if v.Value == nil {
			return parsed{}, fmt.Errorf("structured questions take a value")
		}
		return parsed{valueType: observation.ValueString, value: strPtr(v.Value.String())}, nil
	}
	if v.ValueCode != nil {
		return parsed{}, fmt.Errorf("value_code is not allowed for %s questions", q.Type)
	}
	parse, ok := parsers[q.Type]
	if !ok {
		return parsed{}, fmt.Errorf("unsupported question type %s", q.Type)
	}
	s, err := parse(v.Value.String())
	if err != nil {
		return parsed{}, err
	}
	vt := q.Type
	if q.Type == TypeText || q.Type == TypeURL {
		vt = observation.ValueString
	}
	if q.Unit != nil && (q.Type == TypeDecimal || q.Type == TypeInteger) {
		f, _ := strconv.ParseFloat(s, 64)
		return parsed{valueType: observation.ValueQuantity, quantity: &observation.Quantity{Value: f, Unit: q.Unit.Code, Code: q.Unit}}, nil
	}
	return parsed{valueType: vt, value: &s}, nil
}

func parseChoice(ctx context.Context, q *Question, v Value, codes CodeLookup) (parsed, error) {
	for _, opt := range q.AnswerOption {
		switch {
		case v.ValueCode != nil && opt.Code != nil && opt.Code.System == v.ValueCode.System && opt.Code.Code == v.ValueCode.Code:
			c := *opt.Code
			return parsed{valueType: observation.ValueCoding, code: &c}, nil
		case v.Value != nil && v.Value.String() == opt.Value:
			if opt.Code != nil {
				c := *opt.Code
				return parsed{valueType: observation.ValueCoding, code: &c}, nil
			}
			return parsed{valueType: observation.ValueString, value: strPtr(opt.Value)}, nil
		}
	}
	if q.AnswerValueSet != "" && v.ValueCode != nil {
		c, ok, err := codes.LookupCode(ctx, q.AnswerValueSet, *v.ValueCode)
		if err != nil {
			return parsed{}, err
		}
		if ok {
			return parsed{valueType: observation.ValueCoding, code: &c}, nil
		}
		return parsed{}, fmt.Errorf("code %s is not in valueset %s", v.ValueCode.Code, q.AnswerValueSet)
	}
	return parsed{}, fmt.Errorf("value is not one of the answer options")
}
