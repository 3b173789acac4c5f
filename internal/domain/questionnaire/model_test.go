package questionnaire

import (
	"encoding/json"
	"reflect"
	"testing"
)

func assertJSONRoundTrip(t *testing.T, in string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(in), v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var want, got interface{}
	_ = json.Unmarshal([]byte(in), &want)
	_ = json.Unmarshal(out, &got)
	if !reflect.DeepEqual(want, got) {
		t.Errorf("round trip changed the document:\n in: %s\nout: %s", in, out)
	}
}

func TestResponse_JSONRoundTrip(t *testing.T) {
	in := `{
		"id": "4f1c2a5e-8f0b-4a53-9a1e-3a0d6f2b9c11",
		"questionnaire": "0b6c3f5e-2f1d-4d6a-8b0e-5c4a1f9e7d22",
		"subject_id": "7a2e9c4d-1b3f-4e5a-9c8d-6f0b2a1e3d33",
		"encounter": "9d8c7b6a-5f4e-4d3c-8b2a-1f0e9d8c7b44",
		"patient": "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c55",
		"responses": [
			{"question_id": "2b3c4d5e-6f7a-4b8c-9d0e-1f2a3b4c5d66",
			 "values": [{"value": 120}, {"value": true}, {"value": "stable"}],
			 "note": "seated"},
			{"question_id": "3c4d5e6f-7a8b-4c9d-8e1f-2a3b4c5d6e77",
			 "values": [{"value_quantity": {"value": 98.6, "unit": "[degF]"}},
			            {"value_code": {"system": "http://loinc.org", "code": "8310-5"}}],
			 "taken_at": "2024-05-01T09:30:00+05:30"}
		],
		"created_at": "2024-05-01T09:31:00Z"
	}`
	var r Response
	assertJSONRoundTrip(t, in, &r)

	values := r.Responses[0].Values
	if values[0].Value.String() != "120" || values[1].Value.String() != "true" || values[2].Value.String() != "stable" {
		t.Errorf("canonical forms = %q %q %q", values[0].Value, values[1].Value, values[2].Value)
	}
}

func TestScalar_EncodesConstructedValueAsString(t *testing.T) {
	b, err := json.Marshal(EnableWhen{Question: "smoker", Operator: "=", Answer: NewScalar("true")})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"question":"smoker","operator":"=","answer":"true"}` {
		t.Errorf("got %s", b)
	}
}

func TestQuestionnaire_EnableWhenAnswerKeepsType(t *testing.T) {
	in := `{"id":"4f1c2a5e-8f0b-4a53-9a1e-3a0d6f2b9c11","slug":"vitals","version":"1","title":"Vitals",
		"description":"","status":"active","subject_type":"patient","organizations":[],
		"questions":[{"id":"2b3c4d5e-6f7a-4b8c-9d0e-1f2a3b4c5d66","link_id":"bp","text":"BP","type":"integer",
			"enable_when":[{"question":"smoker","operator":">=","answer":140}],"required":false,"repeats":false}],
		"created_at":"2024-05-01T09:31:00Z","updated_at":"2024-05-01T09:31:00Z"}`
	var q Questionnaire
	assertJSONRoundTrip(t, in, &q)
}
