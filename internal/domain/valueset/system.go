package valueset

const (
	SystemAdministrativeGender = "http://hl7.org/fhir/administrative-gender"
	SystemActCode              = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	SystemObservationCategory  = "http://terminology.hl7.org/CodeSystem/observation-category"
	SystemUCUM                 = "http://unitsofmeasure.org"
	SystemSNOMED               = "http://snomed.info/sct"
	SystemLOINC                = "http://loinc.org"
)

// SystemDefined are the valuesets declared in code. `seed valuesets` creates
// or updates them by slug.
var SystemDefined = []ValueSet{
	{
		Slug: "system-administrative-gender",
		Name: "Administrative Gender",
		Compose: Compose{Include: []Rule{{System: SystemAdministrativeGender, Concept: []Concept{
			{Code: "male", Display: "Male"},
			{Code: "female", Display: "Female"},
			{Code: "other", Display: "Other"},
			{Code: "unknown", Display: "Unknown"},
		}}}},
	},
	{
		Slug: "system-encounter-class",
		Name: "Encounter Class",
		Compose: Compose{Include: []Rule{{System: SystemActCode, Concept: []Concept{
			{Code: "IMP", Display: "inpatient encounter"},
			{Code: "AMB", Display: "ambulatory"},
			{Code: "OBSENC", Display: "observation encounter"},
			{Code: "EMER", Display: "emergency"},
			{Code: "VR", Display: "virtual"},
			{Code: "HH", Display: "home health"},
		}}}},
	},
	{
		Slug: "system-observation-category",
		Name: "Observation Category",
		Compose: Compose{Include: []Rule{{System: SystemObservationCategory, Concept: []Concept{
			{Code: "social-history", Display: "Social History"},
			{Code: "vital-signs", Display: "Vital Signs"},
			{Code: "imaging", Display: "Imaging"},
			{Code: "laboratory", Display: "Laboratory"},
			{Code: "procedure", Display: "Procedure"},
			{Code: "survey", Display: "Survey"},
			{Code: "exam", Display: "Exam"},
			{Code: "therapy", Display: "Therapy"},
			{Code: "activity", Display: "Activity"},
		}}}},
	},
	{
		Slug:    "system-ucum-units",
		Name:    "UCUM Units",
		Compose: Compose{Include: []Rule{{System: SystemUCUM}}},
	},
	{
		Slug:    "system-observation",
		Name:    "Observation Codes",
		Compose: Compose{Include: []Rule{{System: SystemLOINC}, {System: SystemSNOMED}}},
	},
}
