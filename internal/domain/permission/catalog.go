package permission

// System role names.
const (
	RoleAdmin         = "Admin"
	RoleFacilityAdmin = "Facility Admin"
	RoleGeoAdmin      = "Geo Admin"
	RoleDoctor        = "Doctor"
	RoleNurse         = "Nurse"
	RoleStaff         = "Staff"
	RoleVolunteer     = "Volunteer"
)

// SystemRoles lists the seeded roles in seed order.
var SystemRoles = []struct {
	Name        string
	Description string
}{
	{RoleAdmin, "Full access within the bound organization"},
	{RoleFacilityAdmin, "Administers a facility, its departments and schedules"},
	{RoleGeoAdmin, "Administers a geographic organization and its facilities"},
	{RoleDoctor, "Clinician with read and write access to patient care"},
	{RoleNurse, "Nursing staff"},
	{RoleStaff, "Front desk and support staff"},
	{RoleVolunteer, "Limited read access"},
}

// Permission slugs.
const (
	CanViewOrganization        = "can_view_organization"
	CanCreateOrganization      = "can_create_organization"
	CanWriteOrganization       = "can_write_organization"
	CanDeleteOrganization      = "can_delete_organization"
	CanManageOrganizationUsers = "can_manage_organization_users"
	CanListOrganizationUsers   = "can_list_organization_users"

	CanCreateFacility = "can_create_facility"
	CanReadFacility   = "can_read_facility"
	CanUpdateFacility = "can_update_facility"

	CanViewFacilityOrganization        = "can_view_facility_organization"
	CanWriteFacilityOrganization       = "can_write_facility_organization"
	CanManageFacilityOrganizationUsers = "can_manage_facility_organization_users"
	CanListFacilityOrganizationUsers   = "can_list_facility_organization_users"

	CanCreatePatient     = "can_create_patient"
	CanListPatients      = "can_list_patients"
	CanWritePatient      = "can_write_patient"
	CanViewClinicalData  = "can_view_clinical_data"
	CanManagePatientUser = "can_manage_patient_users"

	CanCreateEncounter              = "can_create_encounter"
	CanListEncounters               = "can_list_encounters"
	CanReadEncounter                = "can_read_encounter"
	CanWriteEncounter               = "can_write_encounter"
	CanSubmitEncounterQuestionnaire = "can_submit_encounter_questionnaire"
	CanGenerateDischargeSummary     = "can_generate_discharge_summary"

	CanReadQuestionnaire  = "can_read_questionnaire"
	CanWriteQuestionnaire = "can_write_questionnaire"

	CanWriteUserSchedule = "can_write_user_schedule"
	CanListUserSchedule  = "can_list_user_schedule"
	CanCreateAppointment = "can_create_appointment"
	CanListBookings      = "can_list_user_booking"
	CanWriteBooking      = "can_write_user_booking"

	CanWriteValueset = "can_write_valueset"
)

// Definition is one entry of the permission catalog.
type Definition struct {
	Slug        string
	Name        string
	Description string
	Context     Context
	Roles       []string
}

var (
	allRoles      = []string{RoleAdmin, RoleFacilityAdmin, RoleGeoAdmin, RoleDoctor, RoleNurse, RoleStaff, RoleVolunteer}
	adminRoles    = []string{RoleAdmin, RoleFacilityAdmin, RoleGeoAdmin}
	clinicalRoles = []string{RoleAdmin, RoleFacilityAdmin, RoleDoctor, RoleNurse}
	frontDesk     = []string{RoleAdmin, RoleFacilityAdmin, RoleDoctor, RoleNurse, RoleStaff}
)

// Catalog is the permission catalog seeded into every tenant.
var Catalog = []Definition{
	{CanViewOrganization, "Can view organization", "", ContextOrganization, allRoles},
	{CanCreateOrganization, "Can create organization", "", ContextOrganization, adminRoles},
	{CanWriteOrganization, "Can update organization", "", ContextOrganization, adminRoles},
	{CanDeleteOrganization, "Can delete organization", "Deletes a node and its descendants", ContextOrganization, []string{RoleAdmin, RoleGeoAdmin}},
	{CanManageOrganizationUsers, "Can manage organization users", "Bind users to an organization with a role", ContextOrganization, []string{RoleAdmin, RoleFacilityAdmin, RoleGeoAdmin, RoleNurse}},
	{CanListOrganizationUsers, "Can list organization users", "", ContextOrganization, allRoles},

	{CanCreateFacility, "Can create facility", "", ContextFacility, []string{RoleAdmin, RoleGeoAdmin}},
	{CanReadFacility, "Can read facility", "", ContextFacility, allRoles},
	{CanUpdateFacility, "Can update facility", "", ContextFacility, adminRoles},

	{CanViewFacilityOrganization, "Can view facility organization", "", ContextFacilityOrganization, allRoles},
	{CanWriteFacilityOrganization, "Can write facility organization", "", ContextFacilityOrganization, adminRoles},
	{CanManageFacilityOrganizationUsers, "Can manage facility organization users", "", ContextFacilityOrganization, adminRoles},
	{CanListFacilityOrganizationUsers, "Can list facility organization users", "", ContextFacilityOrganization, allRoles},

	{CanCreatePatient, "Can create patient", "", ContextPatient, frontDesk},
	{CanListPatients, "Can list patients", "", ContextPatient, allRoles},
	{CanWritePatient, "Can write patient", "", ContextPatient, frontDesk},
	{CanViewClinicalData, "Can view clinical data", "", ContextPatient, clinicalRoles},
	{CanManagePatientUser, "Can manage patient users", "", ContextPatient, clinicalRoles},

	{CanCreateEncounter, "Can create encounter", "", ContextEncounter, frontDesk},
	{CanListEncounters, "Can list encounters", "", ContextEncounter, frontDesk},
	{CanReadEncounter, "Can read encounter", "", ContextEncounter, frontDesk},
	{CanWriteEncounter, "Can write encounter", "", ContextEncounter, clinicalRoles},
	{CanSubmitEncounterQuestionnaire, "Can submit encounter questionnaire", "", ContextEncounter, clinicalRoles},
	{CanGenerateDischargeSummary, "Can generate discharge summary", "", ContextEncounter, clinicalRoles},

	{CanReadQuestionnaire, "Can read questionnaire", "", ContextQuestionnaire, allRoles},
	{CanWriteQuestionnaire, "Can write questionnaire", "", ContextQuestionnaire, []string{RoleAdmin, RoleFacilityAdmin}},

	{CanWriteUserSchedule, "Can write user schedule", "", ContextFacility, []string{RoleAdmin, RoleFacilityAdmin, RoleDoctor}},
	{CanListUserSchedule, "Can list user schedule", "", ContextFacility, frontDesk},
	{CanCreateAppointment, "Can create appointment", "", ContextFacility, frontDesk},
	{CanListBookings, "Can list bookings", "", ContextFacility, frontDesk},
	{CanWriteBooking, "Can update bookings", "", ContextFacility, frontDesk},

	{CanWriteValueset, "Can write valueset", "", ContextGeneric, []string{RoleAdmin}},
}

var catalogIndex = func() map[string]Definition {
	idx := make(map[string]Definition, len(Catalog))
	for _, d := range Catalog {
		idx[d.Slug] = d
	}
	return idx
}()

// Lookup returns the catalog entry for slug.
func Lookup(slug string) (Definition, bool) {
	d, ok := catalogIndex[slug]
	return d, ok
}

// DefaultPermissions returns the slugs seeded for a system role.
func DefaultPermissions(role string) []string {
	var slugs []string
	for _, d := range Catalog {
		for _, r := range d.Roles {
			if r == role {
				slugs = append(slugs, d.Slug)
				break
			}
		}
	}
	return slugs
}
