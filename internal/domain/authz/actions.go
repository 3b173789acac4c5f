package authz

import (
	"context"

	"github.com/care/emr/internal/domain/permission"
)

// Action names.
const (
	CanCreateOrganization       = "can_create_organization"
	CanViewOrganization         = "can_view_organization"
	CanWriteOrganization        = "can_write_organization"
	CanDeleteOrganization       = "can_delete_organization"
	CanManageOrganizationUsers  = "can_manage_organization_users"
	CanListOrganizationUsers    = "can_list_organization_users"
	CanCreateFacility           = "can_create_facility"
	CanReadFacility             = "can_read_facility"
	CanUpdateFacility           = "can_update_facility"
	CanViewFacilityOrganization = "can_view_facility_organization"

	CanWriteFacilityOrganization       = "can_write_facility_organization"
	CanManageFacilityOrganizationUsers = "can_manage_facility_organization_users"
	CanListFacilityOrganizationUsers   = "can_list_facility_organization_users"

	CanCreatePatient      = "can_create_patient"
	CanViewPatient        = "can_view_patient"
	CanWritePatient       = "can_write_patient"
	CanViewClinicalData   = "can_view_clinical_data"
	CanManagePatientUsers = "can_manage_patient_users"

	CanCreateEncounter              = "can_create_encounter"
	CanViewEncounter                = "can_view_encounter"
	CanUpdateEncounter              = "can_update_encounter"
	CanSubmitEncounterQuestionnaire = "can_submit_encounter_questionnaire"
	CanGenerateDischargeSummary     = "can_generate_discharge_summary"

	CanReadQuestionnaire  = "can_read_questionnaire"
	CanWriteQuestionnaire = "can_write_questionnaire"
	CanWriteValueset      = "can_write_valueset"

	CanWriteUserSchedule = "can_write_user_schedule"
	CanListUserSchedule  = "can_list_user_schedule"
	CanCreateAppointment = "can_create_appointment"
	CanListBookings      = "can_list_bookings"
	CanWriteBooking      = "can_write_booking"
)

func perms(slugs ...string) []string { return slugs }

// inOrganization builds an action checking perm on the organization's chain.
func inOrganization(perm string) Action {
	return func(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
		if a.Organization == nil {
			return false, nil
		}
		return c.CheckPermissionInOrganization(ctx, perms(perm), u, a.Organization.Chain())
	}
}

// inFacilityOrganization builds an action checking perm on the facility
// organization's chain.
func inFacilityOrganization(perm string) Action {
	return func(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
		n := a.FacilityOrganization
		if n == nil {
			return false, nil
		}
		return c.CheckPermissionInFacilityOrganization(ctx, perms(perm), u, n.Chain(), n.FacilityID)
	}
}

// inFacility builds an action checking perm anywhere within a.FacilityID.
func inFacility(perm string) Action {
	return func(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
		if a.FacilityID == 0 {
			return false, nil
		}
		return c.CheckPermissionInFacilityOrganization(ctx, perms(perm), u, nil, a.FacilityID)
	}
}

// inEncounter builds an action checking perm on the encounter's cache,
// optionally refusing closed encounters.
func inEncounter(perm string, mutating bool) Action {
	return func(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
		e := a.Encounter
		if e == nil || (mutating && e.Closed) {
			return false, nil
		}
		cache := e.FacilityOrganizationCache
		if cache == nil {
			cache = []int64{}
		}
		return c.CheckPermissionInFacilityOrganization(ctx, perms(perm), u, cache, e.FacilityID)
	}
}

// onPatient builds an action checking perm over the roles u holds on the patient.
func onPatient(perm string) Action {
	return func(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
		if a.Patient == nil {
			return false, nil
		}
		if u.IsSuperuser {
			return true, nil
		}
		roles, err := c.FindRolesOnPatient(ctx, u, a.Patient)
		if err != nil {
			return false, err
		}
		return c.rolesGrant(ctx, roles, perms(perm))
	}
}

// anywhere builds an action checking perm in any binding of either tree.
func anywhere(perm string) Action {
	return func(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
		ok, err := c.CheckPermissionInOrganization(ctx, perms(perm), u, nil)
		if err != nil || ok {
			return ok, err
		}
		return c.CheckPermissionInFacilityOrganization(ctx, perms(perm), u, nil, 0)
	}
}

func canCreateOrganization(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	if a.Organization == nil {
		// Root organizations are created by superusers only.
		return u.IsSuperuser, nil
	}
	return c.CheckPermissionInOrganization(ctx, perms(permission.CanCreateOrganization), u, a.Organization.Chain())
}

func canViewOrganization(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	if a.Organization == nil {
		return false, nil
	}
	if a.Organization.Public {
		return true, nil
	}
	grants, err := c.grants.OrganizationGrants(ctx, u.ID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.NodeID == a.Organization.ID {
			return true, nil
		}
	}
	return c.CheckPermissionInOrganization(ctx, perms(permission.CanViewOrganization), u, a.Organization.Chain())
}

func canManageOrganizationUsers(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	if a.Organization == nil || a.RoleID == 0 {
		return false, nil
	}
	grants, err := c.grants.OrganizationGrants(ctx, u.ID)
	if err != nil {
		return false, err
	}
	return c.canGrantRole(ctx, u, grants, a.Organization.Chain(), permission.CanManageOrganizationUsers, a.RoleID)
}

func canManageFacilityOrganizationUsers(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	n := a.FacilityOrganization
	if n == nil || a.RoleID == 0 {
		return false, nil
	}
	grants, err := c.grants.FacilityOrganizationGrants(ctx, u.ID, n.FacilityID)
	if err != nil {
		return false, err
	}
	return c.canGrantRole(ctx, u, grants, n.Chain(), permission.CanManageFacilityOrganizationUsers, a.RoleID)
}

func canCreateFacility(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	if a.Organization == nil {
		return u.IsSuperuser, nil
	}
	return c.CheckPermissionInOrganization(ctx, perms(permission.CanCreateFacility), u, a.Organization.Chain())
}

func canReadFacility(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	if u.IsSuperuser {
		return true, nil
	}
	grants, err := c.grants.FacilityOrganizationGrants(ctx, u.ID, a.FacilityID)
	if err != nil {
		return false, err
	}
	return len(grants) > 0, nil
}

// canWriteUserSchedule holds when u has the schedule permission on an
// ancestor of any facility organization the schedule's user belongs to.
func canWriteUserSchedule(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	if a.FacilityID == 0 || a.ScheduleUserID == 0 {
		return false, nil
	}
	memberships, err := c.grants.FacilityOrganizationGrants(ctx, a.ScheduleUserID, a.FacilityID)
	if err != nil {
		return false, err
	}
	chains := newIDSet()
	for _, m := range memberships {
		chains.add(m.Chain...)
		chains.add(m.NodeID)
	}
	if len(chains) == 0 {
		return u.IsSuperuser, nil
	}
	return c.CheckPermissionInFacilityOrganization(ctx, perms(permission.CanWriteUserSchedule), u, chains.slice(), a.FacilityID)
}

func canReadQuestionnaire(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	if a.Organization != nil {
		return c.CheckPermissionInOrganization(ctx, perms(permission.CanReadQuestionnaire), u, a.Organization.Chain())
	}
	return anywhere(permission.CanReadQuestionnaire)(ctx, c, u, a)
}

func canWriteFacilityOrganization(ctx context.Context, c *Controller, u *User, a Args) (bool, error) {
	if a.FacilityOrganization == nil && a.FacilityID != 0 {
		return inFacility(permission.CanWriteFacilityOrganization)(ctx, c, u, a)
	}
	return inFacilityOrganization(permission.CanWriteFacilityOrganization)(ctx, c, u, a)
}

var builtinActions = map[string]Action{
	CanCreateOrganization:      canCreateOrganization,
	CanViewOrganization:        canViewOrganization,
	CanWriteOrganization:       inOrganization(permission.CanWriteOrganization),
	CanDeleteOrganization:      inOrganization(permission.CanDeleteOrganization),
	CanManageOrganizationUsers: canManageOrganizationUsers,
	CanListOrganizationUsers:   inOrganization(permission.CanListOrganizationUsers),

	CanCreateFacility: canCreateFacility,
	CanReadFacility:   canReadFacility,
	CanUpdateFacility: inFacility(permission.CanUpdateFacility),

	CanViewFacilityOrganization:        inFacilityOrganization(permission.CanViewFacilityOrganization),
	CanWriteFacilityOrganization:       canWriteFacilityOrganization,
	CanManageFacilityOrganizationUsers: canManageFacilityOrganizationUsers,
	CanListFacilityOrganizationUsers:   inFacilityOrganization(permission.CanListFacilityOrganizationUsers),

	CanCreatePatient:      anywhere(permission.CanCreatePatient),
	CanViewPatient:        onPatient(permission.CanListPatients),
	CanWritePatient:       onPatient(permission.CanWritePatient),
	CanViewClinicalData:   onPatient(permission.CanViewClinicalData),
	CanManagePatientUsers: onPatient(permission.CanManagePatientUser),

	CanCreateEncounter:              inFacility(permission.CanCreateEncounter),
	CanViewEncounter:                inEncounter(permission.CanReadEncounter, false),
	CanUpdateEncounter:              inEncounter(permission.CanWriteEncounter, true),
	CanSubmitEncounterQuestionnaire: inEncounter(permission.CanSubmitEncounterQuestionnaire, true),
	CanGenerateDischargeSummary:     inEncounter(permission.CanGenerateDischargeSummary, false),

	CanReadQuestionnaire:  canReadQuestionnaire,
	CanWriteQuestionnaire: anywhere(permission.CanWriteQuestionnaire),
	CanWriteValueset:      anywhere(permission.CanWriteValueset),

	CanWriteUserSchedule: canWriteUserSchedule,
	CanListUserSchedule:  inFacility(permission.CanListUserSchedule),
	CanCreateAppointment: inFacility(permission.CanCreateAppointment),
	CanListBookings:      inFacility(permission.CanListBookings),
	CanWriteBooking:      inFacility(permission.CanWriteBooking),
}
