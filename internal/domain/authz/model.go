// Package authz resolves capability checks (can_*) and list filters (get_*)
// against role bindings and the permission registry.
package authz

import (
	"context"

	"github.com/care/emr/internal/platform/auth"
)

type User = auth.User

// Node is a position in either organization tree.
type Node struct {
	ID          int64
	ParentCache []int64
	FacilityID  int64
	// Public nodes (govt organizations) are readable by everyone.
	Public bool
}

// Chain returns the node's ancestors followed by the node itself.
func (n *Node) Chain() []int64 {
	chain := make([]int64, 0, len(n.ParentCache)+1)
	chain = append(chain, n.ParentCache...)
	return append(chain, n.ID)
}

type Encounter struct {
	ID                        int64
	PatientID                 int64
	FacilityID                int64
	Closed                    bool
	FacilityOrganizationCache []int64
}

type Patient struct {
	ID                int64
	OrganizationCache []int64
	UsersCache        []int64
}

// Args carries the targets of a check. Each handler reads the fields it needs.
type Args struct {
	FacilityID           int64
	Encounter            *Encounter
	Patient              *Patient
	Organization         *Node
	FacilityOrganization *Node
	RoleID               int64
	ScheduleUserID       int64
}

// Grant is one role binding of a user, with the bound node's chain.
type Grant struct {
	NodeID int64
	RoleID int64
	Chain  []int64
}

// Scope is the result of a get_* query. Repositories translate it into
// SQL predicates over the cache columns.
type Scope struct {
	Unrestricted bool
	// IDs are nodes where the user holds a role granting the queried permission.
	IDs []int64
	// MemberIDs are every node the user is bound to.
	MemberIDs []int64
	UserID    int64
}

// Empty reports whether the scope can match nothing.
func (s Scope) Empty() bool {
	return !s.Unrestricted && len(s.IDs) == 0 && len(s.MemberIDs) == 0 && s.UserID == 0
}

// RoleSource is the permission registry.
type RoleSource interface {
	RolesGranting(ctx context.Context, slugs []string) ([]int64, error)
	PermissionsOf(ctx context.Context, roleID int64) ([]string, error)
}

// GrantSource reads role bindings. A zero facilityID means every facility.
type GrantSource interface {
	OrganizationGrants(ctx context.Context, userID int64) ([]Grant, error)
	FacilityOrganizationGrants(ctx context.Context, userID, facilityID int64) ([]Grant, error)
	PatientGrants(ctx context.Context, userID, patientID int64) ([]Grant, error)
}

// EncounterSource returns the facility organization caches of a patient's
// encounters that are not closed.
type EncounterSource interface {
	OpenEncounterCaches(ctx context.Context, patientID int64) ([][]int64, error)
}
