// Package organization maintains the two organization trees: the global
// Organization tree (governance, teams, roles) and the per-facility
// FacilityOrganization tree (departments, teams).
package organization

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/authz"
)

// Tree selects which of the two hierarchies a node belongs to.
type Tree int

const (
	TreeOrganization Tree = iota
	TreeFacility
)

func (t Tree) table() string {
	if t == TreeFacility {
		return "facility_organization"
	}
	return "organization"
}

func (t Tree) String() string {
	if t == TreeFacility {
		return "facility organization"
	}
	return "organization"
}

// Organization types.
const (
	TypeGovt  = "govt"
	TypeTeam  = "team"
	TypeRole  = "role"
	TypeOther = "other"

	// Facility organization types.
	TypeRoot = "root"
	TypeDept = "dept"
)

var orgTypes = map[Tree]map[string]bool{
	TreeOrganization: {TypeGovt: true, TypeTeam: true, TypeRole: true, TypeOther: true},
	TreeFacility:     {TypeRoot: true, TypeDept: true, TypeTeam: true, TypeOther: true},
}

type Organization struct {
	ID              int64                  `json:"-"`
	ExternalID      uuid.UUID              `json:"id"`
	Tree            Tree                   `json:"-"`
	FacilityID      *int64                 `json:"-"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	OrgType         string                 `json:"org_type"`
	ParentID        *int64                 `json:"-"`
	RootOrgID       *int64                 `json:"-"`
	LevelCache      int                    `json:"level_cache"`
	ParentCache     []int64                `json:"-"`
	HasChildren     bool                   `json:"has_children"`
	SystemGenerated bool                   `json:"system_generated"`
	Metadata        map[string]interface{} `json:"metadata"`
	Parent          json.RawMessage        `json:"parent,omitempty"`
	ParentCachedAt  *time.Time             `json:"-"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Node returns the authorization view of the organization.
func (o *Organization) Node() *authz.Node {
	n := &authz.Node{ID: o.ID, ParentCache: o.ParentCache}
	if o.FacilityID != nil {
		n.FacilityID = *o.FacilityID
	}
	n.Public = o.Tree == TreeOrganization && o.OrgType == TypeGovt
	return n
}

// applyParent derives the tree caches of o from its parent. A nil parent
// makes o a root.
func (o *Organization) applyParent(parent *Organization) {
	if parent == nil {
		o.ParentID = nil
		o.RootOrgID = nil
		o.LevelCache = 0
		o.ParentCache = []int64{}
		return
	}
	pid := parent.ID
	o.ParentID = &pid
	o.LevelCache = parent.LevelCache + 1
	o.ParentCache = append(append(make([]int64, 0, len(parent.ParentCache)+1), parent.ParentCache...), parent.ID)
	if parent.RootOrgID != nil {
		root := *parent.RootOrgID
		o.RootOrgID = &root
	} else {
		o.RootOrgID = &pid
	}
}

// chainEntry is one level of the denormalized ancestor chain.
type chainEntry struct {
	ID      uuid.UUID   `json:"id"`
	Name    string      `json:"name"`
	OrgType string      `json:"org_type"`
	Parent  *chainEntry `json:"parent,omitempty"`
}

// Filter narrows List. Scope is applied as returned by the authorization
// queries.
type Filter struct {
	Tree       Tree
	FacilityID int64
	ParentID   *int64
	RootsOnly  bool
	OrgType    string
	Name       string
	Scope      authz.Scope
	Limit      int
	Offset     int
}
