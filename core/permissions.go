package core

import (
	"fmt"
	"net/http"
	"strings"
)

// Capability is an administrative action on users or sessions.
type Capability int

// The capability set is closed; AccessControl only grants these values.
const (
	CapUserCreate Capability = iota + 1
	CapUserList
	CapUserSetRole
	CapUserBan
	CapUserImpersonate
	CapUserDelete
	CapUserSetPassword
	CapSessionList
	CapSessionRevoke
	CapSessionDelete
)

var capabilityNames = map[Capability]string{
	CapUserCreate:      "user:create",
	CapUserList:        "user:list",
	CapUserSetRole:     "user:set-role",
	CapUserBan:         "user:ban",
	CapUserImpersonate: "user:impersonate",
	CapUserDelete:      "user:delete",
	CapUserSetPassword: "user:set-password",
	CapSessionList:     "session:list",
	CapSessionRevoke:   "session:revoke",
	CapSessionDelete:   "session:delete",
}

// AllCapabilities lists every capability in declaration order.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, len(capabilityNames))
	for c := CapUserCreate; c <= CapSessionDelete; c++ {
		caps = append(caps, c)
	}
	return caps
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// ParseCapability converts a "resource:action" string into a Capability.
func ParseCapability(s string) (Capability, error) {
	for c, name := range capabilityNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", s)
}

// ParseCapabilities converts a resource to actions map, as sent by clients,
// into capabilities.
func ParseCapabilities(permissions map[string][]string) ([]Capability, error) {
	var caps []Capability
	for resource, actions := range permissions {
		for _, action := range actions {
			c, err := ParseCapability(resource + ":" + action)
			if err != nil {
				return nil, err
			}
			caps = append(caps, c)
		}
	}
	return caps, nil
}

// Roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// AccessControl maps role labels to the capabilities they grant.
type AccessControl struct {
	roles map[string]map[Capability]bool
}

// NewAccessControl creates an empty role table.
func NewAccessControl() *AccessControl {
	return &AccessControl{roles: make(map[string]map[Capability]bool)}
}

// DefaultAccessControl grants every capability to admin and none to user.
func DefaultAccessControl() *AccessControl {
	ac := NewAccessControl()
	ac.Grant(RoleAdmin, AllCapabilities()...)
	ac.Grant(RoleUser)
	return ac
}

// Grant adds caps to role, creating the role when needed.
func (ac *AccessControl) Grant(role string, caps ...Capability) {
	set, ok := ac.roles[role]
	if !ok {
		set = make(map[Capability]bool)
		ac.roles[role] = set
	}
	for _, c := range caps {
		set[c] = true
	}
}

// Allows reports whether a role label grants every capability in caps. A
// multi-role label ("user,admin") grants the union of its roles.
func (ac *AccessControl) Allows(roleLabel string, caps ...Capability) bool {
	granted := make(map[Capability]bool)
	for _, role := range strings.Split(roleLabel, ",") {
		for c := range ac.roles[strings.TrimSpace(role)] {
			granted[c] = true
		}
	}
	for _, c := range caps {
		if !granted[c] {
			return false
		}
	}
	return true
}

// IsAdmin reports whether the user holds any administrative capability.
func (ac *AccessControl) IsAdmin(u *User) bool {
	if u == nil {
		return false
	}
	for _, c := range AllCapabilities() {
		if ac.Allows(u.Role, c) {
			return true
		}
	}
	return false
}

// HasPermission resolves the session for r and reports whether its user holds
// every capability in caps. Without a session it returns false.
func (a *AuthService) HasPermission(r *http.Request, caps ...Capability) bool {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return false
	}
	return a.access.Allows(sc.User.Role, caps...)
}

// OrgCapability is an action inside an organization.
type OrgCapability int

const (
	OrgUpdate OrgCapability = iota + 1
	OrgDelete
	OrgMemberCreate
	OrgMemberUpdate
	OrgMemberDelete
	OrgInvitationCreate
	OrgInvitationCancel
)

// orgRoleAllows is the fixed organization role table: owners may do
// everything, admins everything but deleting the organization.
func orgRoleAllows(role string, c OrgCapability) bool {
	switch role {
	case MemberRoleOwner:
		return true
	case MemberRoleAdmin:
		return c != OrgDelete
	default:
		return false
	}
}
