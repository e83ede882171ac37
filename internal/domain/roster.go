package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role is the closed set of collaborator roles
type Role uint8

const (
	RoleViewer Role = iota + 1
	RoleReviewer
	RoleEditor
	RoleOwner
)

var roleNames = map[Role]string{
	RoleOwner:    "owner",
	RoleEditor:   "editor",
	RoleReviewer: "reviewer",
	RoleViewer:   "viewer",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole maps a role name to its Role
func ParseRole(s string) (Role, error) {
	for role, name := range roleNames {
		if strings.EqualFold(s, name) {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if _, ok := roleNames[r]; !ok {
		return nil, fmt.Errorf("unknown role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	role, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Permission is a single action a collaborator may perform
type Permission uint16

const (
	PermView Permission = 1 << iota
	PermComment
	PermEditContent
	PermAddMedia
	PermInviteCollaborators
	PermUpdatePermissions
	PermRemoveCollaborator
	PermPublish
)

var permissionNames = []struct {
	perm Permission
	name string
}{
	{PermView, "view"},
	{PermComment, "comment"},
	{PermEditContent, "editContent"},
	{PermAddMedia, "addMedia"},
	{PermInviteCollaborators, "inviteCollaborators"},
	{PermUpdatePermissions, "updatePermissions"},
	{PermRemoveCollaborator, "removeCollaborator"},
	{PermPublish, "publish"},
}

func (p Permission) String() string {
	for _, pn := range permissionNames {
		if pn.perm == p {
			return pn.name
		}
	}
	return fmt.Sprintf("permission(%d)", uint16(p))
}

// ParsePermission maps a permission name to its Permission
func ParsePermission(s string) (Permission, error) {
	for _, pn := range permissionNames {
		if strings.EqualFold(s, pn.name) {
			return pn.perm, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// PermissionSet is a bit set of permissions
type PermissionSet uint16

// NewPermissionSet builds a set from individual permissions
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s |= PermissionSet(p)
	}
	return s
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p Permission) bool {
	return s&PermissionSet(p) != 0
}

// SubsetOf reports whether every permission of s is also in other
func (s PermissionSet) SubsetOf(other PermissionSet) bool {
	return s&^other == 0
}

// Without returns s with p removed
func (s PermissionSet) Without(p Permission) PermissionSet {
	return s &^ PermissionSet(p)
}

// Names lists the permission names of the set in a stable order
func (s PermissionSet) Names() []string {
	names := []string{}
	for _, pn := range permissionNames {
		if s.Has(pn.perm) {
			names = append(names, pn.name)
		}
	}
	return names
}

// ParsePermissionSet builds a set from permission names
func ParsePermissionSet(names []string) (PermissionSet, error) {
	var s PermissionSet
	for _, n := range names {
		p, err := ParsePermission(n)
		if err != nil {
			return 0, err
		}
		s |= PermissionSet(p)
	}
	return s, nil
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *PermissionSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	set, err := ParsePermissionSet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

func (s PermissionSet) String() string {
	names := s.Names()
	sort.Strings(names)
	return "{" + strings.Join(names, ",") + "}"
}

// Collaborator is a member of a session roster
type Collaborator struct {
	UserID      string        `json:"user_id"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	IsActive    bool          `json:"is_active"`
	JoinedAt    time.Time     `json:"joined_at"`
}
