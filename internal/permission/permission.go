// Package permission maps collaborator roles to the actions they may perform.
package permission

import (
	"collaborative-draft-editor/internal/domain"
	"time"
)

var roleMaximum = map[domain.Role]domain.PermissionSet{
	domain.RoleOwner: domain.NewPermissionSet(
		domain.PermView,
		domain.PermEditContent,
		domain.PermAddMedia,
		domain.PermInviteCollaborators,
		domain.PermUpdatePermissions,
		domain.PermRemoveCollaborator,
		domain.PermPublish,
	),
	domain.RoleEditor:   domain.NewPermissionSet(domain.PermView, domain.PermEditContent, domain.PermAddMedia),
	domain.RoleReviewer: domain.NewPermissionSet(domain.PermView, domain.PermComment),
	domain.RoleViewer:   domain.NewPermissionSet(domain.PermView),
}

// Maximum returns the widest permission set a role may hold
func Maximum(role domain.Role) domain.PermissionSet {
	return roleMaximum[role]
}

// NewCollaborator builds a roster entry holding the role's full permission set
func NewCollaborator(userID string, role domain.Role, joinedAt time.Time) domain.Collaborator {
	return domain.Collaborator{
		UserID:      userID,
		Role:        role,
		Permissions: Maximum(role),
		IsActive:    true,
		JoinedAt:    joinedAt,
	}
}

// Check reports whether the collaborator may perform action.
// Inactive or missing collaborators are denied everything.
func Check(c *domain.Collaborator, action domain.Permission) bool {
	if c == nil || !c.IsActive {
		return false
	}
	// never trust a stored set wider than the role allows
	return c.Permissions.Has(action) && Maximum(c.Role).Has(action)
}

// Allowed reports whether perms is a legal explicit set for role
func Allowed(role domain.Role, perms domain.PermissionSet) bool {
	return perms.SubsetOf(Maximum(role))
}

// ForEdit returns the permission an edit of the given type requires
func ForEdit(t domain.EditType) domain.Permission {
	switch t {
	case domain.EditMediaAdd, domain.EditMediaRemove:
		return domain.PermAddMedia
	}
	return domain.PermEditContent
}
