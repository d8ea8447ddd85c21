package authz

import "sort"

// Permission is an action string of the form "resource:verb".
type Permission string

const (
	TenantRead   Permission = "tenant:read"
	TenantManage Permission = "tenant:manage"

	PrincipalRead   Permission = "principal:read"
	PrincipalCreate Permission = "principal:create"
	PrincipalManage Permission = "principal:manage"
	PrincipalGrant  Permission = "principal:grant"

	InviteCreate Permission = "invite:create"
	InviteRead   Permission = "invite:read"
	InviteRevoke Permission = "invite:revoke"

	FollowUpRead     Permission = "followup:read"
	FollowUpUpdate   Permission = "followup:update"
	FollowUpAssign   Permission = "followup:assign"
	FollowUpOverride Permission = "followup:override"

	AuthzCheck       Permission = "authz:check"
	NotificationRead Permission = "notification:read"

	AnnouncementRead    Permission = "announcement:read"
	AnnouncementPublish Permission = "announcement:publish"
	CalendarRead        Permission = "calendar:read"
	CalendarWrite       Permission = "calendar:write"
	PrayerRead          Permission = "prayer:read"
	PrayerPost          Permission = "prayer:post"
	FinanceView         Permission = "finance:view"
	FinanceManage       Permission = "finance:manage"
)

// Catalogue lists every permission the service understands. Grants outside
// it are rejected.
var Catalogue = []Permission{
	TenantRead, TenantManage,
	PrincipalRead, PrincipalCreate, PrincipalManage, PrincipalGrant,
	InviteCreate, InviteRead, InviteRevoke,
	FollowUpRead, FollowUpUpdate, FollowUpAssign, FollowUpOverride,
	AuthzCheck, NotificationRead,
	AnnouncementRead, AnnouncementPublish,
	CalendarRead, CalendarWrite,
	PrayerRead, PrayerPost,
	FinanceView, FinanceManage,
}

var known = func() map[Permission]bool {
	m := make(map[Permission]bool, len(Catalogue))
	for _, p := range Catalogue {
		m[p] = true
	}
	return m
}()

// Known reports whether p is in the catalogue.
func Known(p Permission) bool {
	return known[p]
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s PermissionSet) Add(perms ...Permission) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// Contains reports whether every permission of other is in s.
func (s PermissionSet) Contains(other PermissionSet) bool {
	for p := range other {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Sorted returns the set as a sorted slice, for stable output.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
