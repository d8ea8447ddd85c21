package authz

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Role is a coarse, totally ordered privilege level.
type Role string

const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var (
	ErrUnknownRole    = errors.New("unknown role")
	ErrDuplicateRole  = errors.New("role already registered")
	ErrRankTaken      = errors.New("role rank already taken")
	ErrUnknownGrant   = errors.New("unknown permission")
	ErrInvalidRoleDef = errors.New("invalid role definition")
)

// RoleDef defines a role. Grants lists only what the role adds over the
// roles ranked below it; the baseline of a role is cumulative.
type RoleDef struct {
	Name   Role
	Rank   int
	Grants []Permission
}

// Registry holds the ordered role ladder. Ranks leave gaps so custom roles
// can be inserted between the built-in ones.
type Registry struct {
	mu     sync.RWMutex
	byName map[Role]RoleDef
	ladder []RoleDef
}

// DefaultRoles is the built-in ladder.
func DefaultRoles() []RoleDef {
	return []RoleDef{
		{Name: RoleGuest, Rank: 10, Grants: []Permission{
			TenantRead, AnnouncementRead, PrayerRead, NotificationRead,
		}},
		{Name: RoleMember, Rank: 20, Grants: []Permission{
			PrayerPost, CalendarRead, PrincipalRead, AuthzCheck,
		}},
		{Name: RoleStaff, Rank: 30, Grants: []Permission{
			FollowUpRead, FollowUpUpdate, InviteCreate, InviteRead,
			AnnouncementPublish, CalendarWrite,
		}},
		{Name: RoleAdmin, Rank: 40, Grants: []Permission{
			FollowUpAssign, FollowUpOverride, InviteRevoke,
			PrincipalCreate, PrincipalManage, PrincipalGrant, FinanceView,
		}},
		{Name: RoleOwner, Rank: 50, Grants: []Permission{
			TenantManage, FinanceManage,
		}},
	}
}

// NewRegistry returns a registry seeded with DefaultRoles.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[Role]RoleDef)}
	for _, def := range DefaultRoles() {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a role at an unused rank.
func (r *Registry) Register(def RoleDef) error {
	if def.Name == "" || def.Rank <= 0 {
		return fmt.Errorf("%w: name and positive rank required", ErrInvalidRoleDef)
	}
	for _, p := range def.Grants {
		if !Known(p) {
			return fmt.Errorf("%w: %s", ErrUnknownGrant, p)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRole, def.Name)
	}
	for _, existing := range r.ladder {
		if existing.Rank == def.Rank {
			return fmt.Errorf("%w: %d (%s)", ErrRankTaken, def.Rank, existing.Name)
		}
	}

	def.Grants = append([]Permission(nil), def.Grants...)
	r.byName[def.Name] = def
	r.ladder = append(r.ladder, def)
	sort.Slice(r.ladder, func(i, j int) bool { return r.ladder[i].Rank < r.ladder[j].Rank })
	return nil
}

// Rank returns the rank of role, or false when the role is unknown.
func (r *Registry) Rank(role Role) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[role]
	return def.Rank, ok
}

// Valid reports whether role is registered.
func (r *Registry) Valid(role Role) bool {
	_, ok := r.Rank(role)
	return ok
}

// Below reports whether a ranks strictly below b. Unknown roles are never
// below anything.
func (r *Registry) Below(a, b Role) bool {
	ra, okA := r.Rank(a)
	rb, okB := r.Rank(b)
	return okA && okB && ra < rb
}

// AtLeast reports whether a ranks at or above b.
func (r *Registry) AtLeast(a, b Role) bool {
	ra, okA := r.Rank(a)
	rb, okB := r.Rank(b)
	return okA && okB && ra >= rb
}

// Baseline returns every permission granted to role and to each role below
// it. An unknown role has an empty baseline.
func (r *Registry) Baseline(role Role) PermissionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := NewPermissionSet()
	def, ok := r.byName[role]
	if !ok {
		return set
	}
	for _, d := range r.ladder {
		if d.Rank > def.Rank {
			break
		}
		set.Add(d.Grants...)
	}
	return set
}

// Roles returns the ladder from lowest to highest rank.
func (r *Registry) Roles() []RoleDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]RoleDef(nil), r.ladder...)
}
