// Package authz resolves effective permissions and answers authorization
// questions. It is pure: every decision is made from the snapshot the caller
// passes in.
package authz

import "github.com/google/uuid"

// Principal is the authorization view of a principal.
type Principal struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Role      Role
	Grants    []Permission
	Suspended bool
}

// Tenant is the authorization view of a tenant.
type Tenant struct {
	ID     uuid.UUID
	Active bool
}

// Subject is a principal together with the tenant it belongs to, as read
// from the store at the time of the decision.
type Subject struct {
	Principal Principal
	Tenant    *Tenant
}

// Resource identifies the tenant that owns the target of an action.
type Resource struct {
	TenantID uuid.UUID
}

// In is shorthand for a resource owned by tenantID.
func In(tenantID uuid.UUID) *Resource {
	return &Resource{TenantID: tenantID}
}

type Resolver struct {
	roles *Registry
}

// NewResolver returns a resolver over roles. A nil registry means the
// built-in ladder.
func NewResolver(roles *Registry) *Resolver {
	if roles == nil {
		roles = NewRegistry()
	}
	return &Resolver{roles: roles}
}

func (r *Resolver) Roles() *Registry {
	return r.roles
}

// Resolve returns baseline(role) united with the principal's explicit grants.
// Unknown grants are ignored.
func (r *Resolver) Resolve(p Principal) PermissionSet {
	set := r.roles.Baseline(p.Role)
	for _, g := range p.Grants {
		if Known(g) {
			set.Add(g)
		}
	}
	return set
}

// Authorize decides whether s may perform action on res. It denies when the
// tenant snapshot is missing or inactive, when the principal is suspended,
// and whenever the resource belongs to another tenant, whatever the role.
func (r *Resolver) Authorize(s Subject, action Permission, res *Resource) bool {
	if s.Tenant == nil || !s.Tenant.Active || s.Tenant.ID != s.Principal.TenantID {
		return false
	}
	if s.Principal.Suspended {
		return false
	}
	if res != nil && res.TenantID != s.Principal.TenantID {
		return false
	}
	return r.Resolve(s.Principal).Has(action)
}

// CanAssignRole reports whether actor may hand out role, through an
// invitation or a role change. Only roles strictly below the actor's own
// qualify.
func (r *Resolver) CanAssignRole(actor Principal, role Role) bool {
	return r.roles.Below(role, actor.Role)
}
