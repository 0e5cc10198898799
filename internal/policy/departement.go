package policy

import (
	"context"

	"github.com/diewo77/go-achats/gate"
)

// DepartementScoped is implemented by rows that belong to a department.
type DepartementScoped interface {
	GetDepartementID() uint
}

// DepartementPolicy restricts access to rows of the caller's department unless
// the profile grants "<resource>:all_departments".
type DepartementPolicy struct {
	resolver gate.ProfileResolver[uint]
	resource string
}

// NewDepartementPolicy creates the policy for one resource type.
func NewDepartementPolicy(resolver gate.ProfileResolver[uint], resource string) *DepartementPolicy {
	return &DepartementPolicy{resolver: resolver, resource: resource}
}

// Can allows list/create (nil resource), any row for all_departments holders,
// and rows of the caller's own department otherwise.
func (p *DepartementPolicy) Can(ctx context.Context, userID uint, _ gate.Action, resource any) bool {
	if resource == nil {
		return true
	}
	scoped, ok := resource.(DepartementScoped)
	if !ok {
		return false
	}
	profile, err := p.resolver.Resolve(ctx, userID)
	if err != nil || profile == nil {
		return false
	}
	if profile.HasPermission(gate.NewPermission(p.resource, gate.ActionAllDepartments)) {
		return true
	}
	sp, ok := profile.(ScopedProfile)
	if !ok || sp.DepartementID() == 0 {
		return false
	}
	return sp.DepartementID() == scoped.GetDepartementID()
}
