package policy

import (
	"context"
	"slices"

	"github.com/diewo77/go-achats/gate"
)

// Ownable is implemented by rows that have an author.
type Ownable interface {
	GetUserID() uint
}

// OwnershipPolicy limits the listed actions to the row's author. Other actions pass.
type OwnershipPolicy struct {
	actions []gate.Action
}

// NewOwnershipPolicy guards the given actions; with none it guards every action.
func NewOwnershipPolicy(actions ...gate.Action) *OwnershipPolicy {
	return &OwnershipPolicy{actions: actions}
}

// Can checks if the user owns the resource.
// For list/create actions (resource is nil), it always returns true
// since profile permissions already control access.
func (p *OwnershipPolicy) Can(_ context.Context, userID uint, action gate.Action, resource any) bool {
	if resource == nil {
		return true
	}
	if len(p.actions) > 0 && !slices.Contains(p.actions, action) {
		return true
	}
	ownable, ok := resource.(Ownable)
	if !ok {
		// Rows without an author are never matched by accident.
		return false
	}
	return ownable.GetUserID() == userID
}

// BypassPolicy wraps another policy and allows everything when bypass is true.
type BypassPolicy struct {
	inner  gate.Policy[uint]
	bypass func(ctx context.Context, userID uint) bool
}

// NewBypassPolicy creates a policy that skips inner when bypass reports true.
func NewBypassPolicy(inner gate.Policy[uint], bypass func(ctx context.Context, userID uint) bool) *BypassPolicy {
	return &BypassPolicy{inner: inner, bypass: bypass}
}

// Can checks the bypass first, then falls back to the inner policy.
func (p *BypassPolicy) Can(ctx context.Context, userID uint, action gate.Action, resource any) bool {
	if p.bypass(ctx, userID) {
		return true
	}
	return p.inner.Can(ctx, userID, action, resource)
}

// HasPermission returns a bypass func granted by a permission.
func HasPermission(resolver gate.ProfileResolver[uint], perm gate.Permission) func(ctx context.Context, userID uint) bool {
	return func(ctx context.Context, userID uint) bool {
		profile, err := resolver.Resolve(ctx, userID)
		return err == nil && profile != nil && profile.HasPermission(perm)
	}
}
