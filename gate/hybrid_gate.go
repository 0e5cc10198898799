// Package gate provides profile-based authorization with per-resource policies.
//
// A user resolves to one Profile holding "resource:action" permissions.
// HybridGate first checks that the profile grants the permission, then asks
// the resource policy (department scope, ownership) when a concrete resource
// is supplied.
package gate

import "context"

// Policy defines authorization rules for a resource type.
// For list/create, resource may be nil (context-only check).
type Policy[U any] interface {
	Can(ctx context.Context, user U, action Action, resource any) bool
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc[U any] func(ctx context.Context, user U, action Action, resource any) bool

func (f PolicyFunc[U]) Can(ctx context.Context, user U, action Action, resource any) bool {
	return f(ctx, user, action, resource)
}

// HybridGate combines profile-based global permissions with resource-specific policies.
type HybridGate[U comparable] struct {
	resolver ProfileResolver[U]
	policies map[string][]Policy[U]
}

// NewHybridGate creates a hybrid gate with the given profile resolver.
func NewHybridGate[U comparable](resolver ProfileResolver[U]) *HybridGate[U] {
	return &HybridGate[U]{
		resolver: resolver,
		policies: make(map[string][]Policy[U]),
	}
}

// Register appends a resource-specific policy. All registered policies
// for a resource type must allow the action.
func (g *HybridGate[U]) Register(resourceType string, p Policy[U]) {
	g.policies[resourceType] = append(g.policies[resourceType], p)
}

// Authorize checks:
//  1. User is valid (non-zero)
//  2. User's profile has permission for resource:action
//  3. If resource is provided, every policy registered for resourceType allows it
func (g *HybridGate[U]) Authorize(ctx context.Context, user U, action Action, resourceType string, resource any) error {
	profile, err := g.profile(ctx, user)
	if err != nil {
		return err
	}
	if !profile.HasPermission(NewPermission(resourceType, action)) {
		return ErrPermissionDenied
	}
	if resource != nil {
		for _, p := range g.policies[resourceType] {
			if !p.Can(ctx, user, action, resource) {
				return ErrPolicyDenied
			}
		}
	}
	return nil
}

// Can is a convenience wrapper returning bool instead of error.
func (g *HybridGate[U]) Can(ctx context.Context, user U, action Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, user, action, resourceType, resource) == nil
}

// CanProfile checks only the profile permission, without policies.
// Used by route middleware before a specific resource is loaded.
func (g *HybridGate[U]) CanProfile(ctx context.Context, user U, action Action, resourceType string) bool {
	profile, err := g.profile(ctx, user)
	if err != nil {
		return false
	}
	return profile.HasPermission(NewPermission(resourceType, action))
}

func (g *HybridGate[U]) profile(ctx context.Context, user U) (Profile, error) {
	var zero U
	if user == zero {
		return nil, ErrUnauthorized
	}
	profile, err := g.resolver.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrNoProfile
	}
	return profile, nil
}
