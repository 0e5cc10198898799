package policy

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/httpx"
)

// AuthGate holds the configured HybridGate with caching.
type AuthGate struct {
	Gate          *gate.HybridGate[uint]
	CacheResolver *gate.CachedResolver[uint]
}

// NewAuthGate wires the database resolver, the TTL cache and the gate.
func NewAuthGate(db *gorm.DB, cacheTTL time.Duration) *AuthGate {
	return NewAuthGateWithResolver(NewDBProfileResolver(db), cacheTTL)
}

// NewAuthGateWithResolver builds a gate over any resolver and registers the
// department and ownership policies of every workflow resource.
func NewAuthGateWithResolver(resolver gate.ProfileResolver[uint], cacheTTL time.Duration) *AuthGate {
	cached := gate.NewCachedResolver[uint](resolver, cacheTTL)
	ag := &AuthGate{Gate: gate.NewHybridGate[uint](cached), CacheResolver: cached}

	for _, res := range []string{ResourceBesoin, ResourceDemandeAchat, ResourceBonLivraison, ResourceDossier} {
		ag.RegisterPolicy(res, NewDepartementPolicy(cached, res))
	}

	superAdmin := HasPermission(cached, gate.PermissionSuperAdmin)
	// A demandeur edits and deletes only their own drafts.
	ag.RegisterPolicy(ResourceBesoin, NewBypassPolicy(
		NewOwnershipPolicy(gate.ActionUpdate, gate.ActionDelete), superAdmin))
	ag.RegisterPolicy(ResourceDemandeAchat, NewBypassPolicy(
		NewOwnershipPolicy(gate.ActionUpdate, gate.ActionDelete), superAdmin))
	return ag
}

// RegisterPolicy adds a policy for a resource type.
func (ag *AuthGate) RegisterPolicy(resourceType string, p gate.Policy[uint]) {
	ag.Gate.Register(resourceType, p)
}

// Authorize checks if the current user can perform an action on a resource.
// Returns nil if authorized, an error wrapping gate.ErrUnauthorized otherwise.
func (ag *AuthGate) Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return gate.ErrUnauthorized
	}
	return ag.Gate.Authorize(ctx, userID, action, resourceType, resource)
}

// Can is a convenience method that returns bool instead of error.
func (ag *AuthGate) Can(ctx context.Context, action gate.Action, resourceType string, resource any) bool {
	return ag.Authorize(ctx, action, resourceType, resource) == nil
}

// CanProfile checks only profile permissions (no resource policy).
func (ag *AuthGate) CanProfile(ctx context.Context, action gate.Action, resourceType string) bool {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return false
	}
	return ag.Gate.CanProfile(ctx, userID, action, resourceType)
}

// Caller describes the authenticated user as seen by the gate.
type Caller struct {
	UserID        uint
	Profile       string
	DepartementID uint
	Permissions   []gate.Permission
}

// Caller resolves the current user's profile; ok is false when anonymous or profile-less.
func (ag *AuthGate) Caller(ctx context.Context) (Caller, bool) {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return Caller{}, false
	}
	profile, err := ag.CacheResolver.Resolve(ctx, userID)
	if err != nil || profile == nil {
		return Caller{UserID: userID}, false
	}
	c := Caller{UserID: userID, Profile: profile.Name(), Permissions: profile.Permissions()}
	if sp, ok := profile.(ScopedProfile); ok {
		c.DepartementID = sp.DepartementID()
	}
	return c, true
}

// DepartementFilter returns the department a listing must be restricted to.
// unrestricted is set when the caller may see every department. A caller
// with neither the bypass nor a department gets (0, false).
func (ag *AuthGate) DepartementFilter(ctx context.Context, resourceType string) (uint, bool) {
	if ag.CanProfile(ctx, gate.ActionAllDepartments, resourceType) {
		return 0, true
	}
	c, _ := ag.Caller(ctx)
	return c.DepartementID, false
}

// InvalidateUser clears the cache for a specific user.
func (ag *AuthGate) InvalidateUser(userID uint) {
	ag.CacheResolver.Invalidate(userID)
}

// InvalidateAll clears the entire profile cache.
func (ag *AuthGate) InvalidateAll() {
	ag.CacheResolver.InvalidateAll()
}

// RequirePermission returns middleware that checks profile permission.
func (ag *AuthGate) RequirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ag.CanProfile(r.Context(), action, resourceType) {
				httpx.LocalizedError(w, r, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin returns middleware that only allows the "*:*" superadmin permission.
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				httpx.LocalizedError(w, r, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			profile, err := ag.CacheResolver.Resolve(r.Context(), userID)
			if err != nil || profile == nil || !profile.HasPermission(gate.PermissionSuperAdmin) {
				httpx.LocalizedError(w, r, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
