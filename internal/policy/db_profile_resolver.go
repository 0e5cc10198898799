package policy

import (
	"context"
	"errors"
	"slices"

	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
)

// DBProfileResolver fetches user profiles from the database.
// It implements the gate.ProfileResolver interface for uint user IDs.
type DBProfileResolver struct {
	DB *gorm.DB
}

// NewDBProfileResolver creates a new database-backed profile resolver.
func NewDBProfileResolver(db *gorm.DB) *DBProfileResolver {
	return &DBProfileResolver{DB: db}
}

// Resolve looks up the user's profile, preloading permissions.
// Unknown, inactive or profile-less users resolve to nil.
func (r *DBProfileResolver) Resolve(ctx context.Context, userID uint) (gate.Profile, error) {
	var user models.User
	err := r.DB.WithContext(ctx).Preload("Profile.Permissions").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.Profile == nil || !user.Active {
		return nil, nil
	}
	return newProfileAdapter(user.Profile, user.DepartementOf()), nil
}

// ScopedProfile is a profile that knows the department of its user.
type ScopedProfile interface {
	gate.Profile
	DepartementID() uint
}

// dbProfile wraps a models.Profile with the user's department.
type dbProfile struct {
	id            uint
	name          string
	departementID uint
	granted       map[gate.Permission]bool
}

func newProfileAdapter(p *models.Profile, departementID uint) *dbProfile {
	granted := make(map[gate.Permission]bool, len(p.Permissions))
	for _, perm := range p.Permissions {
		granted[gate.NewPermission(perm.ResourceType, gate.Action(perm.Action))] = true
	}
	return &dbProfile{id: p.ID, name: p.Name, departementID: departementID, granted: granted}
}

func (a *dbProfile) ID() uint            { return a.id }
func (a *dbProfile) Name() string        { return a.name }
func (a *dbProfile) DepartementID() uint { return a.departementID }

// HasPermission supports "*:*", "resource:*" and "*:action" grants.
func (a *dbProfile) HasPermission(perm gate.Permission) bool {
	return gate.AnyMatches(a.granted, perm)
}

// Permissions returns the granted permissions, sorted.
func (a *dbProfile) Permissions() []gate.Permission {
	out := make([]gate.Permission, 0, len(a.granted))
	for p := range a.granted {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
