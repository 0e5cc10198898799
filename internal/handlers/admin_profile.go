package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/validation"
)

// AdminProfileHandler handles CRUD operations for profiles.
// It allows admins to create, edit, delete profiles and manage their permissions.
type AdminProfileHandler struct {
	base
	DB            *gorm.DB
	CacheResolver *gate.CachedResolver[uint] // To invalidate cache on changes
}

// NewAdminProfileHandler creates a new admin profile handler.
func NewAdminProfileHandler(db *gorm.DB, cacheResolver *gate.CachedResolver[uint], log *zap.Logger) *AdminProfileHandler {
	return &AdminProfileHandler{base: newBase(log), DB: db, CacheResolver: cacheResolver}
}

type profileInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (in *profileInput) validate() validation.Violations {
	in.Name = strings.TrimSpace(in.Name)
	v := validation.Violations{}
	validation.Required("name", in.Name, v)
	validation.MaxLen("name", in.Name, 100, v)
	validation.MaxLen("description", in.Description, 500, v)
	return v
}

// profileSummary is a profile with its permission codes and user count.
type profileSummary struct {
	models.Profile
	PermissionCodes []string `json:"permission_codes"`
	UserCount       int      `json:"user_count"`
}

func summarize(p models.Profile) profileSummary {
	s := profileSummary{Profile: p, PermissionCodes: make([]string, 0, len(p.Permissions)), UserCount: len(p.Users)}
	for _, perm := range p.Permissions {
		s.PermissionCodes = append(s.PermissionCodes, perm.Code())
	}
	s.Users = nil
	return s
}

// List returns all profiles with their permissions and user counts.
func (h *AdminProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	var profiles []models.Profile
	if err := h.DB.WithContext(r.Context()).Preload("Permissions").Preload("Users").Order("name").Find(&profiles).Error; err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]profileSummary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, summarize(p))
	}
	list(w, out, int64(len(out)), 1, len(out))
}

// Get returns one profile.
func (h *AdminProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r, "Permissions", "Users")
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, summarize(*p))
}

// Create adds a non-system profile without permissions.
func (h *AdminProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in profileInput
	if !decode(w, r, &in) {
		return
	}
	if v := in.validate(); !v.Empty() {
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "validation_failed", map[string]string(v))
		return
	}
	profile := models.Profile{Name: in.Name, Description: strings.TrimSpace(in.Description)}
	if err := h.DB.WithContext(r.Context()).Create(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.LocalizedError(w, r, http.StatusConflict, "name_already_exists", map[string]string{"name": "duplicate"})
			return
		}
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, profile)
}

// Update renames or redescribes a profile. System profiles keep their name.
func (h *AdminProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.load(w, r)
	if !ok {
		return
	}
	var in profileInput
	if !decode(w, r, &in) {
		return
	}
	if v := in.validate(); !v.Empty() {
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "validation_failed", map[string]string(v))
		return
	}
	if profile.IsSystem && in.Name != profile.Name {
		httpx.LocalizedError(w, r, http.StatusForbidden, "cannot_rename_system_profile", nil)
		return
	}
	profile.Name = in.Name
	profile.Description = strings.TrimSpace(in.Description)
	if err := h.DB.WithContext(r.Context()).Save(profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.LocalizedError(w, r, http.StatusConflict, "name_already_exists", map[string]string{"name": "duplicate"})
			return
		}
		h.fail(w, r, err)
		return
	}

	// Invalidate all cache since profile may affect multiple users
	if h.CacheResolver != nil {
		h.CacheResolver.InvalidateAll()
	}
	httpx.JSON(w, http.StatusOK, profile)
}

// Delete removes a profile that is neither a system profile nor assigned.
func (h *AdminProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.load(w, r, "Users")
	if !ok {
		return
	}

	// Cannot delete system profiles (admin, demandeur, finance...)
	if profile.IsSystem {
		httpx.LocalizedError(w, r, http.StatusForbidden, "cannot_delete_system_profile", nil)
		return
	}

	// Cannot delete if users are assigned to this profile
	if len(profile.Users) > 0 {
		httpx.LocalizedError(w, r, http.StatusConflict, "profile_has_users", nil)
		return
	}

	err := h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(profile).Association("Permissions").Clear(); err != nil {
			return err
		}
		return tx.Delete(profile).Error
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.CacheResolver != nil {
		h.CacheResolver.InvalidateAll()
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionsInput struct {
	Permissions []string `json:"permissions"`
}

// SavePermissions replaces the permissions of a profile. Every code must be a
// "resource:action" already present in the permission catalog.
func (h *AdminProfileHandler) SavePermissions(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.load(w, r)
	if !ok {
		return
	}
	var in permissionsInput
	if !decode(w, r, &in) {
		return
	}

	var catalog []models.Permission
	if err := h.DB.WithContext(r.Context()).Find(&catalog).Error; err != nil {
		h.fail(w, r, err)
		return
	}
	byCode := make(map[string]models.Permission, len(catalog))
	for _, p := range catalog {
		byCode[p.Code()] = p
	}
	v := validation.Violations{}
	permissions := make([]models.Permission, 0, len(in.Permissions))
	seen := map[string]bool{}
	for i, code := range in.Permissions {
		code = strings.TrimSpace(code)
		p, found := byCode[code]
		if !found {
			v.Add(lineKey("permissions", i), "invalid_choice")
			continue
		}
		if !seen[code] {
			seen[code] = true
			permissions = append(permissions, p)
		}
	}
	if !v.Empty() {
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "validation_failed", map[string]string(v))
		return
	}

	// Replace the profile's permissions (GORM handles the many2many table)
	if err := h.DB.WithContext(r.Context()).Model(profile).Association("Permissions").Replace(permissions); err != nil {
		h.fail(w, r, err)
		return
	}

	// Invalidate all cache since this profile may affect multiple users
	if h.CacheResolver != nil {
		h.CacheResolver.InvalidateAll()
	}
	h.log.Info("profile permissions replaced", zap.Uint("profile", profile.ID), zap.Int("count", len(permissions)))
	profile.Permissions = permissions
	httpx.JSON(w, http.StatusOK, summarize(*profile))
}

// ListPermissions returns the permission catalog.
func (h *AdminProfileHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	var permissions []models.Permission
	if err := h.DB.WithContext(r.Context()).Order("resource_type, action").Find(&permissions).Error; err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, permissions, int64(len(permissions)), 1, len(permissions))
}

func (h *AdminProfileHandler) load(w http.ResponseWriter, r *http.Request, preload ...string) (*models.Profile, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	q := h.DB.WithContext(r.Context())
	for _, p := range preload {
		q = q.Preload(p)
	}
	var profile models.Profile
	if err := q.First(&profile, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.LocalizedError(w, r, http.StatusNotFound, "not_found", nil)
		} else {
			h.fail(w, r, err)
		}
		return nil, false
	}
	return &profile, true
}

// lineKey mirrors the "field[i]" keys used for list items.
func lineKey(field string, i int) string {
	return field + "[" + strconv.Itoa(i) + "]"
}
