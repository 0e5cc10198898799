package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/validation"
)

// AdminUserProfileHandler handles users and their profile and department assignment.
type AdminUserProfileHandler struct {
	base
	DB            *gorm.DB
	CacheResolver *gate.CachedResolver[uint] // To invalidate cache on changes
}

// NewAdminUserProfileHandler creates a new admin user profile handler.
func NewAdminUserProfileHandler(db *gorm.DB, cacheResolver *gate.CachedResolver[uint], log *zap.Logger) *AdminUserProfileHandler {
	return &AdminUserProfileHandler{base: newBase(log), DB: db, CacheResolver: cacheResolver}
}

// List returns users with their profile and department, ?q= matches email or name.
func (h *AdminUserProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	q := h.DB.WithContext(r.Context()).Model(&models.User{})
	if s := strings.TrimSpace(r.URL.Query().Get("q")); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		h.fail(w, r, err)
		return
	}
	p, pg, limit := page(r)
	var users []models.User
	if err := q.Preload("Profile").Preload("Departement").Order("email").Offset(p.Offset).Limit(p.Limit).Find(&users).Error; err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, users, total, pg, limit)
}

type userInput struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Password      string `json:"password"`
	ProfileID     *uint  `json:"profile_id,omitempty"`
	DepartementID *uint  `json:"departement_id,omitempty"`
}

// Create adds a user with an optional profile and department.
func (h *AdminUserProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if !decode(w, r, &in) {
		return
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	v := validation.Violations{}
	validation.Required("email", in.Email, v)
	validation.MaxLen("email", in.Email, 255, v)
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		v.Add("email", "invalid_format")
	}
	if len(in.Password) < 8 {
		v.Add("password", "too_short")
	}
	h.checkRefs(r, in.ProfileID, in.DepartementID, v)
	if !v.Empty() {
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "validation_failed", map[string]string(v))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user := models.User{
		Email:         in.Email,
		Name:          strings.TrimSpace(in.Name),
		Password:      string(hash),
		Active:        true,
		ProfileID:     in.ProfileID,
		DepartementID: in.DepartementID,
	}
	if err := h.DB.WithContext(r.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.LocalizedError(w, r, http.StatusConflict, "conflict", map[string]string{"email": "duplicate"})
			return
		}
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

type assignInput struct {
	ProfileID     *uint `json:"profile_id"`
	DepartementID *uint `json:"departement_id"`
	Active        *bool `json:"active,omitempty"`
}

// AssignProfile sets the profile, department and active flag of a user.
// A null or zero profile_id removes the profile.
func (h *AdminUserProfileHandler) AssignProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}
	var in assignInput
	if !decode(w, r, &in) {
		return
	}
	if in.ProfileID != nil && *in.ProfileID == 0 {
		in.ProfileID = nil
	}
	if in.DepartementID != nil && *in.DepartementID == 0 {
		in.DepartementID = nil
	}
	v := validation.Violations{}
	h.checkRefs(r, in.ProfileID, in.DepartementID, v)
	if !v.Empty() {
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "validation_failed", map[string]string(v))
		return
	}

	var user models.User
	if err := h.DB.WithContext(r.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.LocalizedError(w, r, http.StatusNotFound, "not_found", nil)
			return
		}
		h.fail(w, r, err)
		return
	}
	updates := map[string]any{"profile_id": in.ProfileID, "departement_id": in.DepartementID}
	if in.Active != nil {
		if !*in.Active {
			if uid, _ := auth.UserIDFromContext(r.Context()); uid == user.ID {
				httpx.LocalizedError(w, r, http.StatusConflict, "cannot_disable_self", nil)
				return
			}
		}
		updates["active"] = *in.Active
	}
	if err := h.DB.WithContext(r.Context()).Model(&user).Updates(updates).Error; err != nil {
		h.fail(w, r, err)
		return
	}

	// Invalidate cache for this specific user
	if h.CacheResolver != nil {
		h.CacheResolver.Invalidate(user.ID)
	}
	h.log.Info("user profile assigned",
		zap.Uint("user", user.ID),
		zap.Uintp("profile", in.ProfileID),
		zap.Uintp("departement", in.DepartementID))

	if err := h.DB.WithContext(r.Context()).Preload("Profile").Preload("Departement").First(&user, user.ID).Error; err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *AdminUserProfileHandler) checkRefs(r *http.Request, profileID, departementID *uint, v validation.Violations) {
	db := h.DB.WithContext(r.Context())
	if profileID != nil {
		var n int64
		if err := db.Model(&models.Profile{}).Where("id = ?", *profileID).Count(&n).Error; err != nil || n == 0 {
			v.Add("profile_id", "not_found")
		}
	}
	if departementID != nil {
		var n int64
		if err := db.Model(&models.Departement{}).Where("id = ?", *departementID).Count(&n).Error; err != nil || n == 0 {
			v.Add("departement_id", "not_found")
		}
	}
}
