package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
)

// AuthHandler handles login, logout and the caller's profile context.
type AuthHandler struct {
	base
	db      *gorm.DB
	gate    *policy.AuthGate
	limiter *auth.LoginLimiter
}

// NewAuthHandler builds the handler; limiter may be nil to disable throttling.
func NewAuthHandler(db *gorm.DB, ag *policy.AuthGate, limiter *auth.LoginLimiter, log *zap.Logger) *AuthHandler {
	return &AuthHandler{base: newBase(log), db: db, gate: ag, limiter: limiter}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// Login checks the credentials, sets the session cookie and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(auth.ClientIP(r)) {
		w.Header().Set("Retry-After", "60")
		httpx.LocalizedError(w, r, http.StatusTooManyRequests, "too_many_requests", nil)
		return
	}
	var in loginRequest
	if !decode(w, r, &in) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		httpx.LocalizedError(w, r, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}

	var user models.User
	if err := h.db.WithContext(r.Context()).Preload("Profile").Where("email = ?", email).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.fail(w, r, err)
			return
		}
		httpx.LocalizedError(w, r, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		httpx.LocalizedError(w, r, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}
	if !user.Active {
		httpx.LocalizedError(w, r, http.StatusForbidden, "inactive_user", nil)
		return
	}

	profile := ""
	if user.Profile != nil {
		profile = user.Profile.Name
	}
	token, exp, err := auth.IssueToken(user.ID, profile, user.DepartementOf())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	auth.CreateSession(w, user.ID)
	h.log.Info("login", zap.Uint("user", user.ID), zap.String("profile", profile))
	httpx.JSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: user})
}

// Logout clears the session cookie. Bearer tokens simply expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	User        models.User `json:"user"`
	Profile     string      `json:"profile,omitempty"`
	Permissions []string    `json:"permissions"`
}

// Me returns the caller with their profile, department and permissions, so a
// client can decide which actions to offer.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.LocalizedError(w, r, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var user models.User
	if err := h.db.WithContext(r.Context()).Preload("Departement").First(&user, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.LocalizedError(w, r, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		h.fail(w, r, err)
		return
	}
	out := meResponse{User: user, Permissions: []string{}}
	if c, ok := h.gate.Caller(r.Context()); ok {
		out.Profile = c.Profile
		for _, p := range c.Permissions {
			out.Permissions = append(out.Permissions, string(p))
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}
