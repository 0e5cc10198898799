package policy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
)

type mockOwnable struct{ userID uint }

func (m *mockOwnable) GetUserID() uint { return m.userID }

type mockScoped struct{ dept uint }

func (m *mockScoped) GetDepartementID() uint { return m.dept }

type mockNonOwnable struct{ ID uint }

func TestOwnershipPolicy(t *testing.T) {
	ctx := context.Background()
	p := policy.NewOwnershipPolicy(gate.ActionUpdate, gate.ActionDelete)
	res := &mockOwnable{userID: 42}

	assert.True(t, p.Can(ctx, 1, gate.ActionCreate, nil), "nil resource passes")
	assert.True(t, p.Can(ctx, 42, gate.ActionUpdate, res))
	assert.False(t, p.Can(ctx, 99, gate.ActionUpdate, res))
	assert.False(t, p.Can(ctx, 99, gate.ActionDelete, res))
	assert.True(t, p.Can(ctx, 99, gate.ActionView, res), "unguarded action passes")
	assert.False(t, p.Can(ctx, 42, gate.ActionUpdate, &mockNonOwnable{ID: 1}))

	all := policy.NewOwnershipPolicy()
	assert.False(t, all.Can(ctx, 99, gate.ActionView, res))
}

func TestBypassPolicy(t *testing.T) {
	ctx := context.Background()
	inner := policy.NewOwnershipPolicy()
	p := policy.NewBypassPolicy(inner, func(_ context.Context, uid uint) bool { return uid == 1 })
	res := &mockOwnable{userID: 42}

	assert.True(t, p.Can(ctx, 1, gate.ActionUpdate, res))
	assert.True(t, p.Can(ctx, 42, gate.ActionUpdate, res))
	assert.False(t, p.Can(ctx, 7, gate.ActionUpdate, res))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Permission{}, &models.Profile{}, &models.Departement{}, &models.User{}))
	return db
}

func createUser(t *testing.T, db *gorm.DB, email string, dept uint, codes ...string) models.User {
	t.Helper()
	profile := models.Profile{Name: "p-" + email}
	require.NoError(t, db.Create(&profile).Error)
	var perms []models.Permission
	for _, code := range codes {
		res, act, ok := models.SplitPermissionCode(code)
		require.True(t, ok)
		perm := models.Permission{ResourceType: res, Action: act}
		require.NoError(t, db.Where("resource_type = ? AND action = ?", res, act).FirstOrCreate(&perm).Error)
		perms = append(perms, perm)
	}
	require.NoError(t, db.Model(&profile).Association("Permissions").Replace(perms))
	u := models.User{Email: email, Password: "x", Active: true, ProfileID: &profile.ID}
	if dept != 0 {
		u.DepartementID = &dept
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func TestDepartementPolicy(t *testing.T) {
	db := newTestDB(t)
	chef := createUser(t, db, "chef@x", 3, "besoin:validate")
	mag := createUser(t, db, "mag@x", 0, "besoin:view", "besoin:all_departments")
	nodept := createUser(t, db, "nodept@x", 0, "besoin:view")

	resolver := policy.NewDBProfileResolver(db)
	p := policy.NewDepartementPolicy(resolver, policy.ResourceBesoin)
	ctx := context.Background()

	assert.True(t, p.Can(ctx, chef.ID, gate.ActionValidate, &mockScoped{dept: 3}))
	assert.False(t, p.Can(ctx, chef.ID, gate.ActionValidate, &mockScoped{dept: 4}))
	assert.True(t, p.Can(ctx, mag.ID, gate.ActionView, &mockScoped{dept: 4}))
	assert.False(t, p.Can(ctx, nodept.ID, gate.ActionView, &mockScoped{dept: 4}))
	assert.True(t, p.Can(ctx, chef.ID, gate.ActionList, nil))
	assert.False(t, p.Can(ctx, chef.ID, gate.ActionView, &mockOwnable{userID: 1}), "unscoped rows are denied")
}

func TestDBProfileResolver_InactiveUser(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "gone@x", 1, "*:*")
	require.NoError(t, db.Model(&u).Update("active", false).Error)

	profile, err := policy.NewDBProfileResolver(db).Resolve(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Nil(t, profile)

	profile, err = policy.NewDBProfileResolver(db).Resolve(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestAuthGate(t *testing.T) {
	db := newTestDB(t)
	chef := createUser(t, db, "chef@x", 3, "besoin:list", "besoin:view", "besoin:update")
	admin := createUser(t, db, "admin@x", 0, "*:*")
	ag := policy.NewAuthGate(db, time.Minute)

	chefCtx := auth.WithUserID(context.Background(), chef.ID)
	adminCtx := auth.WithUserID(context.Background(), admin.ID)

	own := &models.Besoin{DepartementID: 3, DemandeurID: chef.ID}
	other := &models.Besoin{DepartementID: 3, DemandeurID: 77}
	foreign := &models.Besoin{DepartementID: 9, DemandeurID: chef.ID}

	assert.NoError(t, ag.Authorize(chefCtx, gate.ActionUpdate, policy.ResourceBesoin, own))
	assert.ErrorIs(t, ag.Authorize(chefCtx, gate.ActionUpdate, policy.ResourceBesoin, other), gate.ErrPolicyDenied)
	assert.True(t, ag.Can(chefCtx, gate.ActionView, policy.ResourceBesoin, other))
	assert.False(t, ag.Can(chefCtx, gate.ActionView, policy.ResourceBesoin, foreign))
	assert.ErrorIs(t, ag.Authorize(chefCtx, gate.ActionDelete, policy.ResourceBesoin, own), gate.ErrPermissionDenied)
	assert.True(t, ag.Can(adminCtx, gate.ActionUpdate, policy.ResourceBesoin, foreign))
	assert.ErrorIs(t, ag.Authorize(context.Background(), gate.ActionView, policy.ResourceBesoin, nil), gate.ErrUnauthorized)

	dept, unrestricted := ag.DepartementFilter(chefCtx, policy.ResourceBesoin)
	assert.Equal(t, uint(3), dept)
	assert.False(t, unrestricted)
	_, unrestricted = ag.DepartementFilter(adminCtx, policy.ResourceBesoin)
	assert.True(t, unrestricted)

	nomad := createUser(t, db, "nomad@x", 0, "besoin:list")
	dept, unrestricted = ag.DepartementFilter(auth.WithUserID(context.Background(), nomad.ID), policy.ResourceBesoin)
	assert.Zero(t, dept)
	assert.False(t, unrestricted, "no department and no bypass sees nothing")

	c, ok := ag.Caller(chefCtx)
	require.True(t, ok)
	assert.Equal(t, uint(3), c.DepartementID)
	assert.Contains(t, c.Permissions, gate.Permission("besoin:update"))
}

func TestAuthGate_Middleware(t *testing.T) {
	db := newTestDB(t)
	reader := createUser(t, db, "reader@x", 1, "besoin:list")
	ag := policy.NewAuthGate(db, time.Minute)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	serve := func(h http.Handler, uid uint) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if uid != 0 {
			req = req.WithContext(auth.WithUserID(req.Context(), uid))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusNoContent, serve(ag.RequirePermission(policy.ResourceBesoin, gate.ActionList)(ok), reader.ID))
	assert.Equal(t, http.StatusForbidden, serve(ag.RequirePermission(policy.ResourceBesoin, gate.ActionCreate)(ok), reader.ID))
	assert.Equal(t, http.StatusForbidden, serve(ag.RequireAdmin()(ok), reader.ID))
	assert.Equal(t, http.StatusUnauthorized, serve(ag.RequireAdmin()(ok), 0))
}

func TestAuthGate_InvalidateUser(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "u@x", 1, "besoin:list")
	ag := policy.NewAuthGate(db, time.Hour)
	ctx := auth.WithUserID(context.Background(), u.ID)

	require.True(t, ag.CanProfile(ctx, gate.ActionList, policy.ResourceBesoin))
	require.NoError(t, db.Model(&u).Update("profile_id", nil).Error)
	assert.True(t, ag.CanProfile(ctx, gate.ActionList, policy.ResourceBesoin), "cached")
	ag.InvalidateUser(u.ID)
	assert.False(t, ag.CanProfile(ctx, gate.ActionList, policy.ResourceBesoin))
}
