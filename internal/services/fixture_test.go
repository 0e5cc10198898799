package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/db"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/storage"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	deps     services.Deps
	svc      *services.Services
	ctx      context.Context
	user     models.User
	dept     models.Departement
	projet   models.Projet
	stylos   models.Article
	ramettes models.Article
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// newFixture opens a migrated database with one department, one projet, two
// stock articles and a caller assigned to the department.
func newFixture(t *testing.T, authz services.Authorizer) *fixture {
	t.Helper()
	return newFixtureOn(t, openDB(t), authz)
}

// newFixtureOn builds the fixture on an opened database. The caller gets the
// admin profile when one has been seeded.
func newFixtureOn(t *testing.T, gdb *gorm.DB, authz services.Authorizer) *fixture {
	t.Helper()
	f := &fixture{db: gdb}

	f.dept = models.Departement{Code: "TECH", Nom: "Technique"}
	require.NoError(t, gdb.Where("code = ?", f.dept.Code).FirstOrCreate(&f.dept).Error)
	f.projet = models.Projet{Code: "PRJ-1", Nom: "Forage", Budget: dec("1000000"), Actif: true}
	require.NoError(t, gdb.Create(&f.projet).Error)
	f.stylos = models.Article{Code: "STY", Designation: "Stylos", Unite: "boite", QuantiteStock: dec("10"), SeuilAlerte: dec("2")}
	require.NoError(t, gdb.Create(&f.stylos).Error)
	f.ramettes = models.Article{Code: "RAM", Designation: "Ramettes A4", Unite: "paquet", QuantiteStock: dec("5")}
	require.NoError(t, gdb.Create(&f.ramettes).Error)
	f.user = models.User{Email: "agent@example.com", Password: "x", Active: true, DepartementID: &f.dept.ID}
	var admin models.Profile
	if gdb.Where("name = ?", "admin").Limit(1).Find(&admin).RowsAffected == 1 {
		f.user.ProfileID = &admin.ID
	}
	require.NoError(t, gdb.Create(&f.user).Error)

	if authz == nil {
		authz = services.AllowAll{}
	}
	f.deps = services.Deps{DB: gdb, Authz: authz, Log: zap.NewNop(), Now: func() time.Time { return testNow }}
	bucket, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	f.svc = services.New(f.deps, bucket)
	f.ctx = auth.WithUserID(context.Background(), f.user.ID)
	return f
}

// validBesoin creates a besoin for stylos and ramettes and brings it to valide.
func (f *fixture) validBesoin(t *testing.T) *models.Besoin {
	t.Helper()
	b, err := f.svc.Besoins.Create(f.ctx, services.BesoinInput{
		Titre:    "Fournitures T2",
		ProjetID: &f.projet.ID,
		Lignes: []services.BesoinLigneInput{
			{ArticleID: &f.stylos.ID, Quantite: dec("4")},
			{ArticleID: &f.ramettes.ID, Quantite: dec("3")},
		},
	})
	require.NoError(t, err)
	for _, action := range []gate.Action{gate.ActionSubmit, gate.ActionValidate} {
		b, err = f.svc.Besoins.Transition(f.ctx, b.ID, action, "")
		require.NoError(t, err)
	}
	require.Equal(t, models.BesoinValide, b.Status)
	got, err := f.svc.Besoins.Get(f.ctx, b.ID)
	require.NoError(t, err)
	return got
}

func (f *fixture) besoinStatus(t *testing.T, id uint) models.BesoinStatus {
	t.Helper()
	var b models.Besoin
	require.NoError(t, f.db.First(&b, id).Error)
	return b.Status
}

func (f *fixture) stock(t *testing.T, id uint) decimal.Decimal {
	t.Helper()
	var a models.Article
	require.NoError(t, f.db.First(&a, id).Error)
	return a.QuantiteStock
}
