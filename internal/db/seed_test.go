package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-achats/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	d, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, Migrate(d))
	return d
}

func TestSeedIdempotent(t *testing.T) {
	d := openTestDB(t)
	c, err := LoadCatalog("")
	require.NoError(t, err)

	require.NoError(t, Seed(d, c))
	var perms1, profiles1, methods1 int64
	d.Model(&models.Permission{}).Count(&perms1)
	d.Model(&models.Profile{}).Count(&profiles1)
	d.Model(&models.PaymentMethod{}).Count(&methods1)

	require.NoError(t, Seed(d, c))
	var perms2, profiles2, methods2 int64
	d.Model(&models.Permission{}).Count(&perms2)
	d.Model(&models.Profile{}).Count(&profiles2)
	d.Model(&models.PaymentMethod{}).Count(&methods2)

	assert.Equal(t, perms1, perms2)
	assert.Equal(t, profiles1, profiles2)
	assert.Equal(t, methods1, methods2)
	assert.GreaterOrEqual(t, profiles1, int64(8))
}

func TestSeedProfilePermissions(t *testing.T) {
	d := openTestDB(t)
	c, err := LoadCatalog("")
	require.NoError(t, err)
	require.NoError(t, Seed(d, c))

	var chef models.Profile
	require.NoError(t, d.Preload("Permissions").Where("name = ?", "chef_departement").First(&chef).Error)
	codes := map[string]bool{}
	for _, p := range chef.Permissions {
		codes[p.Code()] = true
	}
	assert.True(t, codes["besoin:validate"])
	assert.False(t, codes["besoin:all_departments"], "a chef stays scoped to their department")

	var especes models.PaymentMethod
	require.NoError(t, d.Where("code = ?", "especes").First(&especes).Error)
	assert.True(t, especes.IsCash)
	require.Len(t, especes.RequiredFields, 1)
	assert.Equal(t, "recu_par", especes.RequiredFields[0].Name)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resources:
  besoin: [list]
profiles:
  - name: lecteur
    permissions: [besoin:list]
`), 0o600))
	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"list"}, c.Resources["besoin"])

	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  - name: x\n    permissions: [broken]\n"), 0o600))
	_, err = LoadCatalog(path)
	assert.Error(t, err)
}

func TestEnsureAdmin(t *testing.T) {
	d := openTestDB(t)
	c, err := LoadCatalog("")
	require.NoError(t, err)
	require.NoError(t, Seed(d, c))

	created, err := EnsureAdmin(d, "admin@example.com", "s3cret")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureAdmin(d, "admin@example.com", "other")
	require.NoError(t, err)
	assert.False(t, created)

	var u models.User
	require.NoError(t, d.Where("email = ?", "admin@example.com").First(&u).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("s3cret")))
	require.NotNil(t, u.ProfileID)
}
