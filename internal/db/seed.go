package db

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the reference data loaded at startup.
type Catalog struct {
	Resources         map[string][]string `yaml:"resources"`
	Profiles          []ProfileSeed       `yaml:"profiles"`
	PaymentCategories []PaymentSeed       `yaml:"payment_categories"`
	PaymentMethods    []PaymentSeed       `yaml:"payment_methods"`
	Departements      []DepartementSeed   `yaml:"departements"`
}

// ProfileSeed declares a system profile and its "resource:action" permissions.
type ProfileSeed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// PaymentSeed declares a payment category or method.
type PaymentSeed struct {
	Code           string            `yaml:"code"`
	Libelle        string            `yaml:"libelle"`
	IsCash         bool              `yaml:"is_cash"`
	CompteDebit    string            `yaml:"compte_debit"`
	CompteCredit   string            `yaml:"compte_credit"`
	RequiredFields []models.FieldDef `yaml:"required_fields"`
}

// DepartementSeed declares a department.
type DepartementSeed struct {
	Code string `yaml:"code"`
	Nom  string `yaml:"nom"`
}

// LoadCatalog parses path, or the embedded catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		data = b
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse seed catalog: %w", err)
	}
	for _, p := range c.Profiles {
		for _, code := range p.Permissions {
			if _, _, ok := models.SplitPermissionCode(code); !ok {
				return nil, fmt.Errorf("profile %s: malformed permission %q", p.Name, code)
			}
		}
	}
	return &c, nil
}

// Seed initializes the database with the catalog. Should be called after Migrate.
func Seed(db *gorm.DB, c *Catalog) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := SeedPermissions(tx, c); err != nil {
			return err
		}
		if err := SeedProfiles(tx, c); err != nil {
			return err
		}
		if err := seedPayment(tx, c); err != nil {
			return err
		}
		return seedDepartements(tx, c)
	})
}

// SeedPermissions creates every resource:action pair, plus wildcards.
func SeedPermissions(db *gorm.DB, c *Catalog) error {
	codes := map[string]bool{"*:*": true}
	for resource, actions := range c.Resources {
		codes[resource+":*"] = true
		for _, a := range actions {
			codes[resource+":"+a] = true
		}
	}
	for _, p := range c.Profiles {
		for _, code := range p.Permissions {
			codes[code] = true
		}
	}
	sorted := make([]string, 0, len(codes))
	for code := range codes {
		sorted = append(sorted, code)
	}
	sort.Strings(sorted)

	for _, code := range sorted {
		resource, action, _ := models.SplitPermissionCode(code)
		perm := models.Permission{ResourceType: resource, Action: action, Description: describe(resource, action)}
		if err := db.Where("resource_type = ? AND action = ?", resource, action).FirstOrCreate(&perm).Error; err != nil {
			return fmt.Errorf("seed permission %s: %w", code, err)
		}
	}
	return nil
}

func describe(resource, action string) string {
	switch {
	case resource == "*" && action == "*":
		return "Full system access"
	case action == "*":
		return "All " + resource + " actions"
	case resource == "*":
		return action + " on every resource"
	default:
		return action + " " + resource
	}
}

// SeedProfiles creates the system profiles and replaces their permissions.
func SeedProfiles(db *gorm.DB, c *Catalog) error {
	for _, p := range c.Profiles {
		var profile models.Profile
		err := db.Where("name = ?", p.Name).First(&profile).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			profile = models.Profile{Name: p.Name, Description: p.Description, IsSystem: true}
			if err := db.Create(&profile).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		var perms []models.Permission
		for _, code := range p.Permissions {
			resource, action, _ := models.SplitPermissionCode(code)
			var perm models.Permission
			if err := db.Where("resource_type = ? AND action = ?", resource, action).First(&perm).Error; err != nil {
				return fmt.Errorf("profile %s: permission %s: %w", p.Name, code, err)
			}
			perms = append(perms, perm)
		}
		if err := db.Model(&profile).Association("Permissions").Replace(perms); err != nil {
			return err
		}
	}
	return nil
}

func seedPayment(db *gorm.DB, c *Catalog) error {
	for _, s := range c.PaymentCategories {
		cat := models.PaymentCategory{Code: s.Code, Libelle: s.Libelle, CompteDebit: s.CompteDebit, RequiredFields: s.RequiredFields, Actif: true}
		if err := db.Where("code = ?", s.Code).FirstOrCreate(&cat).Error; err != nil {
			return fmt.Errorf("seed payment category %s: %w", s.Code, err)
		}
	}
	for _, s := range c.PaymentMethods {
		m := models.PaymentMethod{Code: s.Code, Libelle: s.Libelle, IsCash: s.IsCash, CompteCredit: s.CompteCredit, RequiredFields: s.RequiredFields, Actif: true}
		if err := db.Where("code = ?", s.Code).FirstOrCreate(&m).Error; err != nil {
			return fmt.Errorf("seed payment method %s: %w", s.Code, err)
		}
	}
	return nil
}

func seedDepartements(db *gorm.DB, c *Catalog) error {
	for _, s := range c.Departements {
		d := models.Departement{Code: s.Code, Nom: s.Nom}
		if err := db.Where("code = ?", s.Code).FirstOrCreate(&d).Error; err != nil {
			return fmt.Errorf("seed departement %s: %w", s.Code, err)
		}
	}
	return nil
}

// EnsureAdmin creates the admin user when no user holds that email yet.
func EnsureAdmin(db *gorm.DB, email, password string) (created bool, err error) {
	if email == "" || password == "" {
		return false, nil
	}
	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	var profile models.Profile
	if err := db.Where("name = ?", "admin").First(&profile).Error; err != nil {
		return false, fmt.Errorf("admin profile: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	u := models.User{Email: email, Name: "Administrateur", Password: string(hash), Active: true, ProfileID: &profile.ID}
	if err := db.Create(&u).Error; err != nil {
		return false, err
	}
	return true, nil
}
