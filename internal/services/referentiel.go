package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/paymentform"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/validation"
)

// Ref is a column pointing at a referentiel row. A row referenced anywhere cannot be deleted.
type Ref struct {
	Table  string
	Column string
}

// Referentiel is the CRUD service shared by every reference table.
type Referentiel[T any] struct {
	Deps
	Resource string
	// Search lists the columns matched by the q parameter.
	Search []string
	Order  string
	// Frozen columns are never written by Update.
	Frozen   []string
	Validate func(*T) validation.Violations
	Refs     []Ref
}

// List returns rows matching q, in Order.
func (r *Referentiel[T]) List(ctx context.Context, q string, p Page) ([]T, int64, error) {
	db := r.DB.WithContext(ctx).Model(new(T))
	if q = strings.TrimSpace(q); q != "" && len(r.Search) > 0 {
		like := "%" + strings.ToLower(q) + "%"
		conds := make([]string, len(r.Search))
		args := make([]any, len(r.Search))
		for i, col := range r.Search {
			conds[i] = "LOWER(" + col + ") LIKE ?"
			args[i] = like
		}
		db = db.Where(strings.Join(conds, " OR "), args...)
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []T
	if err := p.apply(db).Order(defaultString(r.Order, "id")).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Get loads one row.
func (r *Referentiel[T]) Get(ctx context.Context, id uint) (*T, error) {
	row := new(T)
	if err := r.DB.WithContext(ctx).First(row, id).Error; err != nil {
		return nil, dbErr(err)
	}
	return row, nil
}

// Create validates and inserts row.
func (r *Referentiel[T]) Create(ctx context.Context, row *T) error {
	if err := r.check(row); err != nil {
		return err
	}
	if err := r.authorize(ctx, gate.ActionCreate, r.Resource, nil); err != nil {
		return err
	}
	return dbErr(r.DB.WithContext(ctx).Create(row).Error)
}

// Update overwrites every column of row id except the frozen ones.
func (r *Referentiel[T]) Update(ctx context.Context, id uint, row *T) (*T, error) {
	if err := r.check(row); err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, gate.ActionUpdate, r.Resource, nil); err != nil {
		return nil, err
	}
	existing := new(T)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(existing, id).Error; err != nil {
			return dbErr(err)
		}
		omit := append([]string{"id", "created_at", "deleted_at"}, r.Frozen...)
		if err := tx.Model(existing).Select("*").Omit(omit...).Updates(row).Error; err != nil {
			return dbErr(err)
		}
		return tx.First(existing, id).Error
	})
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// Delete removes row id unless another table still points at it.
func (r *Referentiel[T]) Delete(ctx context.Context, id uint) error {
	if err := r.authorize(ctx, gate.ActionDelete, r.Resource, nil); err != nil {
		return err
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := new(T)
		if err := forUpdate(tx).First(row, id).Error; err != nil {
			return dbErr(err)
		}
		for _, ref := range r.Refs {
			var n int64
			if err := tx.Table(ref.Table).Where(ref.Column+" = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrInUse
			}
		}
		return tx.Delete(row).Error
	})
}

func (r *Referentiel[T]) check(row *T) error {
	if r.Validate == nil {
		return nil
	}
	return invalid(r.Validate(row))
}

// Referentiels groups the reference table services.
type Referentiels struct {
	Departements      *Referentiel[models.Departement]
	Projets           *Referentiel[models.Projet]
	Tiers             *Referentiel[models.Tiers]
	Fournisseurs      *Referentiel[models.Fournisseur]
	Articles          *Referentiel[models.Article]
	PaymentCategories *Referentiel[models.PaymentCategory]
	PaymentMethods    *Referentiel[models.PaymentMethod]
}

// NewReferentiels wires every reference table.
func NewReferentiels(d Deps) *Referentiels {
	return &Referentiels{
		Departements: &Referentiel[models.Departement]{
			Deps: d, Resource: policy.ResourceDepartement,
			Search: []string{"code", "nom"}, Order: "code",
			Validate: func(x *models.Departement) validation.Violations {
				x.Code = strings.ToUpper(strings.TrimSpace(x.Code))
				v := validation.Violations{}
				validation.Required("code", x.Code, v)
				validation.MaxLen("code", x.Code, 20, v)
				validation.Required("nom", x.Nom, v)
				validation.MaxLen("nom", x.Nom, 255, v)
				return v
			},
			Refs: []Ref{
				{"users", "departement_id"}, {"besoins", "departement_id"},
				{"projets", "departement_id"}, {"caisses", "departement_id"},
			},
		},
		Projets: &Referentiel[models.Projet]{
			Deps: d, Resource: policy.ResourceProjet,
			Search: []string{"code", "nom"}, Order: "code",
			Validate: func(x *models.Projet) validation.Violations {
				x.Code = strings.ToUpper(strings.TrimSpace(x.Code))
				v := validation.Violations{}
				validation.Required("code", x.Code, v)
				validation.MaxLen("code", x.Code, 30, v)
				validation.Required("nom", x.Nom, v)
				validation.NonNegativeDecimal("budget", x.Budget, v)
				return v
			},
			Refs: []Ref{
				{"besoins", "projet_id"}, {"demandes_achat", "projet_id"}, {"ecritures_comptables", "projet_id"},
			},
		},
		Tiers: &Referentiel[models.Tiers]{
			Deps: d, Resource: policy.ResourceTiers,
			Search: []string{"nom", "nif"}, Order: "nom",
			Validate: func(x *models.Tiers) validation.Violations {
				v := validation.Violations{}
				validation.Required("nom", x.Nom, v)
				validation.MaxLen("nom", x.Nom, 255, v)
				validation.OneOf("type", string(x.Type), models.TiersTypes, v)
				return v
			},
			Refs: []Ref{{"ecritures_comptables", "tiers_id"}, {"fournisseurs", "tiers_id"}},
		},
		Fournisseurs: &Referentiel[models.Fournisseur]{
			Deps: d, Resource: policy.ResourceFournisseur,
			Search: []string{"nom", "contact"}, Order: "nom",
			Validate: func(x *models.Fournisseur) validation.Violations {
				v := validation.Violations{}
				validation.Required("nom", x.Nom, v)
				validation.MaxLen("nom", x.Nom, 255, v)
				return v
			},
			Refs: []Ref{{"demandes_achat", "fournisseur_id"}},
		},
		Articles: &Referentiel[models.Article]{
			Deps: d, Resource: policy.ResourceArticle,
			Search: []string{"code", "designation"}, Order: "code",
			// Stock only moves through bons de livraison and stock entries.
			Frozen: []string{"quantite_stock"},
			Validate: func(x *models.Article) validation.Violations {
				x.Code = strings.ToUpper(strings.TrimSpace(x.Code))
				if strings.TrimSpace(x.Unite) == "" {
					x.Unite = "unite"
				}
				v := validation.Violations{}
				validation.Required("code", x.Code, v)
				validation.MaxLen("code", x.Code, 50, v)
				validation.Required("designation", x.Designation, v)
				validation.NonNegativeDecimal("quantite_stock", x.QuantiteStock, v)
				validation.NonNegativeDecimal("seuil_alerte", x.SeuilAlerte, v)
				validation.NonNegativeDecimal("prix_unitaire", x.PrixUnitaire, v)
				return v
			},
			Refs: []Ref{
				{"besoin_lignes", "article_id"}, {"da_articles", "article_id"},
				{"bl_articles", "article_id"}, {"mouvements_stock", "article_id"},
			},
		},
		PaymentCategories: &Referentiel[models.PaymentCategory]{
			Deps: d, Resource: policy.ResourcePaymentCategory,
			Search: []string{"code", "libelle"}, Order: "code",
			Validate: func(x *models.PaymentCategory) validation.Violations {
				v := validation.Violations{}
				validation.Required("code", x.Code, v)
				validation.Required("libelle", x.Libelle, v)
				validateFieldDefs(x.RequiredFields, v)
				return v
			},
			Refs: []Ref{{"ecritures_comptables", "payment_category_id"}},
		},
		PaymentMethods: &Referentiel[models.PaymentMethod]{
			Deps: d, Resource: policy.ResourcePaymentMethod,
			Search: []string{"code", "libelle"}, Order: "code",
			Validate: func(x *models.PaymentMethod) validation.Violations {
				v := validation.Violations{}
				validation.Required("code", x.Code, v)
				validation.Required("libelle", x.Libelle, v)
				validateFieldDefs(x.RequiredFields, v)
				return v
			},
			Refs: []Ref{{"ecritures_comptables", "payment_method_id"}},
		},
	}
}

var fieldTypes = []string{paymentform.TypeText, paymentform.TypeNumber, paymentform.TypeDate, paymentform.TypeSelect}

func validateFieldDefs(defs []models.FieldDef, v validation.Violations) {
	seen := map[string]bool{}
	for i := range defs {
		f := &defs[i]
		if f.Type == "" {
			f.Type = paymentform.TypeText
		}
		lv := validation.Violations{}
		validation.Required("name", f.Name, lv)
		validation.OneOf("type", f.Type, fieldTypes, lv)
		if f.Type == paymentform.TypeSelect && len(f.Options) == 0 {
			lv.Add("options", "required")
		}
		if seen[f.Name] {
			lv.Add("name", "duplicate")
		}
		seen[f.Name] = true
		v.Merge(lineKey("required_fields", i), lv)
	}
}

// StockEntreeInput adds received quantities to an article.
type StockEntreeInput struct {
	Quantite decimal.Decimal `json:"quantite"`
	Motif    string          `json:"motif"`
}

// StockService records stock entries and lists stock movements.
type StockService struct {
	Deps
}

// NewStockService creates the service.
func NewStockService(d Deps) *StockService { return &StockService{Deps: d} }

// Entree adds stock and writes the movement.
func (s *StockService) Entree(ctx context.Context, articleID uint, in StockEntreeInput) (*models.MouvementStock, error) {
	v := validation.Violations{}
	validation.PositiveDecimal("quantite", in.Quantite, v)
	validation.Required("motif", in.Motif, v)
	if err := invalid(v); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, policy.ActionMouvement, policy.ResourceArticle, nil); err != nil {
		return nil, err
	}
	var mv models.MouvementStock
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a models.Article
		if err := forUpdate(tx).First(&a, articleID).Error; err != nil {
			return dbErr(err)
		}
		avant := a.QuantiteStock
		apres := avant.Add(in.Quantite)
		if err := tx.Model(&a).Update("quantite_stock", apres).Error; err != nil {
			return err
		}
		mv = models.MouvementStock{
			ArticleID:  a.ID,
			Type:       models.MouvementStockEntree,
			Quantite:   in.Quantite,
			StockAvant: avant,
			StockApres: apres,
			UserID:     actor(ctx),
			Motif:      strings.TrimSpace(in.Motif),
		}
		return tx.Create(&mv).Error
	})
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

// Mouvements lists the movements of one article, oldest first.
func (s *StockService) Mouvements(ctx context.Context, articleID uint, p Page) ([]models.MouvementStock, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.MouvementStock{}).Where("article_id = ?", articleID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.MouvementStock
	if err := p.apply(q).Order("id").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Alertes lists articles at or below their alert threshold.
func (s *StockService) Alertes(ctx context.Context) ([]models.Article, error) {
	var out []models.Article
	err := s.DB.WithContext(ctx).
		Where("seuil_alerte > 0 AND quantite_stock <= seuil_alerte").
		Order("code").Find(&out).Error
	return out, err
}
