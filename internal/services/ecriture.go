package services

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/paymentform"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/workflow"
	"github.com/diewo77/go-achats/validation"
)

// EcritureInput creates or replaces a draft écriture. Empty accounts, amount
// and journal are derived from the linked DA, category and method.
type EcritureInput struct {
	Journal           string          `json:"journal,omitempty"`
	DateEcriture      *time.Time      `json:"date_ecriture,omitempty"`
	Libelle           string          `json:"libelle"`
	CompteDebit       string          `json:"compte_debit,omitempty"`
	CompteCredit      string          `json:"compte_credit,omitempty"`
	Montant           decimal.Decimal `json:"montant"`
	TiersID           *uint           `json:"tiers_id,omitempty"`
	ProjetID          *uint           `json:"projet_id,omitempty"`
	DepartementID     *uint           `json:"departement_id,omitempty"`
	DemandeAchatID    *uint           `json:"demande_achat_id,omitempty"`
	PaymentCategoryID *uint           `json:"payment_category_id,omitempty"`
	PaymentMethodID   *uint           `json:"payment_method_id,omitempty"`
	Details           map[string]any  `json:"details,omitempty"`
}

// PayInput settles a validated écriture. CaisseID is required for cash methods.
type PayInput struct {
	CaisseID     *uint          `json:"caisse_id,omitempty"`
	DatePaiement *time.Time     `json:"date_paiement,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// EcritureFilter narrows a listing.
type EcritureFilter struct {
	Status         string
	Journal        string
	ProjetID       uint
	TiersID        uint
	DemandeAchatID uint
	From, To       *time.Time
	Q              string
}

// EcritureService manages accounting entries and their payment.
type EcritureService struct {
	Deps
}

// NewEcritureService creates the service.
func NewEcritureService(d Deps) *EcritureService { return &EcritureService{Deps: d} }

// Create stores a draft écriture after checking its dynamic details.
func (s *EcritureService) Create(ctx context.Context, in EcritureInput) (*models.EcritureComptable, error) {
	var e models.EcritureComptable
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.authorize(ctx, gate.ActionCreate, policy.ResourceEcriture, nil); err != nil {
			return err
		}
		e = models.EcritureComptable{
			Status:    workflow.Ecriture.Initial(),
			CreeParID: actor(ctx),
		}
		if err := s.fill(tx, &e, in, 0); err != nil {
			return err
		}
		numero, err := models.NextNumber(tx, &models.EcritureComptable{}, "numero", models.PrefixEcriture, e.DateEcriture.Year())
		if err != nil {
			return err
		}
		e.Numero = numero
		if err := tx.Create(&e).Error; err != nil {
			return dbErr(err)
		}
		return s.record(ctx, tx, event{
			entity: workflow.EntityEcriture, entityID: e.ID, numero: e.Numero, besoinID: s.besoinOf(tx, e.DemandeAchatID),
			action: gate.ActionCreate, to: string(e.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Update replaces a draft écriture.
func (s *EcritureService) Update(ctx context.Context, id uint, in EcritureInput) (*models.EcritureComptable, error) {
	var e models.EcritureComptable
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&e, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, gate.ActionUpdate, policy.ResourceEcriture, &e); err != nil {
			return err
		}
		if e.Status != models.EcritureBrouillon {
			return &workflow.TransitionError{Entity: workflow.EntityEcriture, From: string(e.Status), Action: gate.ActionUpdate}
		}
		if err := s.fill(tx, &e, in, e.ID); err != nil {
			return err
		}
		return dbErr(tx.Save(&e).Error)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// fill copies in onto e, applying defaults and every business check.
// self is the id of the écriture being edited, 0 on creation.
func (s *EcritureService) fill(tx *gorm.DB, e *models.EcritureComptable, in EcritureInput, self uint) error {
	v := validation.Violations{}
	validation.Required("libelle", in.Libelle, v)
	validation.MaxLen("libelle", in.Libelle, 255, v)
	if in.Journal != "" {
		validation.OneOf("journal", in.Journal, models.Journals, v)
	}
	if !in.Montant.IsZero() {
		validation.PositiveDecimal("montant", in.Montant, v)
	}
	if err := invalid(v); err != nil {
		return err
	}

	e.Libelle = strings.TrimSpace(in.Libelle)
	e.Journal = in.Journal
	e.CompteDebit = strings.TrimSpace(in.CompteDebit)
	e.CompteCredit = strings.TrimSpace(in.CompteCredit)
	e.Montant = in.Montant
	e.TiersID = in.TiersID
	e.ProjetID = in.ProjetID
	e.DepartementID = in.DepartementID
	e.DemandeAchatID = in.DemandeAchatID
	e.PaymentCategoryID = in.PaymentCategoryID
	e.PaymentMethodID = in.PaymentMethodID
	e.Details = in.Details
	e.DateEcriture = s.now()
	if in.DateEcriture != nil {
		e.DateEcriture = *in.DateEcriture
	}

	if in.DemandeAchatID != nil {
		var da models.DemandeAchat
		if err := tx.First(&da, *in.DemandeAchatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invalid(validation.Violations{"demande_achat_id": "not_found"})
			}
			return err
		}
		if da.Status != models.DAValideeFinance {
			return ErrDANonValidee
		}
		var n int64
		err := tx.Model(&models.EcritureComptable{}).
			Where("demande_achat_id = ? AND status <> ? AND id <> ?", da.ID, models.EcritureAnnulee, self).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}
		if e.Montant.IsZero() {
			e.Montant = da.MontantTotal
		}
		if e.ProjetID == nil {
			e.ProjetID = da.ProjetID
		}
		if e.DepartementID == nil {
			e.DepartementID = ptr(da.DepartementID)
		}
		if e.Journal == "" {
			e.Journal = models.JournalAchats
		}
	}

	cat, method, err := loadPaymentRefs(tx, in.PaymentCategoryID, in.PaymentMethodID)
	if err != nil {
		return err
	}
	if cat != nil && e.CompteDebit == "" {
		e.CompteDebit = cat.CompteDebit
	}
	if method != nil {
		if e.CompteCredit == "" {
			e.CompteCredit = method.CompteCredit
		}
		if e.Journal == "" {
			e.Journal = models.JournalBanque
			if method.IsCash {
				e.Journal = models.JournalCaisse
			}
		}
	}
	if e.Journal == "" {
		e.Journal = models.JournalOperationsDiverses
	}

	v = validation.Violations{}
	validation.Required("compte_debit", e.CompteDebit, v)
	validation.Required("compte_credit", e.CompteCredit, v)
	validation.PositiveDecimal("montant", e.Montant, v)
	if cat != nil || method != nil {
		dv, err := paymentform.Validate(cat, method, e.Details)
		if err != nil {
			return err
		}
		for f, code := range dv {
			v.Add(f, code)
		}
	}
	return invalid(v)
}

// loadPaymentRefs loads the active category and method when given.
func loadPaymentRefs(tx *gorm.DB, catID, methodID *uint) (*models.PaymentCategory, *models.PaymentMethod, error) {
	var cat *models.PaymentCategory
	var method *models.PaymentMethod
	v := validation.Violations{}
	if catID != nil {
		var c models.PaymentCategory
		if err := tx.Where("actif = ?", true).First(&c, *catID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, err
			}
			v.Add("payment_category_id", "not_found")
		} else {
			cat = &c
		}
	}
	if methodID != nil {
		var m models.PaymentMethod
		if err := tx.Where("actif = ?", true).First(&m, *methodID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, err
			}
			v.Add("payment_method_id", "not_found")
		} else {
			method = &m
		}
	}
	return cat, method, invalid(v)
}

// besoinOf returns the besoin behind a DA, used to file events in the dossier.
func (s *EcritureService) besoinOf(tx *gorm.DB, daID *uint) *uint {
	if daID == nil {
		return nil
	}
	var da models.DemandeAchat
	if err := tx.Select("id", "besoin_id").First(&da, *daID).Error; err != nil {
		return nil
	}
	return da.BesoinID
}

// Get loads an écriture.
func (s *EcritureService) Get(ctx context.Context, id uint) (*models.EcritureComptable, error) {
	var e models.EcritureComptable
	if err := s.DB.WithContext(ctx).Preload("Tiers").First(&e, id).Error; err != nil {
		return nil, dbErr(err)
	}
	if err := s.authorize(ctx, gate.ActionView, policy.ResourceEcriture, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns écritures by date, newest first.
func (s *EcritureService) List(ctx context.Context, f EcritureFilter, p Page) ([]models.EcritureComptable, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.EcritureComptable{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Journal != "" {
		q = q.Where("journal = ?", f.Journal)
	}
	if f.ProjetID != 0 {
		q = q.Where("projet_id = ?", f.ProjetID)
	}
	if f.TiersID != 0 {
		q = q.Where("tiers_id = ?", f.TiersID)
	}
	if f.DemandeAchatID != 0 {
		q = q.Where("demande_achat_id = ?", f.DemandeAchatID)
	}
	if f.From != nil {
		q = q.Where("date_ecriture >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("date_ecriture <= ?", *f.To)
	}
	if f.Q != "" {
		like := "%" + strings.ToLower(f.Q) + "%"
		q = q.Where("LOWER(libelle) LIKE ? OR LOWER(numero) LIKE ?", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.EcritureComptable
	if err := p.apply(q).Order("date_ecriture DESC, id DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Validate moves a draft to validee.
func (s *EcritureService) Validate(ctx context.Context, id uint) (*models.EcritureComptable, error) {
	return s.transition(ctx, id, gate.ActionValidate, "", func(tx *gorm.DB, e *models.EcritureComptable) error {
		now := s.now()
		e.ValideeLe = &now
		return nil
	})
}

// Cancel cancels a draft or validated écriture.
func (s *EcritureService) Cancel(ctx context.Context, id uint, motif string) (*models.EcritureComptable, error) {
	return s.transition(ctx, id, gate.ActionCancel, motif, func(tx *gorm.DB, e *models.EcritureComptable) error {
		e.MotifAnnule = strings.TrimSpace(motif)
		return nil
	})
}

// Pay settles a validated écriture. In the same transaction it marks the
// linked DA payee and, for a cash method, disburses from the caisse.
func (s *EcritureService) Pay(ctx context.Context, id uint, in PayInput) (*models.EcritureComptable, error) {
	return s.transition(ctx, id, gate.ActionPay, "", func(tx *gorm.DB, e *models.EcritureComptable) error {
		if len(in.Details) > 0 {
			merged := make(map[string]any, len(e.Details)+len(in.Details))
			maps.Copy(merged, e.Details)
			maps.Copy(merged, in.Details)
			e.Details = merged
		}
		cat, method, err := loadPaymentRefs(tx, e.PaymentCategoryID, e.PaymentMethodID)
		if err != nil {
			return err
		}
		if cat != nil || method != nil {
			v, err := paymentform.Validate(cat, method, e.Details)
			if err != nil {
				return err
			}
			if err := invalid(v); err != nil {
				return err
			}
		}

		now := s.now()
		date := now
		if in.DatePaiement != nil {
			date = *in.DatePaiement
		}
		e.PayeeLe = &date
		e.PayeeParID = actorPtr(ctx)

		if method != nil && method.IsCash {
			if in.CaisseID == nil {
				return ErrCaisseRequise
			}
			e.CaisseID = in.CaisseID
			if _, err := s.applyMouvement(ctx, tx, *in.CaisseID, mouvement{
				typ:        models.MouvementSortie,
				montant:    e.Montant,
				motif:      e.Numero + " " + e.Libelle,
				ecritureID: &e.ID,
				besoinID:   s.besoinOf(tx, e.DemandeAchatID),
				date:       date,
			}); err != nil {
				return err
			}
		}
		if e.DemandeAchatID != nil {
			return s.markPaid(ctx, tx, *e.DemandeAchatID)
		}
		return nil
	})
}

func (s *EcritureService) transition(ctx context.Context, id uint, action gate.Action, note string, apply func(*gorm.DB, *models.EcritureComptable) error) (*models.EcritureComptable, error) {
	var e models.EcritureComptable
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&e, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, action, policy.ResourceEcriture, &e); err != nil {
			return err
		}
		t, err := guardTransition(workflow.Ecriture, e.Status, action, note)
		if err != nil {
			return err
		}
		if err := apply(tx, &e); err != nil {
			return err
		}
		from := e.Status
		e.Status = t.To
		if err := tx.Save(&e).Error; err != nil {
			return err
		}
		return s.record(ctx, tx, event{
			entity: workflow.EntityEcriture, entityID: e.ID, numero: e.Numero, besoinID: s.besoinOf(tx, e.DemandeAchatID),
			action: action, from: string(from), to: string(e.Status), note: note,
		})
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}
