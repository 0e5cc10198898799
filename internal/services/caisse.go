package services

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/workflow"
	"github.com/diewo77/go-achats/validation"
)

// CaisseInput creates or updates a caisse. SoldeInitial is only read on creation.
type CaisseInput struct {
	Code          string          `json:"code"`
	Libelle       string          `json:"libelle"`
	DepartementID *uint           `json:"departement_id,omitempty"`
	ResponsableID *uint           `json:"responsable_id,omitempty"`
	SoldeInitial  decimal.Decimal `json:"solde_initial"`
	Active        *bool           `json:"active,omitempty"`
}

func (in *CaisseInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("code", in.Code, v)
	validation.MaxLen("code", in.Code, 30, v)
	validation.Required("libelle", in.Libelle, v)
	validation.MaxLen("libelle", in.Libelle, 255, v)
	validation.NonNegativeDecimal("solde_initial", in.SoldeInitial, v)
	return v
}

// MouvementInput is a manual caisse movement.
type MouvementInput struct {
	Type          string          `json:"type"`
	Montant       decimal.Decimal `json:"montant"`
	Motif         string          `json:"motif"`
	BesoinID      *uint           `json:"besoin_id,omitempty"`
	DateMouvement *time.Time      `json:"date_mouvement,omitempty"`
}

func (in *MouvementInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.OneOf("type", in.Type, []string{models.MouvementEntree, models.MouvementSortie}, v)
	validation.PositiveDecimal("montant", in.Montant, v)
	validation.Required("motif", in.Motif, v)
	validation.MaxLen("motif", in.Motif, 500, v)
	return v
}

// LedgerFilter bounds a ledger listing by movement date.
type LedgerFilter struct {
	From *time.Time
	To   *time.Time
}

// Ledger is the chronological list of movements of one caisse.
type Ledger struct {
	Caisse      models.Caisse            `json:"caisse"`
	Ouverture   decimal.Decimal          `json:"solde_ouverture"`
	Cloture     decimal.Decimal          `json:"solde_cloture"`
	TotalEntree decimal.Decimal          `json:"total_entree"`
	TotalSortie decimal.Decimal          `json:"total_sortie"`
	Mouvements  []models.CaisseMouvement `json:"mouvements"`
}

// Anomaly is a ledger row whose solde_avant does not continue the previous row,
// or whose solde_apres does not follow from its amount.
type Anomaly struct {
	MouvementID uint            `json:"mouvement_id"`
	Reference   string          `json:"reference"`
	Attendu     decimal.Decimal `json:"attendu"`
	Trouve      decimal.Decimal `json:"trouve"`
	Champ       string          `json:"champ"`
}

// VerifyReport compares the stored balance with a replay of the ledger.
type VerifyReport struct {
	CaisseID     uint            `json:"caisse_id"`
	Code         string          `json:"code"`
	SoldeInitial decimal.Decimal `json:"solde_initial"`
	SoldeStocke  decimal.Decimal `json:"solde_stocke"`
	SoldeCalcule decimal.Decimal `json:"solde_calcule"`
	Ecart        decimal.Decimal `json:"ecart"`
	Mouvements   int             `json:"mouvements"`
	Anomalies    []Anomaly       `json:"anomalies"`
}

// OK is true when the balance matches the ledger and every row chains.
func (r *VerifyReport) OK() bool { return r.Ecart.IsZero() && len(r.Anomalies) == 0 }

// CaisseService manages cash registers and their ledger.
type CaisseService struct {
	Deps
}

// NewCaisseService creates the service.
func NewCaisseService(d Deps) *CaisseService { return &CaisseService{Deps: d} }

// Create opens a caisse with its initial balance.
func (s *CaisseService) Create(ctx context.Context, in CaisseInput) (*models.Caisse, error) {
	if err := invalid(in.validate()); err != nil {
		return nil, err
	}
	c := models.Caisse{
		Code:          strings.ToUpper(strings.TrimSpace(in.Code)),
		Libelle:       strings.TrimSpace(in.Libelle),
		DepartementID: in.DepartementID,
		ResponsableID: in.ResponsableID,
		SoldeInitial:  in.SoldeInitial,
		Solde:         in.SoldeInitial,
		Active:        in.Active == nil || *in.Active,
	}
	if err := s.authorize(ctx, gate.ActionCreate, policy.ResourceCaisse, nil); err != nil {
		return nil, err
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&c).Error; err != nil {
			return dbErr(err)
		}
		// The column default wins over a false zero value on insert.
		if in.Active != nil && !*in.Active {
			return tx.Model(&c).Update("active", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Update changes the descriptive fields. The balance only moves through movements.
func (s *CaisseService) Update(ctx context.Context, id uint, in CaisseInput) (*models.Caisse, error) {
	if err := invalid(in.validate()); err != nil {
		return nil, err
	}
	var c models.Caisse
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&c, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, gate.ActionUpdate, policy.ResourceCaisse, &c); err != nil {
			return err
		}
		c.Code = strings.ToUpper(strings.TrimSpace(in.Code))
		c.Libelle = strings.TrimSpace(in.Libelle)
		c.DepartementID = in.DepartementID
		c.ResponsableID = in.ResponsableID
		if in.Active != nil {
			c.Active = *in.Active
		}
		return dbErr(tx.Save(&c).Error)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get loads a caisse by id.
func (s *CaisseService) Get(ctx context.Context, id uint) (*models.Caisse, error) {
	var c models.Caisse
	if err := s.DB.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, dbErr(err)
	}
	if err := s.authorize(ctx, gate.ActionView, policy.ResourceCaisse, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ByCode loads a caisse by its code.
func (s *CaisseService) ByCode(ctx context.Context, code string) (*models.Caisse, error) {
	var c models.Caisse
	if err := s.DB.WithContext(ctx).Where("code = ?", strings.ToUpper(code)).First(&c).Error; err != nil {
		return nil, dbErr(err)
	}
	if err := s.authorize(ctx, gate.ActionView, policy.ResourceCaisse, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns caisses ordered by code.
func (s *CaisseService) List(ctx context.Context, activeOnly bool) ([]models.Caisse, error) {
	q := s.DB.WithContext(ctx).Model(&models.Caisse{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []models.Caisse
	if err := q.Order("code").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Mouvement records a manual entree or sortie.
func (s *CaisseService) Mouvement(ctx context.Context, caisseID uint, in MouvementInput) (*models.CaisseMouvement, error) {
	if err := invalid(in.validate()); err != nil {
		return nil, err
	}
	var mv *models.CaisseMouvement
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.authorize(ctx, policy.ActionMouvement, policy.ResourceCaisse, nil); err != nil {
			return err
		}
		date := s.now()
		if in.DateMouvement != nil {
			date = *in.DateMouvement
		}
		var err error
		mv, err = s.applyMouvement(ctx, tx, caisseID, mouvement{
			typ: in.Type, montant: in.Montant, motif: strings.TrimSpace(in.Motif),
			besoinID: in.BesoinID, date: date,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}

type mouvement struct {
	typ        string
	montant    decimal.Decimal
	motif      string
	ecritureID *uint
	besoinID   *uint
	date       time.Time
}

// applyMouvement locks the caisse, checks the balance and appends a ledger row.
// Must run inside a transaction.
func (d Deps) applyMouvement(ctx context.Context, tx *gorm.DB, caisseID uint, m mouvement) (*models.CaisseMouvement, error) {
	var c models.Caisse
	if err := forUpdate(tx).First(&c, caisseID).Error; err != nil {
		return nil, dbErr(err)
	}
	if !c.Active {
		return nil, ErrCaisseInactive
	}
	avant := c.Solde
	apres := avant.Add(m.montant)
	if m.typ == models.MouvementSortie {
		if avant.LessThan(m.montant) {
			return nil, &SoldeError{CaisseID: c.ID, Disponible: avant, Demande: m.montant}
		}
		apres = avant.Sub(m.montant)
	}
	ref, err := models.NextNumber(tx, &models.CaisseMouvement{}, "reference", models.PrefixCaisse, d.now().Year())
	if err != nil {
		return nil, err
	}
	mv := models.CaisseMouvement{
		Reference:     ref,
		CaisseID:      c.ID,
		Type:          m.typ,
		Montant:       m.montant,
		SoldeAvant:    avant,
		SoldeApres:    apres,
		Motif:         m.motif,
		EcritureID:    m.ecritureID,
		BesoinID:      m.besoinID,
		UserID:        actor(ctx),
		DateMouvement: m.date,
	}
	if err := tx.Create(&mv).Error; err != nil {
		return nil, dbErr(err)
	}
	if err := tx.Model(&c).Update("solde", apres).Error; err != nil {
		return nil, err
	}
	d.logger().Info("caisse mouvement",
		zap.String("caisse", c.Code),
		zap.String("reference", ref),
		zap.String("type", m.typ),
		zap.String("montant", m.montant.StringFixed(2)),
		zap.String("solde_apres", apres.StringFixed(2)))
	if m.besoinID != nil {
		if err := d.record(ctx, tx, event{
			entity: workflow.EntityCaisse, entityID: c.ID, numero: ref, besoinID: m.besoinID,
			action: policy.ActionMouvement, note: m.motif,
		}); err != nil {
			return nil, err
		}
	}
	return &mv, nil
}

// Ledger lists movements in insertion order with opening and closing balances.
func (s *CaisseService) Ledger(ctx context.Context, caisseID uint, f LedgerFilter) (*Ledger, error) {
	c, err := s.Get(ctx, caisseID)
	if err != nil {
		return nil, err
	}
	q := s.DB.WithContext(ctx).Where("caisse_id = ?", c.ID)
	if f.From != nil {
		q = q.Where("date_mouvement >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("date_mouvement <= ?", *f.To)
	}
	var mvs []models.CaisseMouvement
	if err := q.Order("id").Find(&mvs).Error; err != nil {
		return nil, err
	}
	l := &Ledger{
		Caisse: *c, Ouverture: c.Solde, Cloture: c.Solde,
		TotalEntree: decimal.Zero, TotalSortie: decimal.Zero, Mouvements: mvs,
	}
	if len(mvs) > 0 {
		l.Ouverture = mvs[0].SoldeAvant
		l.Cloture = mvs[len(mvs)-1].SoldeApres
	}
	for _, m := range mvs {
		if m.Type == models.MouvementSortie {
			l.TotalSortie = l.TotalSortie.Add(m.Montant)
		} else {
			l.TotalEntree = l.TotalEntree.Add(m.Montant)
		}
	}
	return l, nil
}

// Verify replays every movement from the initial balance and reports drift
// against the stored balance plus any row that breaks the chain.
func (s *CaisseService) Verify(ctx context.Context, caisseID uint) (*VerifyReport, error) {
	if err := s.authorize(ctx, policy.ActionVerify, policy.ResourceCaisse, nil); err != nil {
		return nil, err
	}
	var c models.Caisse
	if err := s.DB.WithContext(ctx).First(&c, caisseID).Error; err != nil {
		return nil, dbErr(err)
	}
	var mvs []models.CaisseMouvement
	if err := s.DB.WithContext(ctx).Where("caisse_id = ?", c.ID).Order("id").Find(&mvs).Error; err != nil {
		return nil, err
	}
	r := &VerifyReport{
		CaisseID: c.ID, Code: c.Code, SoldeInitial: c.SoldeInitial, SoldeStocke: c.Solde,
		Mouvements: len(mvs), Anomalies: []Anomaly{},
	}
	running := c.SoldeInitial
	for _, m := range mvs {
		if !m.SoldeAvant.Equal(running) {
			r.Anomalies = append(r.Anomalies, Anomaly{
				MouvementID: m.ID, Reference: m.Reference, Champ: "solde_avant",
				Attendu: running, Trouve: m.SoldeAvant,
			})
		}
		running = running.Add(m.Signed())
		if want := m.SoldeAvant.Add(m.Signed()); !m.SoldeApres.Equal(want) {
			r.Anomalies = append(r.Anomalies, Anomaly{
				MouvementID: m.ID, Reference: m.Reference, Champ: "solde_apres",
				Attendu: want, Trouve: m.SoldeApres,
			})
		}
	}
	r.SoldeCalcule = running
	r.Ecart = c.Solde.Sub(running)
	if !r.OK() {
		s.logger().Warn("caisse ledger drift",
			zap.String("caisse", c.Code),
			zap.String("ecart", r.Ecart.StringFixed(2)),
			zap.Int("anomalies", len(r.Anomalies)))
	}
	return r, nil
}
