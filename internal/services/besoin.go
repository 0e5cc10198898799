package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/workflow"
	"github.com/diewo77/go-achats/validation"
)

// BesoinLigneInput is one requested line.
type BesoinLigneInput struct {
	ArticleID   *uint           `json:"article_id,omitempty"`
	Designation string          `json:"designation"`
	Quantite    decimal.Decimal `json:"quantite"`
	Unite       string          `json:"unite,omitempty"`
}

// BesoinInput creates or replaces a draft besoin.
type BesoinInput struct {
	Titre         string             `json:"titre"`
	Description   string             `json:"description,omitempty"`
	Priorite      string             `json:"priorite,omitempty"`
	DateSouhaitee *time.Time         `json:"date_souhaitee,omitempty"`
	DepartementID uint               `json:"departement_id,omitempty"`
	ProjetID      *uint              `json:"projet_id,omitempty"`
	Lignes        []BesoinLigneInput `json:"lignes"`
}

func (in *BesoinInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("titre", in.Titre, v)
	validation.MaxLen("titre", in.Titre, 255, v)
	if in.Priorite != "" {
		validation.OneOf("priorite", in.Priorite, models.BesoinPriorites, v)
	}
	if len(in.Lignes) == 0 {
		v.Add("lignes", "required")
	}
	for i, l := range in.Lignes {
		lv := validation.Violations{}
		if l.ArticleID == nil {
			validation.Required("designation", l.Designation, lv)
		}
		validation.MaxLen("designation", l.Designation, 255, lv)
		validation.PositiveDecimal("quantite", l.Quantite, lv)
		v.Merge(lineKey("lignes", i), lv)
	}
	return v
}

// BesoinFilter narrows a listing.
type BesoinFilter struct {
	Status        string
	DepartementID uint
	ProjetID      uint
	DemandeurID   uint
	Q             string
}

// BesoinService manages internal needs.
type BesoinService struct {
	Deps
}

// NewBesoinService creates the service.
func NewBesoinService(d Deps) *BesoinService { return &BesoinService{Deps: d} }

// Create stores a draft besoin. The department defaults to the caller's.
func (s *BesoinService) Create(ctx context.Context, in BesoinInput) (*models.Besoin, error) {
	if err := invalid(in.validate()); err != nil {
		return nil, err
	}
	var b models.Besoin
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dept := in.DepartementID
		if dept == 0 {
			var err error
			if dept, err = callerDepartement(ctx, tx); err != nil {
				return err
			}
			if dept == 0 {
				return invalid(validation.Violations{"departement_id": "required"})
			}
		}
		lignes, err := buildLignes(tx, in.Lignes)
		if err != nil {
			return err
		}
		numero, err := models.NextNumber(tx, &models.Besoin{}, "numero", models.PrefixBesoin, s.now().Year())
		if err != nil {
			return err
		}
		b = models.Besoin{
			Numero:        numero,
			Titre:         strings.TrimSpace(in.Titre),
			Description:   in.Description,
			Priorite:      defaultString(in.Priorite, "normale"),
			DateSouhaitee: in.DateSouhaitee,
			Status:        workflow.Besoin.Initial(),
			DepartementID: dept,
			ProjetID:      in.ProjetID,
			DemandeurID:   actor(ctx),
			Lignes:        lignes,
		}
		if err := s.authorize(ctx, gate.ActionCreate, policy.ResourceBesoin, &b); err != nil {
			return err
		}
		if err := tx.Create(&b).Error; err != nil {
			return dbErr(err)
		}
		return s.record(ctx, tx, event{
			entity: workflow.EntityBesoin, entityID: b.ID, numero: b.Numero, besoinID: &b.ID,
			action: gate.ActionCreate, to: string(b.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func buildLignes(tx *gorm.DB, in []BesoinLigneInput) ([]models.BesoinLigne, error) {
	out := make([]models.BesoinLigne, 0, len(in))
	for i, l := range in {
		ligne := models.BesoinLigne{
			ArticleID:   l.ArticleID,
			Designation: strings.TrimSpace(l.Designation),
			Quantite:    l.Quantite,
			Unite:       defaultString(l.Unite, "unite"),
			Position:    i,
		}
		if l.ArticleID != nil {
			var a models.Article
			if err := tx.First(&a, *l.ArticleID).Error; err != nil {
				if dbErr(err) == ErrNotFound {
					return nil, invalid(validation.Violations{lineKey("lignes", i) + "article_id": "not_found"})
				}
				return nil, err
			}
			if ligne.Designation == "" {
				ligne.Designation = a.Designation
			}
			if l.Unite == "" {
				ligne.Unite = a.Unite
			}
		}
		out = append(out, ligne)
	}
	return out, nil
}

// Update replaces the fields and lines of a draft.
func (s *BesoinService) Update(ctx context.Context, id uint, in BesoinInput) (*models.Besoin, error) {
	if err := invalid(in.validate()); err != nil {
		return nil, err
	}
	var b models.Besoin
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&b, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, gate.ActionUpdate, policy.ResourceBesoin, &b); err != nil {
			return err
		}
		if !b.CanEdit() {
			return &workflow.TransitionError{Entity: workflow.EntityBesoin, From: string(b.Status), Action: gate.ActionUpdate}
		}
		lignes, err := buildLignes(tx, in.Lignes)
		if err != nil {
			return err
		}
		if err := tx.Where("besoin_id = ?", b.ID).Delete(&models.BesoinLigne{}).Error; err != nil {
			return err
		}
		b.Titre = strings.TrimSpace(in.Titre)
		b.Description = in.Description
		b.Priorite = defaultString(in.Priorite, b.Priorite)
		b.DateSouhaitee = in.DateSouhaitee
		b.ProjetID = in.ProjetID
		if in.DepartementID != 0 && in.DepartementID != b.DepartementID {
			b.DepartementID = in.DepartementID
			// Moving a draft to another department needs rights there too.
			if err := s.authorize(ctx, gate.ActionUpdate, policy.ResourceBesoin, &b); err != nil {
				return err
			}
		}
		if err := tx.Save(&b).Error; err != nil {
			return dbErr(err)
		}
		for i := range lignes {
			lignes[i].BesoinID = b.ID
		}
		if err := tx.Create(&lignes).Error; err != nil {
			return err
		}
		b.Lignes = lignes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Delete removes a draft besoin.
func (s *BesoinService) Delete(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Besoin
		if err := forUpdate(tx).First(&b, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, gate.ActionDelete, policy.ResourceBesoin, &b); err != nil {
			return err
		}
		if !b.CanEdit() {
			return &workflow.TransitionError{Entity: workflow.EntityBesoin, From: string(b.Status), Action: gate.ActionDelete}
		}
		if err := tx.Where("besoin_id = ?", b.ID).Delete(&models.BesoinLigne{}).Error; err != nil {
			return err
		}
		return tx.Delete(&b).Error
	})
}

// Get loads a besoin with its lines.
func (s *BesoinService) Get(ctx context.Context, id uint) (*models.Besoin, error) {
	var b models.Besoin
	err := s.DB.WithContext(ctx).
		Preload("Lignes", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Preload("Lignes.Article").Preload("Departement").Preload("Projet").
		First(&b, id).Error
	if err != nil {
		return nil, dbErr(err)
	}
	if err := s.authorize(ctx, gate.ActionView, policy.ResourceBesoin, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns besoins visible to the caller, newest first.
func (s *BesoinService) List(ctx context.Context, f BesoinFilter, p Page) ([]models.Besoin, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.Besoin{})
	q = s.scopeDepartement(ctx, q, policy.ResourceBesoin, "departement_id")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.DepartementID != 0 {
		q = q.Where("departement_id = ?", f.DepartementID)
	}
	if f.ProjetID != 0 {
		q = q.Where("projet_id = ?", f.ProjetID)
	}
	if f.DemandeurID != 0 {
		q = q.Where("demandeur_id = ?", f.DemandeurID)
	}
	if f.Q != "" {
		like := "%" + strings.ToLower(f.Q) + "%"
		q = q.Where("LOWER(titre) LIKE ? OR LOWER(numero) LIKE ?", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.Besoin
	if err := p.apply(q).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Transition applies a user action: submit, validate, reject, revise, cancel.
func (s *BesoinService) Transition(ctx context.Context, id uint, action gate.Action, note string) (*models.Besoin, error) {
	var b models.Besoin
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&b, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, action, policy.ResourceBesoin, &b); err != nil {
			return err
		}
		t, err := guardTransition(workflow.Besoin, b.Status, action, note)
		if err != nil {
			return err
		}
		if t.Automatic {
			return &workflow.TransitionError{Entity: workflow.EntityBesoin, From: string(b.Status), Action: action}
		}
		from := b.Status
		b.Status = t.To
		switch action {
		case gate.ActionValidate:
			now := s.now()
			b.ValideParID = actorPtr(ctx)
			b.ValideLe = &now
			b.MotifRejet = ""
		case gate.ActionReject, gate.ActionRevise:
			b.MotifRejet = strings.TrimSpace(note)
		}
		if err := tx.Save(&b).Error; err != nil {
			return err
		}
		return s.record(ctx, tx, event{
			entity: workflow.EntityBesoin, entityID: b.ID, numero: b.Numero, besoinID: &b.ID,
			action: action, from: string(from), to: string(b.Status), note: note,
		})
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// LigneCouverture tells how much of a line is served.
type LigneCouverture struct {
	LigneID     uint            `json:"ligne_id"`
	ArticleID   *uint           `json:"article_id,omitempty"`
	Designation string          `json:"designation"`
	Unite       string          `json:"unite"`
	Demande     decimal.Decimal `json:"demande"`
	Reserve     decimal.Decimal `json:"reserve"`
	Livre       decimal.Decimal `json:"livre"`
	Achete      decimal.Decimal `json:"achete"`
	Restant     decimal.Decimal `json:"restant"`
}

// Couvert is true when delivered plus purchased reach the requested quantity.
func (c LigneCouverture) Couvert() bool {
	return c.Livre.Add(c.Achete).GreaterThanOrEqual(c.Demande)
}

type coverageRow struct {
	BesoinLigneID uint
	Status        string
	Quantite      decimal.Decimal
}

// coverage computes per-line coverage. Reserve counts every live BL and DA line,
// Livre only delivered BLs and Achete only paid DAs.
func coverage(tx *gorm.DB, besoinID uint) ([]LigneCouverture, error) {
	var lignes []models.BesoinLigne
	if err := tx.Where("besoin_id = ?", besoinID).Order("position, id").Find(&lignes).Error; err != nil {
		return nil, err
	}
	var bl, da []coverageRow
	err := tx.Table("bl_articles").
		Select("bl_articles.besoin_ligne_id, bons_livraison.status, bl_articles.quantite").
		Joins("JOIN bons_livraison ON bons_livraison.id = bl_articles.bon_livraison_id").
		Where("bons_livraison.besoin_id = ? AND bons_livraison.deleted_at IS NULL", besoinID).
		Scan(&bl).Error
	if err != nil {
		return nil, err
	}
	err = tx.Table("da_articles").
		Select("da_articles.besoin_ligne_id, demandes_achat.status, da_articles.quantite").
		Joins("JOIN demandes_achat ON demandes_achat.id = da_articles.demande_achat_id").
		Where("demandes_achat.besoin_id = ? AND demandes_achat.deleted_at IS NULL AND da_articles.besoin_ligne_id IS NOT NULL", besoinID).
		Scan(&da).Error
	if err != nil {
		return nil, err
	}

	out := make([]LigneCouverture, len(lignes))
	index := make(map[uint]int, len(lignes))
	for i, l := range lignes {
		index[l.ID] = i
		out[i] = LigneCouverture{
			LigneID: l.ID, ArticleID: l.ArticleID, Designation: l.Designation, Unite: l.Unite,
			Demande: l.Quantite, Reserve: decimal.Zero, Livre: decimal.Zero, Achete: decimal.Zero,
		}
	}
	for _, r := range bl {
		i, ok := index[r.BesoinLigneID]
		if !ok || r.Status == string(models.BLAnnule) {
			continue
		}
		out[i].Reserve = out[i].Reserve.Add(r.Quantite)
		if r.Status == string(models.BLLivre) {
			out[i].Livre = out[i].Livre.Add(r.Quantite)
		}
	}
	for _, r := range da {
		i, ok := index[r.BesoinLigneID]
		if !ok || r.Status == string(models.DAAnnulee) || r.Status == string(models.DARejetee) {
			continue
		}
		out[i].Reserve = out[i].Reserve.Add(r.Quantite)
		if r.Status == string(models.DAPayee) {
			out[i].Achete = out[i].Achete.Add(r.Quantite)
		}
	}
	for i := range out {
		out[i].Restant = decimal.Max(decimal.Zero, out[i].Demande.Sub(out[i].Reserve))
	}
	return out, nil
}

// Couverture returns the coverage of every line of a besoin.
func (s *BesoinService) Couverture(ctx context.Context, id uint) ([]LigneCouverture, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return coverage(s.DB.WithContext(ctx), id)
}

// checkRemaining refuses lines asking more than what remains on their besoin line.
// exclude lists quantities already counted for the document being edited.
func checkRemaining(cov []LigneCouverture, asked map[uint]decimal.Decimal, exclude map[uint]decimal.Decimal) error {
	byID := make(map[uint]LigneCouverture, len(cov))
	for _, c := range cov {
		byID[c.LigneID] = c
	}
	for ligneID, qty := range asked {
		c, ok := byID[ligneID]
		if !ok {
			return invalid(validation.Violations{"besoin_ligne_id": "not_found"})
		}
		restant := c.Restant
		if ex, ok := exclude[ligneID]; ok {
			restant = decimal.Min(c.Demande, restant.Add(ex))
		}
		if qty.GreaterThan(restant) {
			return &QuantiteError{BesoinLigneID: ligneID, Restant: restant, Demande: qty}
		}
	}
	return nil
}

// loadServableBesoin locks a besoin that DAs or BLs may be raised against.
func loadServableBesoin(tx *gorm.DB, id uint) (*models.Besoin, error) {
	var b models.Besoin
	if err := forUpdate(tx).First(&b, id).Error; err != nil {
		return nil, dbErr(err)
	}
	if !b.Servable() {
		return nil, ErrBesoinNonValide
	}
	return &b, nil
}

// progress moves a besoin along its automatic edges: valide -> en_traitement
// once served, en_traitement -> satisfait once every line is covered.
func (d Deps) progress(ctx context.Context, tx *gorm.DB, besoinID uint) error {
	var b models.Besoin
	if err := forUpdate(tx).First(&b, besoinID).Error; err != nil {
		return dbErr(err)
	}
	advance := func(action gate.Action) error {
		t, err := workflow.Besoin.ForAction(b.Status, action)
		if err != nil {
			return err
		}
		from := b.Status
		b.Status = t.To
		if err := tx.Model(&b).Update("status", b.Status).Error; err != nil {
			return err
		}
		return d.record(ctx, tx, event{
			entity: workflow.EntityBesoin, entityID: b.ID, numero: b.Numero, besoinID: &b.ID,
			action: action, from: string(from), to: string(b.Status),
		})
	}
	if b.Status == models.BesoinValide {
		if err := advance(workflow.ActionProcess); err != nil {
			return err
		}
	}
	if b.Status != models.BesoinEnTraitement {
		return nil
	}
	cov, err := coverage(tx, b.ID)
	if err != nil {
		return err
	}
	if len(cov) == 0 {
		return nil
	}
	for _, c := range cov {
		if !c.Couvert() {
			return nil
		}
	}
	return advance(workflow.ActionSatisfy)
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// lineKey prefixes violations of the i-th line, e.g. "lignes[2].".
func lineKey(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]."
}
