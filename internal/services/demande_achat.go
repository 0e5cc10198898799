package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/workflow"
	"github.com/diewo77/go-achats/validation"
)

// DAArticleInput is one purchased line.
type DAArticleInput struct {
	BesoinLigneID *uint           `json:"besoin_ligne_id,omitempty"`
	ArticleID     *uint           `json:"article_id,omitempty"`
	Designation   string          `json:"designation"`
	Quantite      decimal.Decimal `json:"quantite"`
	PrixUnitaire  decimal.Decimal `json:"prix_unitaire"`
}

// DAInput creates or replaces an editable DA.
type DAInput struct {
	Objet         string           `json:"objet"`
	BesoinID      *uint            `json:"besoin_id,omitempty"`
	ProjetID      *uint            `json:"projet_id,omitempty"`
	DepartementID uint             `json:"departement_id,omitempty"`
	FournisseurID *uint            `json:"fournisseur_id,omitempty"`
	Articles      []DAArticleInput `json:"articles"`
}

func (in *DAInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("objet", in.Objet, v)
	validation.MaxLen("objet", in.Objet, 255, v)
	if in.BesoinID == nil && in.ProjetID == nil {
		v.Add("projet_id", "required")
	}
	if len(in.Articles) == 0 {
		v.Add("articles", "required")
	}
	for i, a := range in.Articles {
		lv := validation.Violations{}
		if a.ArticleID == nil && a.BesoinLigneID == nil {
			validation.Required("designation", a.Designation, lv)
		}
		validation.MaxLen("designation", a.Designation, 255, lv)
		validation.PositiveDecimal("quantite", a.Quantite, lv)
		validation.NonNegativeDecimal("prix_unitaire", a.PrixUnitaire, lv)
		if a.BesoinLigneID != nil && in.BesoinID == nil {
			lv.Add("besoin_ligne_id", "invalid")
		}
		v.Merge(lineKey("articles", i), lv)
	}
	return v
}

// DAFilter narrows a listing.
type DAFilter struct {
	Status        string
	BesoinID      uint
	ProjetID      uint
	DepartementID uint
	Q             string
}

// DemandeAchatService manages purchase requests.
type DemandeAchatService struct {
	Deps
}

// NewDemandeAchatService creates the service.
func NewDemandeAchatService(d Deps) *DemandeAchatService { return &DemandeAchatService{Deps: d} }

// Create stores a draft DA, from a servable besoin or standalone for a projet.
func (s *DemandeAchatService) Create(ctx context.Context, in DAInput) (*models.DemandeAchat, error) {
	if err := invalid(in.validate()); err != nil {
		return nil, err
	}
	var da models.DemandeAchat
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		da = models.DemandeAchat{
			Objet:         strings.TrimSpace(in.Objet),
			Status:        workflow.DemandeAchat.Initial(),
			BesoinID:      in.BesoinID,
			ProjetID:      in.ProjetID,
			DepartementID: in.DepartementID,
			FournisseurID: in.FournisseurID,
			DemandeurID:   actor(ctx),
		}
		if in.BesoinID != nil {
			b, err := loadServableBesoin(tx, *in.BesoinID)
			if err != nil {
				return err
			}
			da.DepartementID = b.DepartementID
			if da.ProjetID == nil {
				da.ProjetID = b.ProjetID
			}
			if err := s.checkBesoinLines(tx, b.ID, in.Articles, nil); err != nil {
				return err
			}
		}
		if da.DepartementID == 0 {
			dept, err := callerDepartement(ctx, tx)
			if err != nil {
				return err
			}
			if dept == 0 {
				return invalid(validation.Violations{"departement_id": "required"})
			}
			da.DepartementID = dept
		}
		if err := s.authorize(ctx, gate.ActionCreate, policy.ResourceDemandeAchat, &da); err != nil {
			return err
		}
		arts, err := buildDAArticles(tx, in.Articles)
		if err != nil {
			return err
		}
		da.Articles = arts
		da.ComputeTotal()
		numero, err := models.NextNumber(tx, &models.DemandeAchat{}, "numero", models.PrefixDA, s.now().Year())
		if err != nil {
			return err
		}
		da.Numero = numero
		if err := tx.Create(&da).Error; err != nil {
			return dbErr(err)
		}
		if err := s.record(ctx, tx, event{
			entity: workflow.EntityDemandeAchat, entityID: da.ID, numero: da.Numero, besoinID: da.BesoinID,
			action: gate.ActionCreate, to: string(da.Status),
		}); err != nil {
			return err
		}
		if da.BesoinID != nil {
			return s.progress(ctx, tx, *da.BesoinID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &da, nil
}

// checkBesoinLines refuses lines that are not on the besoin or exceed what remains.
// current holds the lines of the DA being edited, which no longer count as reserved.
func (s *DemandeAchatService) checkBesoinLines(tx *gorm.DB, besoinID uint, arts []DAArticleInput, current []models.DAArticle) error {
	asked := make(map[uint]decimal.Decimal)
	for _, a := range arts {
		if a.BesoinLigneID != nil {
			asked[*a.BesoinLigneID] = asked[*a.BesoinLigneID].Add(a.Quantite)
		}
	}
	if len(asked) == 0 {
		return nil
	}
	cov, err := coverage(tx, besoinID)
	if err != nil {
		return err
	}
	exclude := make(map[uint]decimal.Decimal)
	for _, c := range current {
		if c.BesoinLigneID != nil {
			exclude[*c.BesoinLigneID] = exclude[*c.BesoinLigneID].Add(c.Quantite)
		}
	}
	return checkRemaining(cov, asked, exclude)
}

func buildDAArticles(tx *gorm.DB, in []DAArticleInput) ([]models.DAArticle, error) {
	out := make([]models.DAArticle, 0, len(in))
	for i, a := range in {
		art := models.DAArticle{
			BesoinLigneID: a.BesoinLigneID,
			ArticleID:     a.ArticleID,
			Designation:   strings.TrimSpace(a.Designation),
			Quantite:      a.Quantite,
			PrixUnitaire:  a.PrixUnitaire,
		}
		if art.Designation == "" && a.BesoinLigneID != nil {
			var l models.BesoinLigne
			if err := tx.First(&l, *a.BesoinLigneID).Error; err != nil {
				return nil, invalid(validation.Violations{lineKey("articles", i) + "besoin_ligne_id": "not_found"})
			}
			art.Designation = l.Designation
			if art.ArticleID == nil {
				art.ArticleID = l.ArticleID
			}
		}
		if art.Designation == "" && a.ArticleID != nil {
			var stock models.Article
			if err := tx.First(&stock, *a.ArticleID).Error; err != nil {
				return nil, invalid(validation.Violations{lineKey("articles", i) + "article_id": "not_found"})
			}
			art.Designation = stock.Designation
		}
		out = append(out, art)
	}
	return out, nil
}

// Update replaces an editable DA (brouillon or en_revision).
func (s *DemandeAchatService) Update(ctx context.Context, id uint, in DAInput) (*models.DemandeAchat, error) {
	if err := invalid(in.validate()); err != nil {
		return nil, err
	}
	var da models.DemandeAchat
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).Preload("Articles").First(&da, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, gate.ActionUpdate, policy.ResourceDemandeAchat, &da); err != nil {
			return err
		}
		if !da.CanEdit() {
			return &workflow.TransitionError{Entity: workflow.EntityDemandeAchat, From: string(da.Status), Action: gate.ActionUpdate}
		}
		// The besoin link is fixed at creation.
		if !sameID(in.BesoinID, da.BesoinID) {
			return invalid(validation.Violations{"besoin_id": "immutable"})
		}
		if da.BesoinID != nil {
			if err := s.checkBesoinLines(tx, *da.BesoinID, in.Articles, da.Articles); err != nil {
				return err
			}
		}
		arts, err := buildDAArticles(tx, in.Articles)
		if err != nil {
			return err
		}
		if err := tx.Where("demande_achat_id = ?", da.ID).Delete(&models.DAArticle{}).Error; err != nil {
			return err
		}
		da.Objet = strings.TrimSpace(in.Objet)
		da.FournisseurID = in.FournisseurID
		if in.ProjetID != nil {
			da.ProjetID = in.ProjetID
		}
		for i := range arts {
			arts[i].DemandeAchatID = da.ID
		}
		da.Articles = arts
		da.ComputeTotal()
		if err := tx.Omit("Articles").Save(&da).Error; err != nil {
			return dbErr(err)
		}
		return tx.Create(&da.Articles).Error
	})
	if err != nil {
		return nil, err
	}
	return &da, nil
}

// Delete removes a draft DA.
func (s *DemandeAchatService) Delete(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var da models.DemandeAchat
		if err := forUpdate(tx).First(&da, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, gate.ActionDelete, policy.ResourceDemandeAchat, &da); err != nil {
			return err
		}
		if da.Status != models.DABrouillon {
			return &workflow.TransitionError{Entity: workflow.EntityDemandeAchat, From: string(da.Status), Action: gate.ActionDelete}
		}
		if err := tx.Where("demande_achat_id = ?", da.ID).Delete(&models.DAArticle{}).Error; err != nil {
			return err
		}
		return tx.Delete(&da).Error
	})
}

// Get loads a DA with its articles.
func (s *DemandeAchatService) Get(ctx context.Context, id uint) (*models.DemandeAchat, error) {
	var da models.DemandeAchat
	err := s.DB.WithContext(ctx).
		Preload("Articles", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Fournisseur").
		First(&da, id).Error
	if err != nil {
		return nil, dbErr(err)
	}
	if err := s.authorize(ctx, gate.ActionView, policy.ResourceDemandeAchat, &da); err != nil {
		return nil, err
	}
	return &da, nil
}

// List returns DAs visible to the caller, newest first.
func (s *DemandeAchatService) List(ctx context.Context, f DAFilter, p Page) ([]models.DemandeAchat, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.DemandeAchat{})
	q = s.scopeDepartement(ctx, q, policy.ResourceDemandeAchat, "departement_id")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.BesoinID != 0 {
		q = q.Where("besoin_id = ?", f.BesoinID)
	}
	if f.ProjetID != 0 {
		q = q.Where("projet_id = ?", f.ProjetID)
	}
	if f.DepartementID != 0 {
		q = q.Where("departement_id = ?", f.DepartementID)
	}
	if f.Q != "" {
		like := "%" + strings.ToLower(f.Q) + "%"
		q = q.Where("LOWER(objet) LIKE ? OR LOWER(numero) LIKE ?", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.DemandeAchat
	if err := p.apply(q).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Transition applies submit, validate, revise, reject or cancel.
// Payment goes through EcritureService.Pay.
func (s *DemandeAchatService) Transition(ctx context.Context, id uint, action gate.Action, note string) (*models.DemandeAchat, error) {
	var da models.DemandeAchat
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&da, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, action, policy.ResourceDemandeAchat, &da); err != nil {
			return err
		}
		t, err := guardTransition(workflow.DemandeAchat, da.Status, action, note)
		if err != nil {
			return err
		}
		if t.Automatic {
			return &workflow.TransitionError{Entity: workflow.EntityDemandeAchat, From: string(da.Status), Action: action}
		}
		if action == gate.ActionSubmit {
			var n int64
			if err := tx.Model(&models.DAArticle{}).Where("demande_achat_id = ?", da.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return invalid(validation.Violations{"articles": "required"})
			}
		}
		from := da.Status
		da.Status = t.To
		switch action {
		case gate.ActionValidate:
			now := s.now()
			da.ValideeParID = actorPtr(ctx)
			da.ValideeLe = &now
		case gate.ActionRevise:
			da.CommentaireRevision = strings.TrimSpace(note)
		case gate.ActionReject:
			da.MotifRejet = strings.TrimSpace(note)
		}
		if err := tx.Omit("Articles").Save(&da).Error; err != nil {
			return err
		}
		if err := s.record(ctx, tx, event{
			entity: workflow.EntityDemandeAchat, entityID: da.ID, numero: da.Numero, besoinID: da.BesoinID,
			action: action, from: string(from), to: string(da.Status), note: note,
		}); err != nil {
			return err
		}
		// A rejected or cancelled DA frees its reserved quantities; nothing
		// moves the besoin back, so only forward progress is re-evaluated.
		if da.BesoinID != nil {
			return s.progress(ctx, tx, *da.BesoinID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &da, nil
}

// markPaid moves a validated DA to payee inside the payment transaction.
func (d Deps) markPaid(ctx context.Context, tx *gorm.DB, daID uint) error {
	var da models.DemandeAchat
	if err := forUpdate(tx).First(&da, daID).Error; err != nil {
		return dbErr(err)
	}
	t, err := workflow.DemandeAchat.ForAction(da.Status, gate.ActionPay)
	if err != nil {
		return ErrDANonValidee
	}
	now := d.now()
	from := da.Status
	if err := tx.Model(&da).Updates(map[string]any{"status": t.To, "payee_le": now}).Error; err != nil {
		return err
	}
	if err := d.record(ctx, tx, event{
		entity: workflow.EntityDemandeAchat, entityID: da.ID, numero: da.Numero, besoinID: da.BesoinID,
		action: gate.ActionPay, from: string(from), to: string(t.To),
	}); err != nil {
		return err
	}
	if da.BesoinID != nil {
		return d.progress(ctx, tx, *da.BesoinID)
	}
	return nil
}

func sameID(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
