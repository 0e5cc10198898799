package services

import (
	"context"
	"sort"
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

// BLArticleInput is one line served from stock.
type BLArticleInput struct {
	BesoinLigneID uint            `json:"besoin_ligne_id"`
	ArticleID     uint            `json:"article_id,omitempty"`
	Quantite      decimal.Decimal `json:"quantite"`
}

// BLInput creates a delivery note for a besoin.
type BLInput struct {
	BesoinID     uint             `json:"besoin_id"`
	Observations string           `json:"observations,omitempty"`
	Articles     []BLArticleInput `json:"articles"`
}

func (in *BLInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.RequiredID("besoin_id", in.BesoinID, v)
	validation.MaxLen("observations", in.Observations, 500, v)
	if len(in.Articles) == 0 {
		v.Add("articles", "required")
	}
	for i, a := range in.Articles {
		lv := validation.Violations{}
		validation.RequiredID("besoin_ligne_id", a.BesoinLigneID, lv)
		validation.PositiveDecimal("quantite", a.Quantite, lv)
		v.Merge(lineKey("articles", i), lv)
	}
	return v
}

// DeliverInput records the reception of a validated BL.
type DeliverInput struct {
	Receptionnaire string     `json:"receptionnaire"`
	DateLivraison  *time.Time `json:"date_livraison,omitempty"`
}

// BLFilter narrows a listing.
type BLFilter struct {
	Status   string
	BesoinID uint
	Q        string
}

// BonLivraisonService manages delivery notes and the stock they consume.
type BonLivraisonService struct {
	Deps
}

// NewBonLivraisonService creates the service.
func NewBonLivraisonService(d Deps) *BonLivraisonService { return &BonLivraisonService{Deps: d} }

// Create stores a draft BL. Lines must belong to the besoin, carry a stock
// article and stay within what remains of their besoin line.
func (s *BonLivraisonService) Create(ctx context.Context, in BLInput) (*models.BonLivraison, error) {
	if err := invalid(in.validate()); err != nil {
		return nil, err
	}
	var bl models.BonLivraison
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := loadServableBesoin(tx, in.BesoinID)
		if err != nil {
			return err
		}
		bl = models.BonLivraison{
			Status:        workflow.BonLivraison.Initial(),
			BesoinID:      b.ID,
			DepartementID: b.DepartementID,
			CreeParID:     actor(ctx),
			Observations:  strings.TrimSpace(in.Observations),
		}
		if err := s.authorize(ctx, gate.ActionCreate, policy.ResourceBonLivraison, &bl); err != nil {
			return err
		}

		var lignes []models.BesoinLigne
		if err := tx.Where("besoin_id = ?", b.ID).Find(&lignes).Error; err != nil {
			return err
		}
		byID := make(map[uint]models.BesoinLigne, len(lignes))
		for _, l := range lignes {
			byID[l.ID] = l
		}
		asked := make(map[uint]decimal.Decimal)
		for i, a := range in.Articles {
			l, ok := byID[a.BesoinLigneID]
			if !ok {
				return invalid(validation.Violations{lineKey("articles", i) + "besoin_ligne_id": "not_found"})
			}
			articleID := a.ArticleID
			if articleID == 0 && l.ArticleID != nil {
				articleID = *l.ArticleID
			}
			if articleID == 0 {
				return invalid(validation.Violations{lineKey("articles", i) + "article_id": "required"})
			}
			asked[l.ID] = asked[l.ID].Add(a.Quantite)
			bl.Articles = append(bl.Articles, models.BLArticle{
				BesoinLigneID: l.ID,
				ArticleID:     articleID,
				Quantite:      a.Quantite,
			})
		}
		cov, err := coverage(tx, b.ID)
		if err != nil {
			return err
		}
		if err := checkRemaining(cov, asked, nil); err != nil {
			return err
		}

		numero, err := models.NextNumber(tx, &models.BonLivraison{}, "numero", models.PrefixBL, s.now().Year())
		if err != nil {
			return err
		}
		bl.Numero = numero
		if err := tx.Create(&bl).Error; err != nil {
			return dbErr(err)
		}
		if err := s.record(ctx, tx, event{
			entity: workflow.EntityBonLivraison, entityID: bl.ID, numero: bl.Numero, besoinID: &bl.BesoinID,
			action: gate.ActionCreate, to: string(bl.Status),
		}); err != nil {
			return err
		}
		return s.progress(ctx, tx, b.ID)
	})
	if err != nil {
		return nil, err
	}
	return &bl, nil
}

// Get loads a BL with its articles.
func (s *BonLivraisonService) Get(ctx context.Context, id uint) (*models.BonLivraison, error) {
	var bl models.BonLivraison
	err := s.DB.WithContext(ctx).
		Preload("Articles", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Articles.Article").
		First(&bl, id).Error
	if err != nil {
		return nil, dbErr(err)
	}
	if err := s.authorize(ctx, gate.ActionView, policy.ResourceBonLivraison, &bl); err != nil {
		return nil, err
	}
	return &bl, nil
}

// List returns BLs visible to the caller, newest first.
func (s *BonLivraisonService) List(ctx context.Context, f BLFilter, p Page) ([]models.BonLivraison, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.BonLivraison{})
	q = s.scopeDepartement(ctx, q, policy.ResourceBonLivraison, "departement_id")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.BesoinID != 0 {
		q = q.Where("besoin_id = ?", f.BesoinID)
	}
	if f.Q != "" {
		q = q.Where("LOWER(numero) LIKE ?", "%"+strings.ToLower(f.Q)+"%")
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.BonLivraison
	if err := p.apply(q).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Validate takes the articles out of stock. Nothing is written when one
// article lacks stock.
func (s *BonLivraisonService) Validate(ctx context.Context, id uint) (*models.BonLivraison, error) {
	return s.transition(ctx, id, gate.ActionValidate, "", func(tx *gorm.DB, bl *models.BonLivraison) error {
		now := s.now()
		bl.ValideParID = actorPtr(ctx)
		bl.ValideLe = &now
		return s.moveStock(ctx, tx, bl, true)
	})
}

// Deliver records who received the goods and when.
func (s *BonLivraisonService) Deliver(ctx context.Context, id uint, in DeliverInput) (*models.BonLivraison, error) {
	v := validation.Violations{}
	validation.Required("receptionnaire", in.Receptionnaire, v)
	validation.MaxLen("receptionnaire", in.Receptionnaire, 255, v)
	if err := invalid(v); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, gate.ActionDeliver, "", func(tx *gorm.DB, bl *models.BonLivraison) error {
		date := s.now()
		if in.DateLivraison != nil {
			date = *in.DateLivraison
		}
		bl.Receptionnaire = strings.TrimSpace(in.Receptionnaire)
		bl.DateLivraison = &date
		return nil
	})
}

// Cancel cancels a BL. A validated BL gives its stock back.
func (s *BonLivraisonService) Cancel(ctx context.Context, id uint, motif string) (*models.BonLivraison, error) {
	return s.transition(ctx, id, gate.ActionCancel, motif, func(tx *gorm.DB, bl *models.BonLivraison) error {
		if bl.Status != models.BLValide {
			return nil
		}
		return s.moveStock(ctx, tx, bl, false)
	})
}

// transition runs apply between the status check and the save. apply sees
// the BL still in its previous status.
func (s *BonLivraisonService) transition(ctx context.Context, id uint, action gate.Action, note string, apply func(*gorm.DB, *models.BonLivraison) error) (*models.BonLivraison, error) {
	var bl models.BonLivraison
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).Preload("Articles").First(&bl, id).Error; err != nil {
			return dbErr(err)
		}
		if err := s.authorize(ctx, action, policy.ResourceBonLivraison, &bl); err != nil {
			return err
		}
		t, err := guardTransition(workflow.BonLivraison, bl.Status, action, note)
		if err != nil {
			return err
		}
		if err := apply(tx, &bl); err != nil {
			return err
		}
		from := bl.Status
		bl.Status = t.To
		if note != "" {
			bl.Observations = strings.TrimSpace(note)
		}
		if err := tx.Omit("Articles").Save(&bl).Error; err != nil {
			return err
		}
		if err := s.record(ctx, tx, event{
			entity: workflow.EntityBonLivraison, entityID: bl.ID, numero: bl.Numero, besoinID: &bl.BesoinID,
			action: action, from: string(from), to: string(bl.Status), note: note,
		}); err != nil {
			return err
		}
		if bl.Status == models.BLLivre {
			return s.progress(ctx, tx, bl.BesoinID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bl, nil
}

// moveStock takes out (sortie) or gives back the BL articles, one movement per line.
// Articles are locked in id order so concurrent BLs cannot deadlock.
func (s *BonLivraisonService) moveStock(ctx context.Context, tx *gorm.DB, bl *models.BonLivraison, sortie bool) error {
	need := make(map[uint]decimal.Decimal)
	ids := make([]uint, 0, len(bl.Articles))
	for _, a := range bl.Articles {
		if _, ok := need[a.ArticleID]; !ok {
			ids = append(ids, a.ArticleID)
		}
		need[a.ArticleID] = need[a.ArticleID].Add(a.Quantite)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var articles []models.Article
	if err := forUpdate(tx).Where("id IN ?", ids).Order("id").Find(&articles).Error; err != nil {
		return err
	}
	if len(articles) != len(ids) {
		return ErrNotFound
	}
	if sortie {
		for _, a := range articles {
			if a.QuantiteStock.LessThan(need[a.ID]) {
				return &StockError{ArticleID: a.ID, Designation: a.Designation, Disponible: a.QuantiteStock, Demande: need[a.ID]}
			}
		}
	}

	typ, motif := models.MouvementStockSortie, "validation "+bl.Numero
	if !sortie {
		typ, motif = models.MouvementStockRestoration, "annulation "+bl.Numero
	}
	for _, a := range articles {
		delta := need[a.ID]
		if sortie {
			delta = delta.Neg()
		}
		avant := a.QuantiteStock
		apres := avant.Add(delta)
		if err := tx.Model(&models.Article{}).Where("id = ?", a.ID).Update("quantite_stock", apres).Error; err != nil {
			return err
		}
		mv := models.MouvementStock{
			ArticleID:      a.ID,
			Type:           typ,
			Quantite:       delta,
			StockAvant:     avant,
			StockApres:     apres,
			BonLivraisonID: &bl.ID,
			UserID:         actor(ctx),
			Motif:          motif,
		}
		if err := tx.Create(&mv).Error; err != nil {
			return err
		}
		if sortie && (&models.Article{QuantiteStock: apres, SeuilAlerte: a.SeuilAlerte}).SousSeuil() {
			s.logger().Warn("stock below alert threshold",
				zap.Uint("article", a.ID),
				zap.String("code", a.Code),
				zap.String("stock", apres.String()))
		}
	}
	return nil
}
