package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/workflow"
)

// TimelineEntry is one step of a dossier, taken from the event journal.
type TimelineEntry struct {
	Date     time.Time `json:"date"`
	Entity   string    `json:"entity"`
	EntityID uint      `json:"entity_id"`
	Numero   string    `json:"numero,omitempty"`
	Action   string    `json:"action"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	UserID   uint      `json:"user_id"`
	Note     string    `json:"note,omitempty"`
}

// DossierComplet gathers everything raised from one besoin.
type DossierComplet struct {
	Besoin           models.Besoin              `json:"besoin"`
	Couverture       []LigneCouverture          `json:"couverture"`
	DemandesAchat    []models.DemandeAchat      `json:"demandes_achat"`
	BonsLivraison    []models.BonLivraison      `json:"bons_livraison"`
	Ecritures        []models.EcritureComptable `json:"ecritures"`
	MouvementsCaisse []models.CaisseMouvement   `json:"mouvements_caisse"`
	Attachments      []models.Attachment        `json:"attachments"`
	MontantEngage    decimal.Decimal            `json:"montant_engage"`
	MontantPaye      decimal.Decimal            `json:"montant_paye"`
	Timeline         []TimelineEntry            `json:"timeline"`
}

// DossierService assembles DossierComplet views.
type DossierService struct {
	Deps
}

// NewDossierService creates the service.
func NewDossierService(d Deps) *DossierService { return &DossierService{Deps: d} }

// Get builds the dossier of besoin id.
func (s *DossierService) Get(ctx context.Context, besoinID uint) (*DossierComplet, error) {
	db := s.DB.WithContext(ctx)
	d := &DossierComplet{MontantEngage: decimal.Zero, MontantPaye: decimal.Zero}
	err := db.Preload("Lignes", func(tx *gorm.DB) *gorm.DB { return tx.Order("position, id") }).
		Preload("Departement").Preload("Projet").
		First(&d.Besoin, besoinID).Error
	if err != nil {
		return nil, dbErr(err)
	}
	if err := s.authorize(ctx, gate.ActionView, policy.ResourceDossier, &d.Besoin); err != nil {
		return nil, err
	}

	if d.Couverture, err = coverage(db, besoinID); err != nil {
		return nil, err
	}
	if err := db.Preload("Articles").Where("besoin_id = ?", besoinID).Order("id").Find(&d.DemandesAchat).Error; err != nil {
		return nil, err
	}
	if err := db.Preload("Articles").Where("besoin_id = ?", besoinID).Order("id").Find(&d.BonsLivraison).Error; err != nil {
		return nil, err
	}

	daIDs := make([]uint, 0, len(d.DemandesAchat))
	for _, da := range d.DemandesAchat {
		daIDs = append(daIDs, da.ID)
		if da.Status != models.DAAnnulee && da.Status != models.DARejetee {
			d.MontantEngage = d.MontantEngage.Add(da.MontantTotal)
		}
	}
	d.Ecritures = []models.EcritureComptable{}
	if len(daIDs) > 0 {
		if err := db.Where("demande_achat_id IN ?", daIDs).Order("id").Find(&d.Ecritures).Error; err != nil {
			return nil, err
		}
	}
	ecIDs := make([]uint, 0, len(d.Ecritures))
	for _, e := range d.Ecritures {
		ecIDs = append(ecIDs, e.ID)
		if e.Status == models.EcriturePayee {
			d.MontantPaye = d.MontantPaye.Add(e.Montant)
		}
	}

	mq := db.Where("besoin_id = ?", besoinID)
	if len(ecIDs) > 0 {
		mq = db.Where("besoin_id = ? OR ecriture_id IN ?", besoinID, ecIDs)
	}
	if err := mq.Order("id").Find(&d.MouvementsCaisse).Error; err != nil {
		return nil, err
	}

	blIDs := make([]uint, 0, len(d.BonsLivraison))
	for _, bl := range d.BonsLivraison {
		blIDs = append(blIDs, bl.ID)
	}
	aq := db.Where("entity = ? AND entity_id = ?", workflow.EntityBesoin, besoinID)
	for _, group := range []struct {
		entity string
		ids    []uint
	}{
		{workflow.EntityDemandeAchat, daIDs},
		{workflow.EntityBonLivraison, blIDs},
		{workflow.EntityEcriture, ecIDs},
	} {
		if len(group.ids) > 0 {
			aq = aq.Or("entity = ? AND entity_id IN ?", group.entity, group.ids)
		}
	}
	if err := aq.Order("id").Find(&d.Attachments).Error; err != nil {
		return nil, err
	}

	var events []models.WorkflowEvent
	if err := db.Where("besoin_id = ?", besoinID).Order("created_at, id").Find(&events).Error; err != nil {
		return nil, err
	}
	d.Timeline = make([]TimelineEntry, 0, len(events))
	for _, ev := range events {
		d.Timeline = append(d.Timeline, TimelineEntry{
			Date: ev.CreatedAt, Entity: ev.Entity, EntityID: ev.EntityID, Numero: ev.Numero,
			Action: ev.Action, From: ev.FromStatus, To: ev.ToStatus, UserID: ev.UserID, Note: ev.Note,
		})
	}
	return d, nil
}
