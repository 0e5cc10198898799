package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/services"
)

func TestBLValidateDeliverSatisfies(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)

	bl, err := f.svc.BonsLivraison.Create(f.ctx, services.BLInput{
		BesoinID: b.ID,
		Articles: []services.BLArticleInput{
			{BesoinLigneID: b.Lignes[0].ID, Quantite: dec("4")},
			{BesoinLigneID: b.Lignes[1].ID, Quantite: dec("3")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "BL-2026-0001", bl.Numero)
	assert.Equal(t, f.stylos.ID, bl.Articles[0].ArticleID, "article taken from the besoin line")
	assert.Equal(t, models.BesoinEnTraitement, f.besoinStatus(t, b.ID))
	requireDec(t, "10", f.stock(t, f.stylos.ID), "a draft BL does not touch stock")

	bl, err = f.svc.BonsLivraison.Validate(f.ctx, bl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BLValide, bl.Status)
	requireDec(t, "6", f.stock(t, f.stylos.ID))
	requireDec(t, "2", f.stock(t, f.ramettes.ID))

	var mvs []models.MouvementStock
	require.NoError(t, f.db.Where("bon_livraison_id = ?", bl.ID).Order("article_id").Find(&mvs).Error)
	require.Len(t, mvs, 2)
	assert.Equal(t, models.MouvementStockSortie, mvs[0].Type)
	requireDec(t, "-4", mvs[0].Quantite)
	requireDec(t, "10", mvs[0].StockAvant)
	requireDec(t, "6", mvs[0].StockApres)

	_, err = f.svc.BonsLivraison.Deliver(f.ctx, bl.ID, services.DeliverInput{})
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Violations["receptionnaire"])

	day := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	bl, err = f.svc.BonsLivraison.Deliver(f.ctx, bl.ID, services.DeliverInput{Receptionnaire: "A. Diallo", DateLivraison: &day})
	require.NoError(t, err)
	assert.Equal(t, models.BLLivre, bl.Status)
	assert.Equal(t, "A. Diallo", bl.Receptionnaire)

	assert.Equal(t, models.BesoinSatisfait, f.besoinStatus(t, b.ID))
	cov, err := f.svc.Besoins.Couverture(f.ctx, b.ID)
	require.NoError(t, err)
	for _, c := range cov {
		assert.True(t, c.Couvert())
		assert.True(t, c.Restant.IsZero())
	}

	_, err = f.svc.BonsLivraison.Cancel(f.ctx, bl.ID, "erreur")
	assert.ErrorIs(t, err, services.ErrInvalidTransition, "livre is terminal")
}

func TestBLStockInsuffisantWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)
	require.NoError(t, f.db.Model(&models.Article{}).Where("id = ?", f.ramettes.ID).Update("quantite_stock", dec("1")).Error)

	bl, err := f.svc.BonsLivraison.Create(f.ctx, services.BLInput{
		BesoinID: b.ID,
		Articles: []services.BLArticleInput{
			{BesoinLigneID: b.Lignes[0].ID, Quantite: dec("2")},
			{BesoinLigneID: b.Lignes[1].ID, Quantite: dec("3")},
		},
	})
	require.NoError(t, err)

	_, err = f.svc.BonsLivraison.Validate(f.ctx, bl.ID)
	var serr *services.StockError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, services.ErrStockInsuffisant)
	assert.Equal(t, f.ramettes.ID, serr.ArticleID)
	requireDec(t, "1", serr.Disponible)

	requireDec(t, "10", f.stock(t, f.stylos.ID), "no partial decrement")
	var n int64
	require.NoError(t, f.db.Model(&models.MouvementStock{}).Count(&n).Error)
	assert.Zero(t, n)
	var reloaded models.BonLivraison
	require.NoError(t, f.db.First(&reloaded, bl.ID).Error)
	assert.Equal(t, models.BLBrouillon, reloaded.Status)
}

func TestBLCancelRestoresStock(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)
	bl, err := f.svc.BonsLivraison.Create(f.ctx, services.BLInput{
		BesoinID: b.ID,
		Articles: []services.BLArticleInput{{BesoinLigneID: b.Lignes[0].ID, Quantite: dec("2.5")}},
	})
	require.NoError(t, err)
	_, err = f.svc.BonsLivraison.Validate(f.ctx, bl.ID)
	require.NoError(t, err)
	requireDec(t, "7.5", f.stock(t, f.stylos.ID))

	_, err = f.svc.BonsLivraison.Cancel(f.ctx, bl.ID, "")
	assert.ErrorIs(t, err, services.ErrMotifRequis)

	bl, err = f.svc.BonsLivraison.Cancel(f.ctx, bl.ID, "Mauvais article")
	require.NoError(t, err)
	assert.Equal(t, models.BLAnnule, bl.Status)
	requireDec(t, "10", f.stock(t, f.stylos.ID))

	var restore models.MouvementStock
	require.NoError(t, f.db.Where("type = ?", models.MouvementStockRestoration).First(&restore).Error)
	requireDec(t, "2.5", restore.Quantite)

	cov, err := f.svc.Besoins.Couverture(f.ctx, b.ID)
	require.NoError(t, err)
	requireDec(t, "4", cov[0].Restant, "cancelled BL frees the line")
}

func TestBLQuantityLimitedByBesoinLine(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)
	_, err := f.svc.BonsLivraison.Create(f.ctx, services.BLInput{
		BesoinID: b.ID,
		Articles: []services.BLArticleInput{
			{BesoinLigneID: b.Lignes[0].ID, Quantite: dec("3")},
			{BesoinLigneID: b.Lignes[0].ID, Quantite: dec("2")},
		},
	})
	assert.ErrorIs(t, err, services.ErrQuantiteExcedentaire, "lines are summed per besoin line")

	_, err = f.svc.BonsLivraison.Create(f.ctx, services.BLInput{
		BesoinID: b.ID,
		Articles: []services.BLArticleInput{{BesoinLigneID: 9999, Quantite: dec("1")}},
	})
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "not_found", verr.Violations["articles[0].besoin_ligne_id"])
}
