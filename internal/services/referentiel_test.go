package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/services"
)

func TestReferentielCRUD(t *testing.T) {
	f := newFixture(t, nil)
	tiers := f.svc.Referentiels.Tiers

	err := tiers.Create(f.ctx, &models.Tiers{Nom: "", Type: "inconnu"})
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Violations["nom"])
	assert.Equal(t, "invalid_choice", verr.Violations["type"])

	for _, nom := range []string{"Quincaillerie du Port", "Garage Central", "Transports Sahel"} {
		require.NoError(t, tiers.Create(f.ctx, &models.Tiers{Nom: nom, Type: models.TiersFournisseur}))
	}
	list, total, err := tiers.List(f.ctx, "garage", services.Page{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)

	updated, err := tiers.Update(f.ctx, list[0].ID, &models.Tiers{Nom: "Garage Central SARL", Type: models.TiersPrestataire})
	require.NoError(t, err)
	assert.Equal(t, "Garage Central SARL", updated.Nom)
	assert.Equal(t, models.TiersPrestataire, updated.Type)
	assert.Empty(t, updated.Telephone)

	require.NoError(t, tiers.Delete(f.ctx, updated.ID))
	_, err = tiers.Get(f.ctx, updated.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = tiers.Update(f.ctx, 9999, &models.Tiers{Nom: "X", Type: models.TiersParticulier})
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestReferentielDeleteInUse(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Besoins.Create(f.ctx, services.BesoinInput{
		Titre:  "Stylos",
		Lignes: []services.BesoinLigneInput{{ArticleID: &f.stylos.ID, Quantite: dec("1")}},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Referentiels.Articles.Delete(f.ctx, f.stylos.ID), services.ErrInUse)
	assert.ErrorIs(t, f.svc.Referentiels.Departements.Delete(f.ctx, f.dept.ID), services.ErrInUse)
	require.NoError(t, f.svc.Referentiels.Articles.Delete(f.ctx, f.ramettes.ID))
}

func TestReferentielDuplicateCode(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.Referentiels.Departements.Create(f.ctx, &models.Departement{Code: "tech", Nom: "Doublon"})
	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestArticleStockFrozenOnUpdate(t *testing.T) {
	f := newFixture(t, nil)
	a, err := f.svc.Referentiels.Articles.Update(f.ctx, f.stylos.ID, &models.Article{
		Code: "STY", Designation: "Stylos bleus", QuantiteStock: dec("999"), SeuilAlerte: dec("3"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Stylos bleus", a.Designation)
	assert.Equal(t, "unite", a.Unite)
	requireDec(t, "10", a.QuantiteStock)

	mv, err := f.svc.Stock.Entree(f.ctx, f.stylos.ID, services.StockEntreeInput{Quantite: dec("5"), Motif: "Réception BC-12"})
	require.NoError(t, err)
	requireDec(t, "10", mv.StockAvant)
	requireDec(t, "15", mv.StockApres)
	requireDec(t, "15", f.stock(t, f.stylos.ID))

	list, total, err := f.svc.Stock.Mouvements(f.ctx, f.stylos.ID, services.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, models.MouvementStockEntree, list[0].Type)
}

func TestPaymentMethodFieldDefs(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.Referentiels.PaymentMethods.Create(f.ctx, &models.PaymentMethod{
		Code: "mobile_money", Libelle: "Mobile money",
		RequiredFields: []models.FieldDef{
			{Name: "operateur", Type: "select"},
			{Name: "operateur", Type: "text"},
			{Name: "montant", Type: "money"},
		},
	})
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Violations["required_fields[0].options"])
	assert.Equal(t, "duplicate", verr.Violations["required_fields[1].name"])
	assert.Equal(t, "invalid_choice", verr.Violations["required_fields[2].type"])

	m := models.PaymentMethod{
		Code: "mobile_money", Libelle: "Mobile money", Actif: true,
		RequiredFields: []models.FieldDef{{Name: "numero"}},
	}
	require.NoError(t, f.svc.Referentiels.PaymentMethods.Create(f.ctx, &m))
	got, err := f.svc.Referentiels.PaymentMethods.Get(f.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.RequiredFields, 1)
	assert.Equal(t, "text", got.RequiredFields[0].Type)
}

func TestStockEntreeChainsBalances(t *testing.T) {
	f := newFixture(t, nil)
	first, err := f.svc.Stock.Entree(f.ctx, f.ramettes.ID, services.StockEntreeInput{Quantite: dec("2"), Motif: "Réception BC-20"})
	require.NoError(t, err)
	second, err := f.svc.Stock.Entree(f.ctx, f.ramettes.ID, services.StockEntreeInput{Quantite: dec("3.5"), Motif: "Réception BC-21"})
	require.NoError(t, err)

	requireDec(t, "5", first.StockAvant)
	requireDec(t, "7", first.StockApres)
	requireDec(t, "7", second.StockAvant)
	requireDec(t, "10.5", second.StockApres)
	requireDec(t, "10.5", f.stock(t, f.ramettes.ID))

	list, _, err := f.svc.Stock.Mouvements(f.ctx, f.ramettes.ID, services.Page{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, mv := range list {
		assert.False(t, mv.StockAvant.Equal(mv.StockApres), "movement %d keeps its before balance", mv.ID)
	}
}
