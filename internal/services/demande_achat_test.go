package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/services"
)

func TestDACreateFromBesoin(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)
	ligne := b.Lignes[1].ID

	da, err := f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Achat ramettes",
		BesoinID: &b.ID,
		Articles: []services.DAArticleInput{
			{BesoinLigneID: &ligne, Quantite: dec("3"), PrixUnitaire: dec("3.335")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "DA-2026-0001", da.Numero)
	assert.Equal(t, models.DABrouillon, da.Status)
	assert.Equal(t, f.dept.ID, da.DepartementID)
	require.NotNil(t, da.ProjetID)
	assert.Equal(t, f.projet.ID, *da.ProjetID, "projet inherited from the besoin")
	require.Len(t, da.Articles, 1)
	assert.Equal(t, "Ramettes A4", da.Articles[0].Designation)
	requireDec(t, "10.01", da.Articles[0].MontantTotal)
	requireDec(t, "10.01", da.MontantTotal)

	assert.Equal(t, models.BesoinEnTraitement, f.besoinStatus(t, b.ID), "first DA starts processing")

	cov, err := f.svc.Besoins.Couverture(f.ctx, b.ID)
	require.NoError(t, err)
	requireDec(t, "3", cov[1].Reserve)
	requireDec(t, "0", cov[1].Restant)
	requireDec(t, "0", cov[1].Achete)
}

func TestDARefusesExcessQuantity(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)
	ligne := b.Lignes[0].ID

	_, err := f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Trop de stylos",
		BesoinID: &b.ID,
		Articles: []services.DAArticleInput{{BesoinLigneID: &ligne, Quantite: dec("5"), PrixUnitaire: dec("1")}},
	})
	var qerr *services.QuantiteError
	require.ErrorAs(t, err, &qerr)
	assert.ErrorIs(t, err, services.ErrQuantiteExcedentaire)
	requireDec(t, "4", qerr.Restant)

	da, err := f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Stylos",
		BesoinID: &b.ID,
		Articles: []services.DAArticleInput{{BesoinLigneID: &ligne, Quantite: dec("3"), PrixUnitaire: dec("1")}},
	})
	require.NoError(t, err)

	// Editing the same DA may use the quantity it already reserves.
	da, err = f.svc.DemandesAchat.Update(f.ctx, da.ID, services.DAInput{
		Objet:    "Stylos",
		BesoinID: &b.ID,
		Articles: []services.DAArticleInput{{BesoinLigneID: &ligne, Quantite: dec("4"), PrixUnitaire: dec("1.5")}},
	})
	require.NoError(t, err)
	requireDec(t, "6", da.MontantTotal)

	_, err = f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Encore",
		BesoinID: &b.ID,
		Articles: []services.DAArticleInput{{BesoinLigneID: &ligne, Quantite: dec("1"), PrixUnitaire: dec("1")}},
	})
	assert.ErrorIs(t, err, services.ErrQuantiteExcedentaire)
}

func TestDARequiresServableBesoinOrProjet(t *testing.T) {
	f := newFixture(t, nil)
	draft, err := f.svc.Besoins.Create(f.ctx, services.BesoinInput{
		Titre:  "Brouillon",
		Lignes: []services.BesoinLigneInput{{Designation: "Table", Quantite: dec("1")}},
	})
	require.NoError(t, err)

	_, err = f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Table",
		BesoinID: &draft.ID,
		Articles: []services.DAArticleInput{{Designation: "Table", Quantite: dec("1"), PrixUnitaire: dec("50")}},
	})
	assert.ErrorIs(t, err, services.ErrBesoinNonValide)

	_, err = f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Sans rattachement",
		Articles: []services.DAArticleInput{{Designation: "Table", Quantite: dec("1"), PrixUnitaire: dec("50")}},
	})
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Violations["projet_id"])

	da, err := f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Groupe électrogène",
		ProjetID: &f.projet.ID,
		Articles: []services.DAArticleInput{
			{Designation: "Groupe 10kVA", Quantite: dec("1"), PrixUnitaire: dec("1250000")},
			{Designation: "Câbles", Quantite: dec("2.5"), PrixUnitaire: dec("0.10")},
		},
	})
	require.NoError(t, err)
	requireDec(t, "1250000.25", da.MontantTotal)
	assert.Equal(t, f.dept.ID, da.DepartementID)
}

func TestDARevisionLoop(t *testing.T) {
	f := newFixture(t, nil)
	da, err := f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Pneus",
		ProjetID: &f.projet.ID,
		Articles: []services.DAArticleInput{{Designation: "Pneu", Quantite: dec("4"), PrixUnitaire: dec("90")}},
	})
	require.NoError(t, err)

	step := func(action gate.Action, note string, want models.DAStatus) {
		t.Helper()
		got, err := f.svc.DemandesAchat.Transition(f.ctx, da.ID, action, note)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
		da = got
	}
	step(gate.ActionSubmit, "", models.DASoumise)
	_, err = f.svc.DemandesAchat.Transition(f.ctx, da.ID, gate.ActionReject, "")
	assert.ErrorIs(t, err, services.ErrMotifRequis)
	step(gate.ActionRevise, "Joindre un second devis", models.DAEnRevision)
	assert.Equal(t, "Joindre un second devis", da.CommentaireRevision)

	da, err = f.svc.DemandesAchat.Update(f.ctx, da.ID, services.DAInput{
		Objet:    "Pneus",
		ProjetID: &f.projet.ID,
		Articles: []services.DAArticleInput{{Designation: "Pneu", Quantite: dec("4"), PrixUnitaire: dec("85")}},
	})
	require.NoError(t, err)
	requireDec(t, "340", da.MontantTotal)

	step(gate.ActionSubmit, "", models.DASoumise)
	step(gate.ActionValidate, "", models.DAValideeFinance)
	require.NotNil(t, da.ValideeLe)

	_, err = f.svc.DemandesAchat.Transition(f.ctx, da.ID, gate.ActionPay, "")
	assert.ErrorIs(t, err, services.ErrInvalidTransition, "payment only through an écriture")
	_, err = f.svc.DemandesAchat.Update(f.ctx, da.ID, services.DAInput{
		Objet:    "Pneus",
		ProjetID: &f.projet.ID,
		Articles: []services.DAArticleInput{{Designation: "Pneu", Quantite: dec("1"), PrixUnitaire: dec("1")}},
	})
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestDACancelFreesQuantities(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)
	ligne := b.Lignes[0].ID
	da, err := f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet:    "Stylos",
		BesoinID: &b.ID,
		Articles: []services.DAArticleInput{{BesoinLigneID: &ligne, Quantite: dec("4"), PrixUnitaire: dec("2")}},
	})
	require.NoError(t, err)
	_, err = f.svc.DemandesAchat.Transition(f.ctx, da.ID, gate.ActionCancel, "")
	require.NoError(t, err)

	cov, err := f.svc.Besoins.Couverture(f.ctx, b.ID)
	require.NoError(t, err)
	requireDec(t, "4", cov[0].Restant)
	require.Error(t, f.svc.DemandesAchat.Delete(f.ctx, da.ID), "only drafts are deleted")
}
