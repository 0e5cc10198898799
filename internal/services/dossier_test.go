package services_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/services"
)

func TestDossierComplet(t *testing.T) {
	f := newFixture(t, nil)
	refs := seedPaymentRefs(t, f)
	b, da := validatedDA(t, f)
	c := newCaisse(t, f, "CP-01", "500")

	e, err := f.svc.Ecritures.Create(f.ctx, services.EcritureInput{
		Libelle: "Règlement", DemandeAchatID: &da.ID,
		PaymentCategoryID: &refs.fournitures.ID, PaymentMethodID: &refs.especes.ID,
		Details: map[string]any{"numero_facture": "F-1", "recu_par": "X"},
	})
	require.NoError(t, err)
	_, err = f.svc.Ecritures.Validate(f.ctx, e.ID)
	require.NoError(t, err)
	_, err = f.svc.Ecritures.Pay(f.ctx, e.ID, services.PayInput{CaisseID: &c.ID})
	require.NoError(t, err)

	_, err = f.svc.Attachments.Upload(f.ctx, services.UploadInput{
		Entity: "ecriture", EntityID: e.ID, FileName: "facture.pdf",
		ContentType: "application/pdf", Size: 4, Body: bytes.NewReader([]byte("%PDF")),
	})
	require.NoError(t, err)

	d, err := f.svc.Dossiers.Get(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BesoinSatisfait, d.Besoin.Status)
	assert.Len(t, d.Besoin.Lignes, 2)
	assert.Len(t, d.Couverture, 2)
	assert.Len(t, d.DemandesAchat, 1)
	assert.Empty(t, d.BonsLivraison)
	assert.Len(t, d.Ecritures, 1)
	require.Len(t, d.MouvementsCaisse, 1)
	assert.Len(t, d.Attachments, 1)
	requireDec(t, "65", d.MontantEngage)
	requireDec(t, "65", d.MontantPaye)

	var steps []string
	for _, s := range d.Timeline {
		steps = append(steps, s.Entity+":"+s.Action)
	}
	assert.Equal(t, []string{
		"besoin:create", "besoin:submit", "besoin:validate",
		"demande_achat:create", "besoin:process",
		"demande_achat:submit", "demande_achat:validate",
		"ecriture:create", "ecriture:validate",
		"caisse:mouvement", "demande_achat:pay", "besoin:satisfy", "ecriture:pay",
	}, steps)

	_, err = f.svc.Dossiers.Get(f.ctx, 9999)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)
	_, err := f.svc.Besoins.Create(f.ctx, services.BesoinInput{
		Titre:  "Brouillon",
		Lignes: []services.BesoinLigneInput{{Designation: "X", Quantite: dec("1")}},
	})
	require.NoError(t, err)
	l0 := b.Lignes[0].ID
	_, err = f.svc.DemandesAchat.Create(f.ctx, services.DAInput{
		Objet: "Stylos", BesoinID: &b.ID,
		Articles: []services.DAArticleInput{{BesoinLigneID: &l0, Quantite: dec("2"), PrixUnitaire: dec("7.5")}},
	})
	require.NoError(t, err)
	newCaisse(t, f, "CP-01", "80")
	require.NoError(t, f.db.Model(&models.Article{}).Where("id = ?", f.stylos.ID).Update("quantite_stock", dec("1")).Error)

	d, err := f.svc.Dashboard.Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"brouillon": 1, "en_traitement": 1}, d.Besoins)
	assert.Equal(t, map[string]int64{"brouillon": 1}, d.DemandesAchat)
	assert.Empty(t, d.BonsLivraison)
	requireDec(t, "15", d.MontantsDA["brouillon"])
	require.Len(t, d.Caisses, 1)
	requireDec(t, "80", d.Caisses[0].Solde)
	assert.EqualValues(t, 1, d.AlertesStock)
	assert.NotEmpty(t, d.Evenements)
	assert.True(t, d.TotalPaye.IsZero())
}

func TestAttachmentRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	b := f.validBesoin(t)

	_, err := f.svc.Attachments.Upload(f.ctx, services.UploadInput{
		Entity: "facture", EntityID: 1, FileName: "x.txt", Body: bytes.NewReader(nil),
	})
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)

	a, err := f.svc.Attachments.Upload(f.ctx, services.UploadInput{
		Entity: "besoin", EntityID: b.ID, FileName: `C:\scans\Devis.PDF`,
		ContentType: "application/pdf", Size: 5, Body: bytes.NewReader([]byte("devis")),
	})
	require.NoError(t, err)
	assert.Equal(t, "Devis.PDF", a.FileName)
	assert.Regexp(t, `^besoin/\d+/[0-9a-f-]{36}\.pdf$`, a.Key)

	list, err := f.svc.Attachments.List(f.ctx, "besoin", b.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, rc, err := f.svc.Attachments.Open(f.ctx, a.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "devis", string(body))
	assert.Equal(t, a.Key, got.Key)

	require.NoError(t, f.svc.Attachments.Delete(f.ctx, a.ID))
	_, _, err = f.svc.Attachments.Open(f.ctx, a.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}
