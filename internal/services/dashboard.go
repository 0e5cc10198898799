package services

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
)

// Montant is an amount attached to a projet or a department.
type Montant struct {
	ID      uint            `json:"id"`
	Code    string          `json:"code"`
	Libelle string          `json:"libelle"`
	Montant decimal.Decimal `json:"montant"`
}

// CaisseSolde is the current balance of one caisse.
type CaisseSolde struct {
	ID      uint            `json:"id"`
	Code    string          `json:"code"`
	Libelle string          `json:"libelle"`
	Solde   decimal.Decimal `json:"solde"`
	Active  bool            `json:"active"`
}

// Dashboard is the read-only summary shown on the home page.
type Dashboard struct {
	DepartementID      uint                       `json:"departement_id,omitempty"`
	Besoins            map[string]int64           `json:"besoins"`
	DemandesAchat      map[string]int64           `json:"demandes_achat"`
	BonsLivraison      map[string]int64           `json:"bons_livraison"`
	MontantsDA         map[string]decimal.Decimal `json:"montants_da"`
	PayeParProjet      []Montant                  `json:"paye_par_projet"`
	PayeParDepartement []Montant                  `json:"paye_par_departement"`
	TotalPaye          decimal.Decimal            `json:"total_paye"`
	Caisses            []CaisseSolde              `json:"caisses"`
	AlertesStock       int64                      `json:"alertes_stock"`
	Evenements         []models.WorkflowEvent     `json:"evenements"`
}

// DashboardService computes the dashboard.
type DashboardService struct {
	Deps
	// Recent is the number of journal events returned.
	Recent int
}

// NewDashboardService creates the service.
func NewDashboardService(d Deps) *DashboardService { return &DashboardService{Deps: d, Recent: 20} }

type statusCount struct {
	Status string
	Count  int64
}

type statusMontant struct {
	Status  string
	Montant decimal.Decimal
}

type keyedMontant struct {
	RefID   *uint
	Montant decimal.Decimal
}

// Get computes the dashboard, restricted to the caller's department unless
// they may see every department.
func (s *DashboardService) Get(ctx context.Context) (*Dashboard, error) {
	if err := s.authorize(ctx, gate.ActionView, policy.ResourceDashboard, nil); err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	dept, unrestricted := s.authz().DepartementFilter(ctx, policy.ResourceDashboard)
	scope := func(q *gorm.DB, column string) *gorm.DB {
		return applyDepartement(q, column, dept, unrestricted)
	}

	out := &Dashboard{TotalPaye: decimal.Zero, MontantsDA: map[string]decimal.Decimal{}}
	if !unrestricted {
		out.DepartementID = dept
	}
	var err error
	if out.Besoins, err = countByStatus(scope(db.Model(&models.Besoin{}), "departement_id")); err != nil {
		return nil, err
	}
	if out.DemandesAchat, err = countByStatus(scope(db.Model(&models.DemandeAchat{}), "departement_id")); err != nil {
		return nil, err
	}
	if out.BonsLivraison, err = countByStatus(scope(db.Model(&models.BonLivraison{}), "departement_id")); err != nil {
		return nil, err
	}

	var daRows []statusMontant
	if err := scope(db.Model(&models.DemandeAchat{}), "departement_id").
		Select("status, montant_total AS montant").Scan(&daRows).Error; err != nil {
		return nil, err
	}
	for _, r := range daRows {
		out.MontantsDA[r.Status] = out.MontantsDA[r.Status].Add(r.Montant)
	}

	paid := scope(db.Model(&models.EcritureComptable{}).Where("status = ?", models.EcriturePayee), "departement_id")
	var parProjet, parDept []keyedMontant
	if err := paid.Session(&gorm.Session{}).Select("projet_id AS ref_id, montant").Scan(&parProjet).Error; err != nil {
		return nil, err
	}
	if err := paid.Session(&gorm.Session{}).Select("departement_id AS ref_id, montant").Scan(&parDept).Error; err != nil {
		return nil, err
	}
	for _, r := range parProjet {
		out.TotalPaye = out.TotalPaye.Add(r.Montant)
	}
	if out.PayeParProjet, err = s.sumBy(db, parProjet, &models.Projet{}); err != nil {
		return nil, err
	}
	if out.PayeParDepartement, err = s.sumBy(db, parDept, &models.Departement{}); err != nil {
		return nil, err
	}

	var caisses []models.Caisse
	if err := scope(db.Model(&models.Caisse{}), "departement_id").Order("code").Find(&caisses).Error; err != nil {
		return nil, err
	}
	out.Caisses = make([]CaisseSolde, 0, len(caisses))
	for _, c := range caisses {
		out.Caisses = append(out.Caisses, CaisseSolde{ID: c.ID, Code: c.Code, Libelle: c.Libelle, Solde: c.Solde, Active: c.Active})
	}

	if err := db.Model(&models.Article{}).
		Where("seuil_alerte > 0 AND quantite_stock <= seuil_alerte").
		Count(&out.AlertesStock).Error; err != nil {
		return nil, err
	}

	eq := db.Order("created_at DESC, id DESC").Limit(s.Recent)
	if !unrestricted {
		eq = eq.Where("besoin_id IN (?)", scope(db.Model(&models.Besoin{}).Select("id"), "departement_id"))
	}
	if err := eq.Find(&out.Evenements).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func countByStatus(q *gorm.DB) (map[string]int64, error) {
	var rows []statusCount
	if err := q.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// sumBy totals rows per key and labels them from the projet or departement table.
// Rows without a key are reported under id 0.
func (s *DashboardService) sumBy(db *gorm.DB, rows []keyedMontant, model any) ([]Montant, error) {
	sums := map[uint]decimal.Decimal{}
	ids := []uint{}
	for _, r := range rows {
		var k uint
		if r.RefID != nil {
			k = *r.RefID
		}
		if _, ok := sums[k]; !ok && k != 0 {
			ids = append(ids, k)
		}
		sums[k] = sums[k].Add(r.Montant)
	}
	labels := map[uint][2]string{}
	if len(ids) > 0 {
		var named []struct {
			ID   uint
			Code string
			Nom  string
		}
		if err := db.Model(model).Select("id, code, nom").Where("id IN ?", ids).Scan(&named).Error; err != nil {
			return nil, err
		}
		for _, n := range named {
			labels[n.ID] = [2]string{n.Code, n.Nom}
		}
	}
	out := make([]Montant, 0, len(sums))
	for id, total := range sums {
		l := labels[id]
		out = append(out, Montant{ID: id, Code: l[0], Libelle: l[1], Montant: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Montant.Equal(out[j].Montant) {
			return out[i].Montant.GreaterThan(out[j].Montant)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
