package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/services"
)

// DossierHandler serves the DossierComplet of a besoin and the dashboard.
type DossierHandler struct {
	base
	dossiers  *services.DossierService
	dashboard *services.DashboardService
}

func NewDossierHandler(dossiers *services.DossierService, dashboard *services.DashboardService, log *zap.Logger) *DossierHandler {
	return &DossierHandler{base: newBase(log), dossiers: dossiers, dashboard: dashboard}
}

// Dossier answers GET /api/besoins/{id}/dossier.
func (h *DossierHandler) Dossier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.dossiers.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// Dashboard answers GET /api/dashboard, scoped to the caller's department
// unless they may see every department.
func (h *DossierHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.dashboard.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}
