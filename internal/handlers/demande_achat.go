package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/services"
)

// DemandeAchatHandler serves /api/demandes-achat.
type DemandeAchatHandler struct {
	base
	svc *services.DemandeAchatService
}

func NewDemandeAchatHandler(svc *services.DemandeAchatService, log *zap.Logger) *DemandeAchatHandler {
	return &DemandeAchatHandler{base: newBase(log), svc: svc}
}

func (h *DemandeAchatHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.DAFilter{
		Status:        q.Get("status"),
		BesoinID:      queryUint(r, "besoin_id"),
		ProjetID:      queryUint(r, "projet_id"),
		DepartementID: queryUint(r, "departement_id"),
		Q:             strings.TrimSpace(q.Get("q")),
	}
	p, pg, limit := page(r)
	items, total, err := h.svc.List(r.Context(), f, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, items, total, pg, limit)
}

func (h *DemandeAchatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.DAInput
	if !decode(w, r, &in) {
		return
	}
	da, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, da)
}

func (h *DemandeAchatHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	da, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, da)
}

func (h *DemandeAchatHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.DAInput
	if !decode(w, r, &in) {
		return
	}
	da, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, da)
}

func (h *DemandeAchatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transition returns the handler of one workflow action. Revision requests
// and rejections need a motif.
func (h *DemandeAchatHandler) Transition(action gate.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var body motifBody
		if !decodeOptional(w, r, &body) {
			return
		}
		da, err := h.svc.Transition(r.Context(), id, action, body.Motif)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, da)
	}
}
