package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/services"
)

// BesoinHandler serves /api/besoins.
type BesoinHandler struct {
	base
	svc *services.BesoinService
}

func NewBesoinHandler(svc *services.BesoinService, log *zap.Logger) *BesoinHandler {
	return &BesoinHandler{base: newBase(log), svc: svc}
}

// List supports ?status=, ?departement_id=, ?projet_id=, ?demandeur_id= and ?q=.
func (h *BesoinHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.BesoinFilter{
		Status:        q.Get("status"),
		DepartementID: queryUint(r, "departement_id"),
		ProjetID:      queryUint(r, "projet_id"),
		DemandeurID:   queryUint(r, "demandeur_id"),
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

func (h *BesoinHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.BesoinInput
	if !decode(w, r, &in) {
		return
	}
	b, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *BesoinHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *BesoinHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.BesoinInput
	if !decode(w, r, &in) {
		return
	}
	b, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *BesoinHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// Couverture returns the served quantities of every line.
func (h *BesoinHandler) Couverture(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cov, err := h.svc.Couverture(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"besoin_id": id, "lignes": cov})
}

// Transition returns the handler of one workflow action. The body may carry a motif.
func (h *BesoinHandler) Transition(action gate.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var body motifBody
		if !decodeOptional(w, r, &body) {
			return
		}
		b, err := h.svc.Transition(r.Context(), id, action, body.Motif)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, b)
	}
}
