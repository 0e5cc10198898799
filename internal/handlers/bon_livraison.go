package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/services"
)

// BonLivraisonHandler serves /api/bons-livraison.
type BonLivraisonHandler struct {
	base
	svc *services.BonLivraisonService
}

func NewBonLivraisonHandler(svc *services.BonLivraisonService, log *zap.Logger) *BonLivraisonHandler {
	return &BonLivraisonHandler{base: newBase(log), svc: svc}
}

func (h *BonLivraisonHandler) List(w http.ResponseWriter, r *http.Request) {
	f := services.BLFilter{
		Status:   r.URL.Query().Get("status"),
		BesoinID: queryUint(r, "besoin_id"),
		Q:        strings.TrimSpace(r.URL.Query().Get("q")),
	}
	p, pg, limit := page(r)
	items, total, err := h.svc.List(r.Context(), f, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, items, total, pg, limit)
}

func (h *BonLivraisonHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.BLInput
	if !decode(w, r, &in) {
		return
	}
	bl, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bl)
}

func (h *BonLivraisonHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	bl, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bl)
}

// Validate takes the quantities out of stock.
func (h *BonLivraisonHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	bl, err := h.svc.Validate(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bl)
}

func (h *BonLivraisonHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.DeliverInput
	if !decode(w, r, &in) {
		return
	}
	bl, err := h.svc.Deliver(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bl)
}

// Cancel restores stock when the BL was validated.
func (h *BonLivraisonHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body motifBody
	if !decodeOptional(w, r, &body) {
		return
	}
	bl, err := h.svc.Cancel(r.Context(), id, body.Motif)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bl)
}
