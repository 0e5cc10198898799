package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/services"
)

// CaisseHandler serves /api/caisses, their movements and ledger.
type CaisseHandler struct {
	base
	svc *services.CaisseService
}

func NewCaisseHandler(svc *services.CaisseService, log *zap.Logger) *CaisseHandler {
	return &CaisseHandler{base: newBase(log), svc: svc}
}

// List returns every caisse, or only active ones with ?active=1.
func (h *CaisseHandler) List(w http.ResponseWriter, r *http.Request) {
	active := r.URL.Query().Get("active")
	items, err := h.svc.List(r.Context(), active == "1" || active == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, items, int64(len(items)), 1, len(items))
}

func (h *CaisseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.CaisseInput
	if !decode(w, r, &in) {
		return
	}
	c, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *CaisseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// Update changes the description of a caisse; the balance only moves through movements.
func (h *CaisseHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.CaisseInput
	if !decode(w, r, &in) {
		return
	}
	c, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// Mouvement records a manual entree or sortie.
func (h *CaisseHandler) Mouvement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.MouvementInput
	if !decode(w, r, &in) {
		return
	}
	mv, err := h.svc.Mouvement(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

// Ledger supports ?from= and ?to= (YYYY-MM-DD, inclusive).
func (h *CaisseHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := h.svc.Ledger(r.Context(), id, services.LedgerFilter{
		From: queryDate(r, "from"),
		To:   queryDateEnd(r, "to"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, l)
}

// Verify replays the ledger; the report carries ok=false on drift.
func (h *CaisseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rep, err := h.svc.Verify(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		*services.VerifyReport
		OK bool `json:"ok"`
	}{rep, rep.OK()})
}
