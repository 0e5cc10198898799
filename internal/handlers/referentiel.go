package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/services"
)

// ReferentielHandler serves the CRUD routes of one reference table.
type ReferentielHandler[T any] struct {
	base
	svc *services.Referentiel[T]
}

func NewReferentielHandler[T any](svc *services.Referentiel[T], log *zap.Logger) *ReferentielHandler[T] {
	return &ReferentielHandler[T]{base: newBase(log), svc: svc}
}

func (h *ReferentielHandler[T]) List(w http.ResponseWriter, r *http.Request) {
	p, pg, limit := page(r)
	items, total, err := h.svc.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, items, total, pg, limit)
}

func (h *ReferentielHandler[T]) Create(w http.ResponseWriter, r *http.Request) {
	row := new(T)
	if !decode(w, r, row) {
		return
	}
	if err := h.svc.Create(r.Context(), row); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, row)
}

func (h *ReferentielHandler[T]) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	row, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *ReferentielHandler[T]) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	row := new(T)
	if !decode(w, r, row) {
		return
	}
	out, err := h.svc.Update(r.Context(), id, row)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *ReferentielHandler[T]) Delete(w http.ResponseWriter, r *http.Request) {
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

// StockHandler serves stock entries, movements and alerts of articles.
type StockHandler struct {
	base
	svc *services.StockService
}

func NewStockHandler(svc *services.StockService, log *zap.Logger) *StockHandler {
	return &StockHandler{base: newBase(log), svc: svc}
}

func (h *StockHandler) Entree(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.StockEntreeInput
	if !decode(w, r, &in) {
		return
	}
	mv, err := h.svc.Entree(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *StockHandler) Mouvements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, pg, limit := page(r)
	items, total, err := h.svc.Mouvements(r.Context(), id, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, items, total, pg, limit)
}

func (h *StockHandler) Alertes(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Alertes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, items, int64(len(items)), 1, len(items))
}
