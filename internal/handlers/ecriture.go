package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/paymentform"
	"github.com/diewo77/go-achats/internal/services"
)

// EcritureHandler serves /api/ecritures and the dynamic payment form.
type EcritureHandler struct {
	base
	svc  *services.EcritureService
	refs *services.Referentiels
}

func NewEcritureHandler(svc *services.EcritureService, refs *services.Referentiels, log *zap.Logger) *EcritureHandler {
	return &EcritureHandler{base: newBase(log), svc: svc, refs: refs}
}

// List supports ?status=, ?journal=, ?projet_id=, ?tiers_id=, ?demande_achat_id=,
// ?from=, ?to= (YYYY-MM-DD) and ?q=.
func (h *EcritureHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.EcritureFilter{
		Status:         q.Get("status"),
		Journal:        q.Get("journal"),
		ProjetID:       queryUint(r, "projet_id"),
		TiersID:        queryUint(r, "tiers_id"),
		DemandeAchatID: queryUint(r, "demande_achat_id"),
		From:           queryDate(r, "from"),
		To:             queryDateEnd(r, "to"),
		Q:              strings.TrimSpace(q.Get("q")),
	}
	p, pg, limit := page(r)
	items, total, err := h.svc.List(r.Context(), f, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list(w, items, total, pg, limit)
}

func (h *EcritureHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.EcritureInput
	if !decode(w, r, &in) {
		return
	}
	e, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *EcritureHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *EcritureHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.EcritureInput
	if !decode(w, r, &in) {
		return
	}
	e, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *EcritureHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.svc.Validate(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *EcritureHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body motifBody
	if !decodeOptional(w, r, &body) {
		return
	}
	e, err := h.svc.Cancel(r.Context(), id, body.Motif)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

// Pay settles the écriture, its DA and, for cash, the caisse.
func (h *EcritureHandler) Pay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in services.PayInput
	if !decodeOptional(w, r, &in) {
		return
	}
	e, err := h.svc.Pay(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

// PaymentForm answers the fields required by ?category_id= and ?method_id=
// together with the JSON Schema the details are validated against.
func (h *EcritureHandler) PaymentForm(w http.ResponseWriter, r *http.Request) {
	var (
		cat    *models.PaymentCategory
		method *models.PaymentMethod
		err    error
	)
	if id := queryUint(r, "category_id"); id != 0 {
		if cat, err = h.refs.PaymentCategories.Get(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if id := queryUint(r, "method_id"); id != 0 {
		if method, err = h.refs.PaymentMethods.Get(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	fields := paymentform.Fields(cat, method)
	schema, err := paymentform.Schema(fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if fields == nil {
		fields = []models.FieldDef{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"fields": fields,
		"schema": json.RawMessage(schema),
		"cash":   method != nil && method.IsCash,
	})
}
