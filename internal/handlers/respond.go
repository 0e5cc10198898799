// Package handlers exposes the services as a JSON API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/workflow"
)

// base carries what every handler needs to answer errors.
type base struct {
	log *zap.Logger
}

func newBase(log *zap.Logger) base {
	if log == nil {
		log = zap.NewNop()
	}
	return base{log: log}
}

// fail maps a service error to a status code and a translated error body.
func (b base) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *services.ValidationError
		te  *workflow.TransitionError
		se  *services.SoldeError
		ste *services.StockError
		qe  *services.QuantiteError
	)
	switch {
	case errors.As(err, &ve):
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "validation_failed", map[string]string(ve.Violations))
	case errors.Is(err, services.ErrNotFound):
		httpx.LocalizedError(w, r, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, services.ErrForbidden):
		httpx.LocalizedError(w, r, http.StatusForbidden, "forbidden", nil)
	case errors.As(err, &te):
		httpx.LocalizedError(w, r, http.StatusConflict, "invalid_transition", map[string]any{
			"entity": te.Entity, "from": te.From, "to": te.To, "action": te.Action,
		})
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.LocalizedError(w, r, http.StatusConflict, "invalid_transition", nil)
	case errors.As(err, &se):
		httpx.LocalizedError(w, r, http.StatusConflict, "solde_insuffisant", map[string]any{
			"caisse_id": se.CaisseID, "disponible": se.Disponible, "demande": se.Demande,
		})
	case errors.As(err, &ste):
		httpx.LocalizedError(w, r, http.StatusConflict, "stock_insuffisant", map[string]any{
			"article_id": ste.ArticleID, "designation": ste.Designation,
			"disponible": ste.Disponible, "demande": ste.Demande,
		})
	case errors.As(err, &qe):
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "quantite_excedentaire", map[string]any{
			"besoin_ligne_id": qe.BesoinLigneID, "restant": qe.Restant, "demande": qe.Demande,
		})
	case errors.Is(err, services.ErrMotifRequis):
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "motif_requis", map[string]string{"motif": "required"})
	case errors.Is(err, services.ErrCaisseRequise):
		httpx.LocalizedError(w, r, http.StatusUnprocessableEntity, "caisse_requise", map[string]string{"caisse_id": "required"})
	case errors.Is(err, services.ErrCaisseInactive):
		httpx.LocalizedError(w, r, http.StatusConflict, "caisse_inactive", nil)
	case errors.Is(err, services.ErrBesoinNonValide):
		httpx.LocalizedError(w, r, http.StatusConflict, "besoin_non_valide", nil)
	case errors.Is(err, services.ErrDANonValidee):
		httpx.LocalizedError(w, r, http.StatusConflict, "da_non_validee", nil)
	case errors.Is(err, services.ErrInUse):
		httpx.LocalizedError(w, r, http.StatusConflict, "in_use", nil)
	case errors.Is(err, services.ErrConflict):
		httpx.LocalizedError(w, r, http.StatusConflict, "conflict", nil)
	case errors.Is(err, services.ErrStorage):
		b.log.Error("storage failure", zap.String("path", r.URL.Path), zap.Error(err))
		httpx.LocalizedError(w, r, http.StatusBadGateway, "storage_error", nil)
	default:
		b.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		httpx.LocalizedError(w, r, http.StatusInternalServerError, "internal_error", nil)
	}
}

// decode reads a JSON body and answers 400 when it is malformed.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.LocalizedError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.LocalizedError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return false
	}
	return true
}

// pathID reads {id} and answers 404 when it is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.LocalizedError(w, r, http.StatusNotFound, "not_found", nil)
	}
	return id, ok
}

func page(r *http.Request) (services.Page, int, int) {
	p, limit, offset := httpx.Pagination(r)
	return services.Page{Offset: offset, Limit: limit}, p, limit
}

func list[T any](w http.ResponseWriter, items []T, total int64, page, limit int) {
	if items == nil {
		items = []T{}
	}
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[T]{Items: items, Total: total, Page: page, Limit: limit})
}

func queryUint(r *http.Request, name string) uint {
	v, err := strconv.ParseUint(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

func queryUintPtr(r *http.Request, name string) *uint {
	if v := queryUint(r, name); v != 0 {
		return &v
	}
	return nil
}

// queryDate parses ?name=YYYY-MM-DD; invalid values are ignored.
func queryDate(r *http.Request, name string) *time.Time {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}

// queryDateEnd is queryDate moved to the last instant of that day.
func queryDateEnd(r *http.Request, name string) *time.Time {
	t := queryDate(r, name)
	if t == nil {
		return nil
	}
	end := t.Add(24*time.Hour - time.Nanosecond)
	return &end
}

// motifBody is the optional body of workflow actions.
type motifBody struct {
	Motif string `json:"motif"`
}
