package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/i18n"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/workflow"
	"github.com/diewo77/go-achats/validation"
)

func TestFailMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Violations: validation.Violations{"titre": "required"}}, http.StatusUnprocessableEntity, "validation_failed"},
		{"not found", fmt.Errorf("besoin 4: %w", services.ErrNotFound), http.StatusNotFound, "not_found"},
		{"forbidden", fmt.Errorf("%w: besoin:validate", services.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"transition", &workflow.TransitionError{Entity: "besoin", From: "valide", Action: gate.ActionSubmit}, http.StatusConflict, "invalid_transition"},
		{"solde", &services.SoldeError{CaisseID: 1, Disponible: decimal.NewFromInt(5), Demande: decimal.NewFromInt(9)}, http.StatusConflict, "solde_insuffisant"},
		{"stock", &services.StockError{ArticleID: 2, Designation: "Stylos"}, http.StatusConflict, "stock_insuffisant"},
		{"motif", services.ErrMotifRequis, http.StatusUnprocessableEntity, "motif_requis"},
		{"caisse requise", services.ErrCaisseRequise, http.StatusUnprocessableEntity, "caisse_requise"},
		{"caisse inactive", services.ErrCaisseInactive, http.StatusConflict, "caisse_inactive"},
		{"in use", services.ErrInUse, http.StatusConflict, "in_use"},
		{"storage", fmt.Errorf("put: %w", services.ErrStorage), http.StatusBadGateway, "storage_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	b := newBase(zap.NewNop())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			req = req.WithContext(i18n.WithLang(req.Context(), "fr"))
			rec := httptest.NewRecorder()
			b.fail(rec, req, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			var body struct {
				Error   string `json:"error"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestTransitionErrorDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/besoins/1/soumettre", nil)
	rec := httptest.NewRecorder()
	newBase(nil).fail(rec, req, &workflow.TransitionError{Entity: "besoin", From: "valide", Action: gate.ActionSubmit})

	var body struct {
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "besoin", body.Details["entity"])
	assert.Equal(t, "valide", body.Details["from"])
	assert.Equal(t, string(gate.ActionSubmit), body.Details["action"])
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?projet_id=7&bad=x&from=2026-03-01&to=2026-03-31", nil)
	assert.Equal(t, uint(7), queryUint(req, "projet_id"))
	assert.Equal(t, uint(0), queryUint(req, "bad"))
	assert.Nil(t, queryUintPtr(req, "missing"))

	from := queryDate(req, "from")
	require.NotNil(t, from)
	assert.Equal(t, 1, from.Day())
	to := queryDateEnd(req, "to")
	require.NotNil(t, to)
	assert.Equal(t, 31, to.Day())
	assert.Equal(t, 23, to.Hour())
}
