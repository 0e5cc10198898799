package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/diewo77/go-achats/internal/workflow"
	"github.com/diewo77/go-achats/validation"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidTransition    = workflow.ErrInvalidTransition
	ErrSoldeInsuffisant     = errors.New("solde insuffisant")
	ErrStockInsuffisant     = errors.New("stock insuffisant")
	ErrQuantiteExcedentaire = errors.New("quantite excedentaire")
	ErrMotifRequis          = errors.New("motif requis")
	ErrCaisseInactive       = errors.New("caisse inactive")
	ErrCaisseRequise        = errors.New("caisse requise")
	ErrBesoinNonValide      = errors.New("besoin non valide")
	ErrDANonValidee         = errors.New("demande d'achat non validee")
	ErrConflict             = errors.New("conflict")
	ErrInUse                = errors.New("in use")
	ErrStorage              = errors.New("storage error")
)

// ValidationError carries per-field violations.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f, code := range e.Violations {
		fields = append(fields, f+"="+code)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// invalid returns nil when v is empty.
func invalid(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	return &ValidationError{Violations: v}
}

// SoldeError details a refused sortie. It matches ErrSoldeInsuffisant.
type SoldeError struct {
	CaisseID   uint
	Disponible decimal.Decimal
	Demande    decimal.Decimal
}

func (e *SoldeError) Error() string {
	return fmt.Sprintf("caisse %d: solde %s < %s", e.CaisseID, e.Disponible.StringFixed(2), e.Demande.StringFixed(2))
}

func (e *SoldeError) Is(target error) bool { return target == ErrSoldeInsuffisant }

// StockError details an article that cannot be served. It matches ErrStockInsuffisant.
type StockError struct {
	ArticleID   uint
	Designation string
	Disponible  decimal.Decimal
	Demande     decimal.Decimal
}

func (e *StockError) Error() string {
	return fmt.Sprintf("article %d (%s): stock %s < %s", e.ArticleID, e.Designation, e.Disponible, e.Demande)
}

func (e *StockError) Is(target error) bool { return target == ErrStockInsuffisant }

// QuantiteError details a line asking more than what remains. It matches ErrQuantiteExcedentaire.
type QuantiteError struct {
	BesoinLigneID uint
	Restant       decimal.Decimal
	Demande       decimal.Decimal
}

func (e *QuantiteError) Error() string {
	return fmt.Sprintf("ligne %d: reste %s < %s", e.BesoinLigneID, e.Restant, e.Demande)
}

func (e *QuantiteError) Is(target error) bool { return target == ErrQuantiteExcedentaire }
