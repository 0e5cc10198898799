// Package services implements the procurement workflow: besoins, demandes
// d'achat, bons de livraison, écritures comptables and caisses.
//
// Every mutating operation runs in one database transaction, loads the row
// under lock, asks the Authorizer, applies the workflow transition and writes
// a workflow event.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/storage"
	"github.com/diewo77/go-achats/internal/workflow"
)

// Authorizer is the subset of policy.AuthGate the services need.
type Authorizer interface {
	Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error
	// DepartementFilter returns the department listings are restricted to.
	// unrestricted is true when the caller sees every department; a
	// restricted caller with dept 0 has no department and sees nothing.
	DepartementFilter(ctx context.Context, resourceType string) (dept uint, unrestricted bool)
}

// AllowAll authorizes everything. Used by the CLI and tests.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, gate.Action, string, any) error { return nil }
func (AllowAll) DepartementFilter(context.Context, string) (uint, bool)    { return 0, true }

// Deps are shared by every service.
type Deps struct {
	DB    *gorm.DB
	Authz Authorizer
	Log   *zap.Logger
	Now   func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d Deps) authz() Authorizer {
	if d.Authz == nil {
		return AllowAll{}
	}
	return d.Authz
}

func (d Deps) authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error {
	if err := d.authz().Authorize(ctx, action, resourceType, resource); err != nil {
		if errors.Is(err, gate.ErrUnauthorized) {
			return fmt.Errorf("%w: %s:%s: %v", ErrForbidden, resourceType, action, err)
		}
		return err
	}
	return nil
}

// actor returns the calling user id, 0 for system calls.
func actor(ctx context.Context) uint {
	uid, _ := auth.UserIDFromContext(ctx)
	return uid
}

// forUpdate locks the selected rows on databases that support it.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// dbErr maps gorm errors to service errors.
func dbErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

// guardTransition looks up the edge an action takes and enforces its note requirement.
func guardTransition[S ~string](m *workflow.Machine[S], from S, action gate.Action, note string) (workflow.Transition[S], error) {
	t, err := m.ForAction(from, action)
	if err != nil {
		return t, err
	}
	if t.NeedsNote && strings.TrimSpace(note) == "" {
		return t, ErrMotifRequis
	}
	return t, nil
}

// event describes a journal entry.
type event struct {
	entity   string
	entityID uint
	numero   string
	besoinID *uint
	action   gate.Action
	from, to string
	note     string
}

// record writes the workflow event and logs the transition.
func (d Deps) record(ctx context.Context, tx *gorm.DB, e event) error {
	ev := models.WorkflowEvent{
		CreatedAt:  d.now(),
		Entity:     e.entity,
		EntityID:   e.entityID,
		Numero:     e.numero,
		BesoinID:   e.besoinID,
		Action:     string(e.action),
		FromStatus: e.from,
		ToStatus:   e.to,
		UserID:     actor(ctx),
		Note:       e.note,
	}
	if err := tx.Create(&ev).Error; err != nil {
		return fmt.Errorf("record %s event: %w", e.entity, err)
	}
	d.logger().Info("workflow transition",
		zap.String("entity", e.entity),
		zap.Uint("id", e.entityID),
		zap.String("numero", e.numero),
		zap.String("action", string(e.action)),
		zap.String("from", e.from),
		zap.String("to", e.to),
		zap.Uint("user", ev.UserID))
	return nil
}

// callerDepartement returns the department of the calling user, 0 if none.
func callerDepartement(ctx context.Context, tx *gorm.DB) (uint, error) {
	uid := actor(ctx)
	if uid == 0 {
		return 0, nil
	}
	var u models.User
	if err := tx.Select("id", "departement_id").First(&u, uid).Error; err != nil {
		return 0, dbErr(err)
	}
	return u.DepartementOf(), nil
}

// Page is a listing window.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	if p.Limit <= 0 {
		return q
	}
	return q.Offset(p.Offset).Limit(p.Limit)
}

// scopeDepartement restricts q to the caller's department when required.
func (d Deps) scopeDepartement(ctx context.Context, q *gorm.DB, resourceType, column string) *gorm.DB {
	dept, unrestricted := d.authz().DepartementFilter(ctx, resourceType)
	return applyDepartement(q, column, dept, unrestricted)
}

func applyDepartement(q *gorm.DB, column string, dept uint, unrestricted bool) *gorm.DB {
	switch {
	case unrestricted:
		return q
	case dept == 0:
		return q.Where("1 = 0")
	default:
		return q.Where(column+" = ?", dept)
	}
}

func ptr[T any](v T) *T { return &v }

// actorPtr returns the caller's ID, nil when the context carries none.
func actorPtr(ctx context.Context) *uint {
	if id := actor(ctx); id != 0 {
		return &id
	}
	return nil
}

// Services bundles every service over the same Deps.
type Services struct {
	Besoins       *BesoinService
	DemandesAchat *DemandeAchatService
	BonsLivraison *BonLivraisonService
	Ecritures     *EcritureService
	Caisses       *CaisseService
	Stock         *StockService
	Referentiels  *Referentiels
	Dossiers      *DossierService
	Dashboard     *DashboardService
	Attachments   *AttachmentService
}

// New wires every service. bucket may be nil when attachments are disabled.
func New(d Deps, bucket storage.Bucket) *Services {
	return &Services{
		Besoins:       NewBesoinService(d),
		DemandesAchat: NewDemandeAchatService(d),
		BonsLivraison: NewBonLivraisonService(d),
		Ecritures:     NewEcritureService(d),
		Caisses:       NewCaisseService(d),
		Stock:         NewStockService(d),
		Referentiels:  NewReferentiels(d),
		Dossiers:      NewDossierService(d),
		Dashboard:     NewDashboardService(d),
		Attachments:   NewAttachmentService(d, bucket),
	}
}
