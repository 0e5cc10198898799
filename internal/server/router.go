// Package server wires the JSON API routes, their permissions and the
// request middleware.
package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/httpx"
	"github.com/diewo77/go-achats/internal/handlers"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/services"
)

// Config carries everything the router needs.
type Config struct {
	DB       *gorm.DB
	AuthGate *policy.AuthGate
	Services *services.Services
	Log      *zap.Logger
	// Limiter throttles logins; nil disables throttling.
	Limiter      *auth.LoginLimiter
	MaxUploadMiB int
}

type router struct {
	mux  *http.ServeMux
	gate *policy.AuthGate
}

// New constructs the root http.Handler with all routes and middlewares applied.
func New(cfg Config) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	db := cfg.DB
	svc := cfg.Services

	// Deleted or disabled users lose access even with a valid session.
	auth.SetUserVerifier(func(ctx context.Context, uid uint) bool {
		var count int64
		if err := db.WithContext(ctx).Model(&models.User{}).Where("id = ? AND active = ?", uid, true).Limit(1).Count(&count).Error; err != nil {
			return false
		}
		return count > 0
	})

	rt := &router{mux: http.NewServeMux(), gate: cfg.AuthGate}
	m := rt.mux

	// Health
	m.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	m.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.WithContext(r.Context()).Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Auth
	ah := handlers.NewAuthHandler(db, cfg.AuthGate, cfg.Limiter, log)
	m.HandleFunc("POST /api/auth/login", ah.Login)
	m.HandleFunc("POST /api/auth/logout", ah.Logout)
	m.Handle("GET /api/me", auth.RequireAuth(http.HandlerFunc(ah.Me)))

	// Besoins
	bh := handlers.NewBesoinHandler(svc.Besoins, log)
	dh := handlers.NewDossierHandler(svc.Dossiers, svc.Dashboard, log)
	rt.handle("GET /api/besoins", policy.ResourceBesoin, gate.ActionList, bh.List)
	rt.handle("POST /api/besoins", policy.ResourceBesoin, gate.ActionCreate, bh.Create)
	rt.handle("GET /api/besoins/{id}", policy.ResourceBesoin, gate.ActionView, bh.Get)
	rt.handle("PUT /api/besoins/{id}", policy.ResourceBesoin, gate.ActionUpdate, bh.Update)
	rt.handle("DELETE /api/besoins/{id}", policy.ResourceBesoin, gate.ActionDelete, bh.Delete)
	rt.handle("GET /api/besoins/{id}/couverture", policy.ResourceBesoin, gate.ActionView, bh.Couverture)
	rt.handle("GET /api/besoins/{id}/dossier", policy.ResourceDossier, gate.ActionView, dh.Dossier)
	for verb, action := range besoinActions {
		rt.handle("POST /api/besoins/{id}/"+verb, policy.ResourceBesoin, action, bh.Transition(action))
	}

	// Demandes d'achat
	dah := handlers.NewDemandeAchatHandler(svc.DemandesAchat, log)
	rt.handle("GET /api/demandes-achat", policy.ResourceDemandeAchat, gate.ActionList, dah.List)
	rt.handle("POST /api/demandes-achat", policy.ResourceDemandeAchat, gate.ActionCreate, dah.Create)
	rt.handle("GET /api/demandes-achat/{id}", policy.ResourceDemandeAchat, gate.ActionView, dah.Get)
	rt.handle("PUT /api/demandes-achat/{id}", policy.ResourceDemandeAchat, gate.ActionUpdate, dah.Update)
	rt.handle("DELETE /api/demandes-achat/{id}", policy.ResourceDemandeAchat, gate.ActionDelete, dah.Delete)
	for verb, action := range demandeAchatActions {
		rt.handle("POST /api/demandes-achat/{id}/"+verb, policy.ResourceDemandeAchat, action, dah.Transition(action))
	}

	// Bons de livraison
	blh := handlers.NewBonLivraisonHandler(svc.BonsLivraison, log)
	rt.handle("GET /api/bons-livraison", policy.ResourceBonLivraison, gate.ActionList, blh.List)
	rt.handle("POST /api/bons-livraison", policy.ResourceBonLivraison, gate.ActionCreate, blh.Create)
	rt.handle("GET /api/bons-livraison/{id}", policy.ResourceBonLivraison, gate.ActionView, blh.Get)
	rt.handle("POST /api/bons-livraison/{id}/valider", policy.ResourceBonLivraison, gate.ActionValidate, blh.Validate)
	rt.handle("POST /api/bons-livraison/{id}/livrer", policy.ResourceBonLivraison, gate.ActionDeliver, blh.Deliver)
	rt.handle("POST /api/bons-livraison/{id}/annuler", policy.ResourceBonLivraison, gate.ActionCancel, blh.Cancel)

	// Écritures comptables
	eh := handlers.NewEcritureHandler(svc.Ecritures, svc.Referentiels, log)
	rt.handle("GET /api/ecritures", policy.ResourceEcriture, gate.ActionList, eh.List)
	rt.handle("POST /api/ecritures", policy.ResourceEcriture, gate.ActionCreate, eh.Create)
	rt.handle("GET /api/ecritures/{id}", policy.ResourceEcriture, gate.ActionView, eh.Get)
	rt.handle("PUT /api/ecritures/{id}", policy.ResourceEcriture, gate.ActionUpdate, eh.Update)
	rt.handle("POST /api/ecritures/{id}/valider", policy.ResourceEcriture, gate.ActionValidate, eh.Validate)
	rt.handle("POST /api/ecritures/{id}/annuler", policy.ResourceEcriture, gate.ActionCancel, eh.Cancel)
	rt.handle("POST /api/ecritures/{id}/payer", policy.ResourceEcriture, gate.ActionPay, eh.Pay)
	rt.handle("GET /api/payment-form", policy.ResourcePaymentMethod, gate.ActionList, eh.PaymentForm)

	// Caisses
	ch := handlers.NewCaisseHandler(svc.Caisses, log)
	rt.handle("GET /api/caisses", policy.ResourceCaisse, gate.ActionList, ch.List)
	rt.handle("POST /api/caisses", policy.ResourceCaisse, gate.ActionCreate, ch.Create)
	rt.handle("GET /api/caisses/{id}", policy.ResourceCaisse, gate.ActionView, ch.Get)
	rt.handle("PUT /api/caisses/{id}", policy.ResourceCaisse, gate.ActionUpdate, ch.Update)
	rt.handle("POST /api/caisses/{id}/mouvements", policy.ResourceCaisse, policy.ActionMouvement, ch.Mouvement)
	rt.handle("GET /api/caisses/{id}/mouvements", policy.ResourceCaisse, gate.ActionView, ch.Ledger)
	rt.handle("GET /api/caisses/{id}/verification", policy.ResourceCaisse, policy.ActionVerify, ch.Verify)

	// Référentiels
	refs := svc.Referentiels
	crud(rt, "/api/departements", handlers.NewReferentielHandler(refs.Departements, log), policy.ResourceDepartement)
	crud(rt, "/api/projets", handlers.NewReferentielHandler(refs.Projets, log), policy.ResourceProjet)
	crud(rt, "/api/tiers", handlers.NewReferentielHandler(refs.Tiers, log), policy.ResourceTiers)
	crud(rt, "/api/fournisseurs", handlers.NewReferentielHandler(refs.Fournisseurs, log), policy.ResourceFournisseur)
	crud(rt, "/api/articles", handlers.NewReferentielHandler(refs.Articles, log), policy.ResourceArticle)
	crud(rt, "/api/payment-categories", handlers.NewReferentielHandler(refs.PaymentCategories, log), policy.ResourcePaymentCategory)
	crud(rt, "/api/payment-methods", handlers.NewReferentielHandler(refs.PaymentMethods, log), policy.ResourcePaymentMethod)

	// Stock
	sh := handlers.NewStockHandler(svc.Stock, log)
	rt.handle("POST /api/articles/{id}/entrees", policy.ResourceArticle, policy.ActionMouvement, sh.Entree)
	rt.handle("GET /api/articles/{id}/mouvements", policy.ResourceArticle, gate.ActionView, sh.Mouvements)
	rt.handle("GET /api/stock/alertes", policy.ResourceArticle, gate.ActionList, sh.Alertes)

	// Dashboard
	rt.handle("GET /api/dashboard", policy.ResourceDashboard, gate.ActionView, dh.Dashboard)

	// Pièces justificatives
	ath := handlers.NewAttachmentHandler(svc.Attachments, cfg.MaxUploadMiB, log)
	rt.handle("GET /api/attachments", policy.ResourceAttachment, gate.ActionList, ath.List)
	rt.handle("POST /api/attachments", policy.ResourceAttachment, gate.ActionCreate, ath.Upload)
	rt.handle("GET /api/attachments/{id}", policy.ResourceAttachment, gate.ActionView, ath.Download)
	rt.handle("DELETE /api/attachments/{id}", policy.ResourceAttachment, gate.ActionDelete, ath.Delete)

	// Admin
	aph := handlers.NewAdminProfileHandler(db, cfg.AuthGate.CacheResolver, log)
	auph := handlers.NewAdminUserProfileHandler(db, cfg.AuthGate.CacheResolver, log)
	rt.handle("GET /api/admin/profiles", policy.ResourceProfile, gate.ActionList, aph.List)
	rt.handle("POST /api/admin/profiles", policy.ResourceProfile, gate.ActionCreate, aph.Create)
	rt.handle("GET /api/admin/profiles/{id}", policy.ResourceProfile, gate.ActionView, aph.Get)
	rt.handle("PUT /api/admin/profiles/{id}", policy.ResourceProfile, gate.ActionUpdate, aph.Update)
	rt.handle("DELETE /api/admin/profiles/{id}", policy.ResourceProfile, gate.ActionDelete, aph.Delete)
	rt.handle("GET /api/admin/permissions", policy.ResourceProfile, gate.ActionView, aph.ListPermissions)
	// Changing what a profile may do is reserved to superadmins.
	m.Handle("PUT /api/admin/profiles/{id}/permissions",
		auth.RequireAuth(cfg.AuthGate.RequireAdmin()(http.HandlerFunc(aph.SavePermissions))))
	rt.handle("GET /api/admin/users", policy.ResourceUser, gate.ActionList, auph.List)
	rt.handle("POST /api/admin/users", policy.ResourceUser, gate.ActionCreate, auph.Create)
	rt.handle("PUT /api/admin/users/{id}/profile", policy.ResourceUser, gate.ActionUpdate, auph.AssignProfile)

	m.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httpx.LocalizedError(w, r, http.StatusNotFound, "not_found", nil)
	})

	return withRecover(log, auth.Middleware(withLogging(log, withPreferences(m))))
}

// French verbs of the workflow routes.
var (
	besoinActions = map[string]gate.Action{
		"soumettre": gate.ActionSubmit,
		"valider":   gate.ActionValidate,
		"rejeter":   gate.ActionReject,
		"reviser":   gate.ActionRevise,
		"annuler":   gate.ActionCancel,
	}
	demandeAchatActions = besoinActions
)

// handle registers a route behind authentication and the resource:action permission.
func (rt *router) handle(pattern, resource string, action gate.Action, h http.HandlerFunc) {
	rt.mux.Handle(pattern, auth.RequireAuth(rt.gate.RequirePermission(resource, action)(h)))
}

type crudHandler interface {
	List(http.ResponseWriter, *http.Request)
	Create(http.ResponseWriter, *http.Request)
	Get(http.ResponseWriter, *http.Request)
	Update(http.ResponseWriter, *http.Request)
	Delete(http.ResponseWriter, *http.Request)
}

func crud(rt *router, prefix string, h crudHandler, resource string) {
	rt.handle("GET "+prefix, resource, gate.ActionList, h.List)
	rt.handle("POST "+prefix, resource, gate.ActionCreate, h.Create)
	rt.handle("GET "+prefix+"/{id}", resource, gate.ActionView, h.Get)
	rt.handle("PUT "+prefix+"/{id}", resource, gate.ActionUpdate, h.Update)
	rt.handle("DELETE "+prefix+"/{id}", resource, gate.ActionDelete, h.Delete)
}
