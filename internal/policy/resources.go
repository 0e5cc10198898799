package policy

import "github.com/diewo77/go-achats/gate"

// Resource types named in permissions.
const (
	ResourceBesoin          = "besoin"
	ResourceDemandeAchat    = "demande_achat"
	ResourceBonLivraison    = "bon_livraison"
	ResourceEcriture        = "ecriture"
	ResourceCaisse          = "caisse"
	ResourceDossier         = "dossier"
	ResourceDashboard       = "dashboard"
	ResourceAttachment      = "attachment"
	ResourceArticle         = "article"
	ResourceDepartement     = "departement"
	ResourceProjet          = "projet"
	ResourceTiers           = "tiers"
	ResourceFournisseur     = "fournisseur"
	ResourcePaymentCategory = "payment_category"
	ResourcePaymentMethod   = "payment_method"
	ResourceUser            = "user"
	ResourceProfile         = "profile"
)

// Caisse specific actions.
const (
	ActionMouvement gate.Action = "mouvement"
	ActionVerify    gate.Action = "verify"
)
