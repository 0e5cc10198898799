// Package i18n translates error and violation codes for API responses.
// French is the default language; English is the only other catalog.
package i18n

import (
	"context"
	"strings"
)

const DefaultLang = "fr"

type langKey struct{}

// WithLang stores the preferred language in ctx.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, langKey{}, lang)
}

// LangFromContext returns the preferred language or DefaultLang.
func LangFromContext(ctx context.Context) string {
	if l, ok := ctx.Value(langKey{}).(string); ok && l != "" {
		return l
	}
	return DefaultLang
}

// DetectLanguage picks "en" or "fr" from an Accept-Language header.
func DetectLanguage(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	if strings.HasPrefix(h, "en") {
		return "en"
	}
	return DefaultLang
}

// T translates code into lang. Unknown languages fall back to French,
// unknown codes are returned unchanged.
func T(lang, code string) string {
	if cat, ok := catalogs[lang]; ok {
		if msg, ok := cat[code]; ok {
			return msg
		}
	}
	if msg, ok := catalogs[DefaultLang][code]; ok {
		return msg
	}
	return code
}

var catalogs = map[string]map[string]string{
	"fr": {
		"required":                     "Requis",
		"too_long":                     "Trop long",
		"must_be_positive":             "Doit être positif",
		"must_not_be_negative":         "Ne doit pas être négatif",
		"invalid_choice":               "Valeur non autorisée",
		"invalid_format":               "Format invalide",
		"unauthorized":                 "Authentification requise",
		"forbidden":                    "Accès refusé",
		"not_found":                    "Introuvable",
		"invalid_json":                 "Corps JSON invalide",
		"validation_failed":            "Données invalides",
		"invalid_transition":           "Changement de statut non autorisé",
		"solde_insuffisant":            "Solde de caisse insuffisant",
		"stock_insuffisant":            "Stock insuffisant",
		"quantite_excedentaire":        "Quantité supérieure au reste à couvrir",
		"motif_requis":                 "Un motif est requis",
		"caisse_inactive":              "Caisse inactive",
		"too_many_requests":            "Trop de tentatives, réessayez plus tard",
		"invalid_credentials":          "Email ou mot de passe invalide",
		"conflict":                     "Conflit avec une donnée existante",
		"internal_error":               "Erreur interne",
		"db_error":                     "Erreur de base de données",
		"method_not_allowed":           "Méthode non autorisée",
		"file_too_large":               "Fichier trop volumineux",
		"name_already_exists":          "Ce nom existe déjà",
		"besoin_non_valide":            "Le besoin doit être validé",
		"ecriture_non_validee":         "L'écriture doit être validée",
		"caisse_requise":               "Une caisse est requise pour un paiement en espèces",
		"da_non_validee":               "La demande d'achat doit être validée par la finance",
		"in_use":                       "Élément utilisé ailleurs, suppression impossible",
		"storage_error":                "Erreur de stockage du fichier",
		"invalid_form":                 "Formulaire invalide",
		"inactive_user":                "Compte désactivé",
		"duplicate":                    "Valeur en double",
		"invalid":                      "Valeur invalide",
		"cannot_delete_system_profile": "Un profil système ne peut pas être supprimé",
		"cannot_rename_system_profile": "Un profil système ne peut pas être renommé",
		"profile_has_users":            "Des utilisateurs sont rattachés à ce profil",
		"too_short":                    "Trop court",
		"cannot_disable_self":          "Vous ne pouvez pas désactiver votre propre compte",
	},
	"en": {
		"required":                     "Required",
		"too_long":                     "Too long",
		"must_be_positive":             "Must be positive",
		"must_not_be_negative":         "Must not be negative",
		"invalid_choice":               "Value not allowed",
		"invalid_format":               "Invalid format",
		"unauthorized":                 "Authentication required",
		"forbidden":                    "Forbidden",
		"not_found":                    "Not found",
		"invalid_json":                 "Invalid JSON body",
		"validation_failed":            "Invalid data",
		"invalid_transition":           "Status change not allowed",
		"solde_insuffisant":            "Insufficient cash register balance",
		"stock_insuffisant":            "Insufficient stock",
		"quantite_excedentaire":        "Quantity exceeds the remaining need",
		"motif_requis":                 "A reason is required",
		"caisse_inactive":              "Cash register is inactive",
		"too_many_requests":            "Too many attempts, try again later",
		"invalid_credentials":          "Invalid email or password",
		"conflict":                     "Conflicts with existing data",
		"internal_error":               "Internal error",
		"db_error":                     "Database error",
		"method_not_allowed":           "Method not allowed",
		"file_too_large":               "File too large",
		"name_already_exists":          "This name already exists",
		"besoin_non_valide":            "The need must be validated first",
		"ecriture_non_validee":         "The entry must be validated first",
		"caisse_requise":               "A cash register is required for cash payments",
		"da_non_validee":               "The purchase request must be validated by finance",
		"in_use":                       "Item is referenced elsewhere and cannot be deleted",
		"storage_error":                "File storage error",
		"invalid_form":                 "Invalid form",
		"inactive_user":                "Account disabled",
		"duplicate":                    "Duplicate value",
		"invalid":                      "Invalid value",
		"cannot_delete_system_profile": "System profiles cannot be deleted",
		"cannot_rename_system_profile": "System profiles cannot be renamed",
		"profile_has_users":            "Users are assigned to this profile",
		"too_short":                    "Too short",
		"cannot_disable_self":          "You cannot disable your own account",
	},
}
