package i18n

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"en-US,en;q=0.9":   "en",
		"EN-gb":            "en",
		"fr-FR,fr;q=0.8":   "fr",
		"de-DE,en;q=0.5":   "fr",
		"":                 "fr",
		"en;q=0.1, fr-CA":  "en",
		"  en  ":           "en",
		"es-ES,es;q=0.9,*": "fr",
	}
	for header, want := range cases {
		assert.Equal(t, want, DetectLanguage(header), "Accept-Language %q", header)
	}
}

func TestWorkflowMessages(t *testing.T) {
	for _, code := range []string{
		"invalid_transition", "solde_insuffisant", "stock_insuffisant",
		"motif_requis", "caisse_requise", "quantite_excedentaire",
	} {
		fr, en := T("fr", code), T("en", code)
		assert.NotEqual(t, code, fr, "missing fr message for %s", code)
		assert.NotEqual(t, code, en, "missing en message for %s", code)
		assert.NotEqual(t, fr, en, "%s is not translated", code)
	}
	assert.Equal(t, "Solde de caisse insuffisant", T("fr", "solde_insuffisant"))
	assert.Equal(t, "Insufficient stock", T("en", "stock_insuffisant"))
}

func TestFallbacks(t *testing.T) {
	assert.Equal(t, "__nope__", T("en", "__nope__"), "unknown code falls back to itself")
	assert.Equal(t, T("fr", "required"), T("es", "required"), "unknown language falls back to fr")
}

func TestLangContext(t *testing.T) {
	assert.Equal(t, "fr", LangFromContext(context.Background()))
	assert.Equal(t, "en", LangFromContext(WithLang(context.Background(), "en")))
}
