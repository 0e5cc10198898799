package server_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/internal/db"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/server"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/storage"
)

const password = "secret-123"

type testApp struct {
	db      *gorm.DB
	handler http.Handler
	dept    models.Departement
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.Migrate(gdb))
	catalog, err := db.LoadCatalog("")
	require.NoError(t, err)
	require.NoError(t, db.Seed(gdb, catalog))

	app := &testApp{db: gdb}
	require.NoError(t, gdb.Where("code = ?", "TECH").First(&app.dept).Error)

	ag := policy.NewAuthGate(gdb, time.Minute)
	bucket, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := services.New(services.Deps{DB: gdb, Authz: ag, Log: zap.NewNop()}, bucket)
	app.handler = server.New(server.Config{
		DB:           gdb,
		AuthGate:     ag,
		Services:     svc,
		Log:          zap.NewNop(),
		Limiter:      auth.NewLoginLimiter(60, 5),
		MaxUploadMiB: 1,
	})
	return app
}

// user creates an active user with the named profile in the TECH department.
func (a *testApp) user(t *testing.T, email, profile string) models.User {
	t.Helper()
	var p models.Profile
	require.NoError(t, a.db.Where("name = ?", profile).First(&p).Error)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := models.User{Email: email, Password: string(hash), Active: true, ProfileID: &p.ID, DepartementID: &a.dept.ID}
	require.NoError(t, a.db.Create(&u).Error)
	return u
}

func (a *testApp) login(t *testing.T, email string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "fr")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestHealthzAndRequestID(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	const id = "0b6f7a7e-3c1d-4a52-9a54-3f1f6f6c1a10"
	req.Header.Set("X-Request-ID", id)
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "not a uuid")
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "not a uuid", rec.Header().Get("X-Request-ID"))
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error)
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodGet, "/api/besoins", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)
	app.user(t, "agent@example.com", "demandeur")

	t.Run("wrong password", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "agent@example.com", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_credentials", decodeError(t, rec).Error)
	})

	t.Run("email is case insensitive and sets the session cookie", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": " Agent@Example.com ", "password": password})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var names []string
		for _, c := range rec.Result().Cookies() {
			names = append(names, c.Name)
		}
		assert.Contains(t, names, "session")
	})

	t.Run("inactive user", func(t *testing.T) {
		u := app.user(t, "gone@example.com", "demandeur")
		require.NoError(t, app.db.Model(&u).Update("active", false).Error)
		rec := app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "gone@example.com", "password": password})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestLoginIsRateLimited(t *testing.T) {
	app := newTestApp(t)
	var last int
	for i := 0; i < 8; i++ {
		last = app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "x@example.com", "password": "bad"}).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestMeListsPermissions(t *testing.T) {
	app := newTestApp(t)
	app.user(t, "agent@example.com", "demandeur")
	token := app.login(t, "agent@example.com")

	rec := app.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		User struct {
			Email       string `json:"email"`
			Departement *struct {
				Code string `json:"code"`
			} `json:"departement"`
		} `json:"user"`
		Profile     string   `json:"profile"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "agent@example.com", me.User.Email)
	assert.Equal(t, "demandeur", me.Profile)
	assert.Contains(t, me.Permissions, "besoin:create")
	assert.NotContains(t, me.Permissions, "besoin:validate")
	require.NotNil(t, me.User.Departement)
	assert.Equal(t, "TECH", me.User.Departement.Code)
}

func TestMissingPermissionIsForbidden(t *testing.T) {
	app := newTestApp(t)
	app.user(t, "agent@example.com", "demandeur")
	token := app.login(t, "agent@example.com")

	assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodGet, "/api/dashboard", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodGet, "/api/caisses", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodGet, "/api/admin/profiles", token, nil).Code)
}

func TestBesoinWorkflowOverHTTP(t *testing.T) {
	app := newTestApp(t)
	app.user(t, "agent@example.com", "demandeur")
	app.user(t, "chef@example.com", "chef_departement")
	agent := app.login(t, "agent@example.com")
	chef := app.login(t, "chef@example.com")

	rec := app.do(t, http.MethodPost, "/api/besoins", agent, map[string]any{"titre": "", "lignes": []any{}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "validation_failed", e.Error)
	assert.Contains(t, e.Details, "titre")
	assert.Contains(t, e.Details, "lignes")

	rec = app.do(t, http.MethodPost, "/api/besoins", agent, map[string]any{
		"titre":  "Fournitures",
		"lignes": []map[string]any{{"designation": "Cartouches", "quantite": "2"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b struct {
		ID            uint   `json:"id"`
		Numero        string `json:"numero"`
		Status        string `json:"status"`
		DepartementID uint   `json:"departement_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "brouillon", b.Status)
	assert.Equal(t, app.dept.ID, b.DepartementID)
	assert.NotEmpty(t, b.Numero)
	path := "/api/besoins/" + itoa(b.ID)

	rec = app.do(t, http.MethodPost, path+"/soumettre", agent, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// the demandeur profile cannot validate
	rec = app.do(t, http.MethodPost, path+"/valider", agent, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodPost, path+"/valider", chef, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "valide", b.Status)

	rec = app.do(t, http.MethodPost, path+"/valider", chef, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	e = decodeError(t, rec)
	assert.Equal(t, "invalid_transition", e.Error)
	assert.Equal(t, "valide", e.Details["from"])

	rec = app.do(t, http.MethodGet, path+"/dossier", agent, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/api/besoins/999999", agent, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = app.do(t, http.MethodGet, "/api/besoins/abc", agent, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectRequiresMotif(t *testing.T) {
	app := newTestApp(t)
	app.user(t, "agent@example.com", "demandeur")
	app.user(t, "chef@example.com", "chef_departement")
	agent := app.login(t, "agent@example.com")
	chef := app.login(t, "chef@example.com")

	rec := app.do(t, http.MethodPost, "/api/besoins", agent, map[string]any{
		"titre":  "Chaises",
		"lignes": []map[string]any{{"designation": "Chaise", "quantite": "4"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	path := "/api/besoins/" + itoa(b.ID)
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, path+"/soumettre", agent, nil).Code)

	rec = app.do(t, http.MethodPost, path+"/rejeter", chef, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "motif_requis", decodeError(t, rec).Error)

	rec = app.do(t, http.MethodPost, path+"/rejeter", chef, map[string]string{"motif": "hors budget"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAdminSavePermissions(t *testing.T) {
	app := newTestApp(t)
	app.user(t, "root@example.com", "admin")
	admin := app.login(t, "root@example.com")

	rec := app.do(t, http.MethodPost, "/api/admin/profiles", admin, map[string]string{"name": "auditeur"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	path := "/api/admin/profiles/" + itoa(p.ID) + "/permissions"

	rec = app.do(t, http.MethodPut, path, admin, map[string]any{"permissions": []string{"besoin:list", "besoin:fly"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := decodeError(t, rec)
	assert.Contains(t, e.Details, "permissions[1]")
	assert.NotContains(t, e.Details, "permissions[0]")

	rec = app.do(t, http.MethodPut, path, admin, map[string]any{"permissions": []string{"besoin:list", "besoin:view", "besoin:list"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary struct {
		PermissionCodes []string `json:"permission_codes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.ElementsMatch(t, []string{"besoin:list", "besoin:view"}, summary.PermissionCodes)

	rec = app.do(t, http.MethodPost, "/api/admin/profiles", admin, map[string]string{"name": "auditeur"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var system models.Profile
	require.NoError(t, app.db.Where("name = ?", "admin").First(&system).Error)
	rec = app.do(t, http.MethodDelete, "/api/admin/profiles/"+itoa(system.ID), admin, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDisabledUserLosesAccess(t *testing.T) {
	app := newTestApp(t)
	u := app.user(t, "agent@example.com", "demandeur")
	token := app.login(t, "agent@example.com")
	require.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/api/me", token, nil).Code)

	require.NoError(t, app.db.Model(&u).Update("active", false).Error)
	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/api/me", token, nil).Code)
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	app := newTestApp(t)
	app.user(t, "agent@example.com", "demandeur")
	token := app.login(t, "agent@example.com")

	rec := app.do(t, http.MethodPost, "/api/besoins", token, map[string]any{
		"titre":  "Toner",
		"lignes": []map[string]any{{"designation": "Toner HP", "quantite": "1"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("entity", "besoin"))
	require.NoError(t, mw.WriteField("entity_id", itoa(b.ID)))
	fw, err := mw.CreateFormFile("file", "devis.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("devis fournisseur"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var att struct {
		ID       uint   `json:"id"`
		FileName string `json:"file_name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &att))
	assert.Equal(t, "devis.txt", att.FileName)

	rec = app.do(t, http.MethodGet, "/api/attachments?entity=besoin&entity_id="+itoa(b.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "devis.txt")

	rec = app.do(t, http.MethodGet, "/api/attachments/"+itoa(att.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "devis fournisseur", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "devis.txt")

	rec = app.do(t, http.MethodGet, "/api/attachments?entity=facture&entity_id=1", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
