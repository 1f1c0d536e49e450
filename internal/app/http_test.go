package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiritara/api/internal/gallery"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyEndpointAllChecksPass(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/ready", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)
	payload := decode(t, rr)
	assert.Equal(t, "ready", payload["status"])
	checks := payload["checks"].(map[string]any)
	for _, name := range []string{"database", "content", "gallery"} {
		assert.Equal(t, "ok", checks[name].(map[string]any)["status"], name)
	}
}

func TestReadyEndpointReportsFailingCheck(t *testing.T) {
	env := newTestEnv(t)
	env.service.checks["redis"] = func(context.Context) error { return errors.New("connection refused") }

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/ready", nil), "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	checks := decode(t, rr)["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"].(map[string]any)["status"])
	assert.Equal(t, "error", checks["redis"].(map[string]any)["status"])
}

func TestReadyEndpointWaitsForGallery(t *testing.T) {
	env := newTestEnv(t)
	unloaded := gallery.New(env.store, env.blobs, nil)
	env.service.checks["gallery"] = LoadedCheck("gallery", unloaded.Loaded)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/ready", nil), "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	check := decode(t, rr)["checks"].(map[string]any)["gallery"].(map[string]any)
	assert.Equal(t, "error", check["status"])
	assert.Equal(t, "gallery not loaded yet", check["error"])
}

func TestPublicContentAndGallery(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/content", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)
	hero := decode(t, rr)["content"].(map[string]any)["hero"].(map[string]any)
	assert.Equal(t, "Live title", hero["title"])

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/gallery", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode(t, rr)["images"].([]any))
}

func TestContactSubmission(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(jsonRequest(http.MethodPost, "/api/contact", `{
		"fullName": "Ana Silva",
		"email": "ana@example.com",
		"phone": "+1 555 0100",
		"investmentAmount": "$5M+",
		"timeline": "Within 6 months"
	}`), "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "$5M+ - Within 6 months", env.store.leads[0].InvestmentInterest)

	rr = env.do(jsonRequest(http.MethodPost, "/api/contact", `{"fullName":"Ana"}`), "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestSignInAndSession(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(jsonRequest(http.MethodPost, "/api/auth/signin", `{"email":"ADMIN@kiritara.test","password":"correct horse"}`), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	token, _ := decode(t, rr)["accessToken"].(string)
	require.NotEmpty(t, token)

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/session", nil), token)
	payload := decode(t, rr)
	assert.Equal(t, true, payload["authenticated"])
	assert.Equal(t, "admin", payload["role"])

	rr = env.do(jsonRequest(http.MethodPost, "/api/auth/signin", `{"email":"admin@kiritara.test","password":"wrong"}`), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "admin-1")

	rr := env.do(httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), token)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/admin/fields", nil), token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/admin/fields", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/admin/fields", nil), "garbage.token")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDraftEditAndSave(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "admin-1")

	rr := env.do(jsonRequest(http.MethodPut, "/api/admin/draft", `{"path":"hero.title","value":"Draft title"}`), token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Drafts are private until saved.
	require.Equal(t, "Live title", env.content.Snapshot()["hero"].(map[string]any)["title"])

	rr = env.do(jsonRequest(http.MethodPost, "/api/admin/draft/save", `{"path":"hero.title"}`), token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	value := decode(t, rr)["value"].(map[string]any)
	assert.Equal(t, "Draft title", value["title"])
	assert.Equal(t, "Live subtitle", value["subtitle"])
	assert.Contains(t, string(env.store.content["hero"]), "Draft title")
}

func TestDraftRejectsUneditablePath(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(jsonRequest(http.MethodPut, "/api/admin/draft", `{"path":"footer.description","value":"x"}`), env.token(t, "admin-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestDraftSaveWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "admin-1")
	env.store.writeErr = errors.New("permission denied")

	rr := env.do(jsonRequest(http.MethodPost, "/api/admin/draft/save", `{"path":"about.title"}`), token)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "WRITE_FAILED", decode(t, rr)["code"])
}

func TestViewerCannotEdit(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "viewer-1")

	rr := env.do(jsonRequest(http.MethodPut, "/api/admin/draft", `{"path":"hero.title","value":"x"}`), token)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil), token)
	assert.Equal(t, http.StatusOK, rr.Code, "viewer should read stats")
}

func TestGalleryUploadLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "admin-1")

	rr := env.do(multipartRequest(t, http.MethodPost, "/api/admin/gallery",
		map[string]string{"title": "Sunset Villa", "description": "Golden hour"},
		&upload{name: "sunset.JPG", contentType: "image/jpeg", body: "jpeg-bytes"},
	), token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	image := decode(t, rr)["image"].(map[string]any)
	id := image["id"].(string)
	imageURL := image["image_url"].(string)
	assert.True(t, strings.HasSuffix(imageURL, ".jpg"), imageURL)
	assert.Equal(t, "admin-1", env.store.images[0].UpdatedBy)

	// Metadata-only edit keeps the stored image.
	rr = env.do(multipartRequest(t, http.MethodPatch, "/api/admin/gallery/"+id,
		map[string]string{"title": "Sunrise Villa"}, nil), token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, imageURL, decode(t, rr)["image"].(map[string]any)["image_url"])
	assert.Equal(t, "Sunrise Villa", env.store.images[0].Title)
	assert.Equal(t, imageURL, env.store.images[0].ImageURL)
	assert.Len(t, env.blobs.puts, 1)

	rr = env.do(httptest.NewRequest(http.MethodDelete, "/api/admin/gallery/"+id, nil), token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, env.store.images[0].IsActive)
	assert.Equal(t, imageURL, env.store.images[0].ImageURL)

	rr = env.do(httptest.NewRequest(http.MethodDelete, "/api/admin/gallery/missing", nil), token)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGalleryUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.fail = true

	rr := env.do(multipartRequest(t, http.MethodPost, "/api/admin/gallery",
		map[string]string{"title": "Sunset"},
		&upload{name: "a.png", contentType: "image/png", body: "png"},
	), env.token(t, "admin-1"))
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "UPLOAD_FAILED", decode(t, rr)["code"])
	assert.Empty(t, env.store.images, "no row should be inserted")
}

func TestGalleryUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "admin-1")

	rr := env.do(multipartRequest(t, http.MethodPost, "/api/admin/gallery",
		map[string]string{"title": "No file"}, nil), token)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "missing file")

	rr = env.do(multipartRequest(t, http.MethodPost, "/api/admin/gallery",
		map[string]string{"title": "Bad order", "sort_order": "first"},
		&upload{name: "a.png", contentType: "image/png", body: "png"}), token)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "bad sort order")

	rr = env.do(jsonRequest(http.MethodPost, "/api/admin/gallery", `{"title":"json"}`), token)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "non-multipart")
}

func TestGalleryUploadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.server.maxUpload = 1024

	rr := env.do(multipartRequest(t, http.MethodPost, "/api/admin/gallery",
		map[string]string{"title": "Huge"},
		&upload{name: "big.jpg", contentType: "image/jpeg", body: strings.Repeat("x", 4096)},
	), env.token(t, "admin-1"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestSearchUnavailableWithoutBackends(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/search?q=villa", nil), "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/nope", nil), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
