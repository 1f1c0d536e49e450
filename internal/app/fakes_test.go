package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kiritara/api/internal/config"
	"kiritara/api/internal/content"
	"kiritara/api/internal/gallery"
	"kiritara/api/internal/store"
	"kiritara/api/internal/submissions"
)

// fakeStore is one in-memory database behind every client the service uses.
type fakeStore struct {
	mu       sync.Mutex
	content  map[string]json.RawMessage
	images   []store.GalleryImage
	leads    []store.Submission
	admins   map[string]store.AdminUser
	writeErr error
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err, "hash password")
	return &fakeStore{
		content: map[string]json.RawMessage{"hero": json.RawMessage(`{"title":"Live title","subtitle":"Live subtitle"}`)},
		admins: map[string]store.AdminUser{
			"admin-1":  {ID: "admin-1", Email: "admin@kiritara.test", DisplayName: "Admin", Role: "admin", PasswordHash: string(hash)},
			"viewer-1": {ID: "viewer-1", Email: "viewer@kiritara.test", DisplayName: "Viewer", Role: "viewer", PasswordHash: string(hash)},
		},
	}
}

func (f *fakeStore) ListContent(context.Context) ([]store.ContentEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.ContentEntry, 0, len(f.content))
	for k, v := range f.content {
		out = append(out, store.ContentEntry{Key: k, Value: v})
	}
	return out, nil
}

func (f *fakeStore) UpsertContent(_ context.Context, entry store.ContentEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.content[entry.Key] = entry.Value
	return nil
}

func (f *fakeStore) ListActiveImages(context.Context) ([]store.GalleryImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.GalleryImage, 0)
	for _, img := range f.images {
		if img.IsActive {
			out = append(out, img)
		}
	}
	return out, nil
}

func (f *fakeStore) CountActiveImages(ctx context.Context) (int, error) {
	images, err := f.ListActiveImages(ctx)
	return len(images), err
}

func (f *fakeStore) InsertImage(_ context.Context, item store.GalleryImage) (store.GalleryImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return store.GalleryImage{}, f.writeErr
	}
	item.ID = fmt.Sprintf("img-%d", len(f.images)+1)
	item.CreatedAt = time.Now()
	f.images = append(f.images, item)
	return item, nil
}

func (f *fakeStore) UpdateImage(_ context.Context, id string, patch store.GalleryImagePatch, updatedBy string) (store.GalleryImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.images {
		if f.images[i].ID != id {
			continue
		}
		if patch.Title != nil {
			f.images[i].Title = *patch.Title
		}
		if patch.ImageURL != nil {
			f.images[i].ImageURL = *patch.ImageURL
		}
		f.images[i].UpdatedBy = updatedBy
		return f.images[i], nil
	}
	return store.GalleryImage{}, store.ErrNotFound
}

func (f *fakeStore) DeactivateImage(_ context.Context, id, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.images {
		if f.images[i].ID == id {
			f.images[i].IsActive = false
			f.images[i].UpdatedBy = updatedBy
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) InsertSubmission(_ context.Context, item store.Submission) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = fmt.Sprintf("sub-%d", len(f.leads)+1)
	item.CreatedAt = time.Now()
	f.leads = append(f.leads, item)
	return item, nil
}

func (f *fakeStore) ListSubmissions(context.Context, int) ([]store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Submission(nil), f.leads...), nil
}

func (f *fakeStore) SubmissionStats(context.Context, time.Time, string) (store.SubmissionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := store.SubmissionStats{Total: len(f.leads), ThisMonth: len(f.leads)}
	for _, lead := range f.leads {
		if strings.Contains(lead.InvestmentInterest, submissions.HighValueMarker) {
			stats.HighValueLeads++
		}
	}
	return stats, nil
}

func (f *fakeStore) GetAdminByEmail(_ context.Context, email string) (store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, admin := range f.admins {
		if strings.EqualFold(admin.Email, email) {
			return admin, nil
		}
	}
	return store.AdminUser{}, store.ErrNotFound
}

func (f *fakeStore) GetAdminByID(_ context.Context, id string) (store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	admin, ok := f.admins[id]
	if !ok {
		return store.AdminUser{}, store.ErrNotFound
	}
	return admin, nil
}

func (f *fakeStore) CreateAdmin(_ context.Context, user store.AdminUser) (store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = fmt.Sprintf("admin-%d", len(f.admins)+1)
	f.admins[user.ID] = user
	return user, nil
}

func (f *fakeStore) CountAdmins(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admins), nil
}

type fakeBlobs struct {
	mu   sync.Mutex
	puts []string
	fail bool
}

func (b *fakeBlobs) Put(_ context.Context, objectPath string, r io.Reader, _ int64, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", errors.New("bucket offline")
	}
	_, _ = io.Copy(io.Discard, r)
	b.puts = append(b.puts, objectPath)
	return "https://cdn.kiritara.test/" + objectPath, nil
}

type fakeRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (r *fakeRevocations) RevokeToken(_ context.Context, jti string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = true
	return nil
}

func (r *fakeRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked[jti], nil
}

type testEnv struct {
	server  *HTTPServer
	service *Service
	store   *fakeStore
	blobs   *fakeBlobs
	content *content.Client
	gallery *gallery.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore(t)
	blobs := &fakeBlobs{}

	contentClient := content.New(fs, nil)
	_, err := contentClient.FetchAll(context.Background())
	require.NoError(t, err, "fetch content")
	galleryClient := gallery.New(fs, blobs, nil)
	_, err = galleryClient.FetchActive(context.Background())
	require.NoError(t, err, "fetch gallery")

	svc := New(config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
	}, Deps{
		Admins:  fs,
		Revoked: &fakeRevocations{revoked: map[string]bool{}},
		Content: contentClient,
		Gallery: galleryClient,
		Leads:   submissions.NewService(fs, nil, nil),
		Checks: map[string]Check{
			"database": func(context.Context) error { return nil },
			"content":  LoadedCheck("site content", contentClient.Loaded),
			"gallery":  LoadedCheck("gallery", galleryClient.Loaded),
		},
	})

	return &testEnv{
		server:  NewHTTPServer(svc, "*", 1<<20),
		service: svc,
		store:   fs,
		blobs:   blobs,
		content: contentClient,
		gallery: galleryClient,
	}
}

func (e *testEnv) token(t *testing.T, adminID string) string {
	t.Helper()
	session, err := e.service.issueSession(e.store.admins[adminID])
	require.NoError(t, err, "issue session")
	return session.Token
}

func (e *testEnv) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type upload struct {
	name        string
	contentType string
	body        string
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, file *upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, file.name))
		header.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(header)
		require.NoError(t, err, "create part")
		_, _ = part.Write([]byte(file.body))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	return payload
}
