package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kiritara/api/internal/auth"
	"kiritara/api/internal/authpw"
	"kiritara/api/internal/blob"
	"kiritara/api/internal/content"
	"kiritara/api/internal/editor"
	"kiritara/api/internal/gallery"
	"kiritara/api/internal/search"
	"kiritara/api/internal/store"
	"kiritara/api/internal/submissions"
	"kiritara/api/internal/util"
)

const multipartMemory = 8 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	maxUpload  int64
}

func NewHTTPServer(service *Service, corsOrigin string, maxUpload int64) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, maxUpload: maxUpload}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failures := s.service.Ready(ctx)
		checks := map[string]any{}
		for name := range s.service.checks {
			checks[name] = map[string]any{"status": "ok"}
		}
		for name, err := range failures {
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
		}

		status, statusCode := "ready", http.StatusOK
		if len(failures) > 0 {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     len(failures) == 0,
			"status": status,
			"checks": checks,
		})
		return
	}

	// Public site

	if r.Method == http.MethodGet && r.URL.Path == "/api/content" {
		writeJSON(w, http.StatusOK, map[string]any{"content": s.service.Content()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/gallery" {
		writeJSON(w, http.StatusOK, map[string]any{"images": s.service.GalleryImages()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/contact" {
		var body submissions.Input
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		submission, err := s.service.SubmitContact(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"submission": submission})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		resp, err := s.service.Search(r.Context(), search.Query{
			Text:       r.URL.Query().Get("q"),
			FilterType: search.ResultType(r.URL.Query().Get("type")),
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// Sessions

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"email":         session.Email,
			"displayName":   session.DisplayName,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.Logout(r.Context(), session); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Admin

	if strings.HasPrefix(r.URL.Path, "/api/admin/") {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		r = r.WithContext(auth.WithIdentity(r.Context(), session.identity()))
		s.handleAdmin(w, r, session, splitPath(strings.TrimPrefix(r.URL.Path, "/api/admin/")))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "fields":
		writeJSON(w, http.StatusOK, map[string]any{"fields": s.service.DraftFields(session)})

	case r.Method == http.MethodPut && len(parts) == 1 && parts[0] == "draft":
		var body struct {
			Path  string `json:"path"`
			Value string `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetDraft(session, body.Path, body.Value); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": body.Path, "value": body.Value})

	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "draft" && parts[1] == "save":
		var body struct {
			Path string `json:"path"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		value, err := s.service.SaveDraft(r.Context(), session, body.Path)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": editor.Section(body.Path), "value": value})

	case r.Method == http.MethodDelete && len(parts) == 1 && parts[0] == "draft":
		s.service.ResetDraft(session)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "submissions":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.ListSubmissions(r.Context(), session, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submissions": items})

	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "stats":
		stats, err := s.service.SubmissionStats(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "gallery":
		s.handleAddImage(w, r, session)

	case r.Method == http.MethodPatch && len(parts) == 2 && parts[0] == "gallery":
		s.handleUpdateImage(w, r, session, parts[1])

	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "gallery":
		if err := s.service.DeleteImage(r.Context(), session, parts[1]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": session.Token,
		"userId":      session.UserID,
		"email":       session.Email,
		"displayName": session.DisplayName,
		"role":        session.Role,
		"expiresAt":   session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAddImage(w http.ResponseWriter, r *http.Request, session Session) {
	form, file, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	defer cleanupUpload(r, file)

	in := gallery.AddInput{Title: form.Value("title")}
	if desc := strings.TrimSpace(form.Value("description")); desc != "" {
		in.Description = &desc
	}
	sortOrder, err := form.Int("sort_order")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	in.SortOrder = sortOrder

	image, err := s.service.AddImage(r.Context(), session, in, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"image": image})
}

func (s *HTTPServer) handleUpdateImage(w http.ResponseWriter, r *http.Request, session Session, id string) {
	form, file, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	defer cleanupUpload(r, file)

	var in gallery.UpdateInput
	if title, present := form.Lookup("title"); present {
		in.Title = &title
	}
	if desc, present := form.Lookup("description"); present {
		in.Description = &desc
	}
	sortOrder, err := form.Int("sort_order")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	in.SortOrder = sortOrder

	image, err := s.service.UpdateImage(r.Context(), session, id, in, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"image": image})
}

type uploadForm struct {
	values map[string][]string
}

func (f uploadForm) Lookup(key string) (string, bool) {
	values, ok := f.values[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (f uploadForm) Value(key string) string {
	value, _ := f.Lookup(key)
	return value
}

// Int parses an optional integer field; absent or blank gives nil.
func (f uploadForm) Int(key string) (*int, error) {
	raw := strings.TrimSpace(f.Value(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &n, nil
}

// parseUpload reads a multipart body capped at maxUpload. The file part is
// optional; a nil file is returned when it is absent.
func (s *HTTPServer) parseUpload(w http.ResponseWriter, r *http.Request) (uploadForm, *gallery.File, bool) {
	if s.maxUpload > 0 {
		if r.ContentLength > s.maxUpload {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Upload exceeds size limit", map[string]any{"limit": s.maxUpload})
			return uploadForm{}, nil, false
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Upload exceeds size limit", map[string]any{"limit": tooLarge.Limit})
			return uploadForm{}, nil, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected multipart form data", nil)
		return uploadForm{}, nil, false
	}

	form := uploadForm{values: r.MultipartForm.Value}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return form, nil, true
	}
	file, err := openPart(headers[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read uploaded file", nil)
		return uploadForm{}, nil, false
	}
	return form, file, true
}

func cleanupUpload(r *http.Request, file *gallery.File) {
	if file != nil {
		if closer, ok := file.Body.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func openPart(header *multipart.FileHeader) (*gallery.File, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	return &gallery.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        f,
	}, nil
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		slog.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, gallery.ErrInvalid),
		errors.Is(err, submissions.ErrInvalid),
		errors.Is(err, editor.ErrNotEditable),
		errors.Is(err, editor.ErrUnknownSection),
		errors.Is(err, content.ErrEmptyKey):
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil
	case errors.Is(err, auth.ErrNoIdentity),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, blob.ErrUpload):
		return http.StatusBadGateway, "UPLOAD_FAILED", "Image upload failed", nil
	case errors.Is(err, store.ErrWrite):
		return http.StatusBadGateway, "WRITE_FAILED", "Could not save changes", nil
	case errors.Is(err, store.ErrFetch):
		return http.StatusServiceUnavailable, "FETCH_FAILED", "Could not load data", nil
	case errors.Is(err, search.ErrUnavailable):
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
