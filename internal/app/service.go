package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kiritara/api/internal/auth"
	"kiritara/api/internal/authpw"
	"kiritara/api/internal/config"
	"kiritara/api/internal/content"
	"kiritara/api/internal/editor"
	"kiritara/api/internal/gallery"
	"kiritara/api/internal/rbac"
	"kiritara/api/internal/search"
	"kiritara/api/internal/store"
	"kiritara/api/internal/submissions"
	"kiritara/api/internal/util"
)

type Session struct {
	Token       string
	UserID      string
	Email       string
	DisplayName string
	Role        string
	JTI         string
	ExpiresAt   time.Time
}

func (s Session) identity() auth.Identity {
	return auth.Identity{UserID: s.UserID, Email: s.Email, Role: s.Role}
}

type adminStore interface {
	authpw.AdminStore
	GetAdminByID(ctx context.Context, id string) (store.AdminUser, error)
}

type revocationStore interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Check is one readiness check.
type Check func(ctx context.Context) error

// LoadedCheck fails until loaded reports a first successful fetch.
func LoadedCheck(what string, loaded func() bool) Check {
	return func(context.Context) error {
		if !loaded() {
			return fmt.Errorf("%s not loaded yet", what)
		}
		return nil
	}
}

type Deps struct {
	Admins  adminStore
	Revoked revocationStore
	Content *content.Client
	Gallery *gallery.Client
	Leads   *submissions.Service
	Search  *search.Service
	Checks  map[string]Check
}

type Service struct {
	cfg       config.Config
	admins    adminStore
	passwords *authpw.Service
	signer    *auth.Signer
	revoked   revocationStore
	content   *content.Client
	gallery   *gallery.Client
	drafts    *editor.Workspace
	leads     *submissions.Service
	search    *search.Service
	checks    map[string]Check
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		admins:    deps.Admins,
		passwords: authpw.NewService(deps.Admins),
		signer:    auth.NewSigner(cfg.TokenSecret, cfg.AccessTTL),
		revoked:   deps.Revoked,
		content:   deps.Content,
		gallery:   deps.Gallery,
		drafts:    editor.NewWorkspace(deps.Content),
		leads:     deps.Leads,
		search:    deps.Search,
		checks:    deps.Checks,
	}
}

// Bootstrap creates the configured first admin when no admin exists yet.
func (s *Service) Bootstrap(ctx context.Context) (bool, error) {
	if strings.TrimSpace(s.cfg.BootstrapAdminEmail) == "" {
		return false, nil
	}
	return s.passwords.Bootstrap(ctx, s.cfg.BootstrapAdminEmail, s.cfg.BootstrapAdminPassword)
}

// Ready runs every readiness check and returns the failures by name.
func (s *Service) Ready(ctx context.Context) map[string]error {
	failures := map[string]error{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

// Sessions

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	admin, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(admin)
}

func (s *Service) issueSession(admin store.AdminUser) (Session, error) {
	token, claims, err := s.signer.Issue(auth.Identity{
		UserID: admin.ID,
		Email:  admin.Email,
		Role:   admin.Role,
	}, util.NewID("jti"))
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      admin.ID,
		Email:       admin.Email,
		DisplayName: admin.DisplayName,
		Role:        admin.Role,
		JTI:         claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// SessionFromToken verifies token, checks it was not revoked and reloads the
// admin so role changes take effect on the next request.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	admin, err := s.admins.GetAdminByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      admin.ID,
		Email:       admin.Email,
		DisplayName: admin.DisplayName,
		Role:        admin.Role,
		JTI:         claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	s.drafts.Reset(session.UserID)
	if s.revoked == nil || session.JTI == "" {
		return nil
	}
	return s.revoked.RevokeToken(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Public site

func (s *Service) Content() content.Mapping {
	return s.content.Snapshot()
}

func (s *Service) GalleryImages() []gallery.Image {
	return s.gallery.Images()
}

func (s *Service) SubmitContact(ctx context.Context, in submissions.Input) (submissions.Submission, error) {
	return s.leads.Submit(ctx, in)
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, search.ErrUnavailable
	}
	return s.search.Search(ctx, q)
}

// Admin editing

func (s *Service) DraftFields(session Session) []editor.Field {
	return s.drafts.Fields(session.UserID)
}

func (s *Service) SetDraft(session Session, path, value string) error {
	if !s.Can(session.Role, rbac.ActionEditContent) {
		return errForbidden
	}
	return s.drafts.Set(session.UserID, path, value)
}

// SaveDraft writes the section holding path and returns the saved value.
func (s *Service) SaveDraft(ctx context.Context, session Session, path string) (any, error) {
	if !s.Can(session.Role, rbac.ActionEditContent) {
		return nil, errForbidden
	}
	ctx = auth.WithIdentity(ctx, session.identity())
	if err := s.drafts.Save(ctx, session.UserID, path); err != nil {
		return nil, err
	}
	value, _ := s.content.Get(editor.Section(path))
	return value, nil
}

func (s *Service) ResetDraft(session Session) {
	s.drafts.Reset(session.UserID)
}

// Gallery administration

func (s *Service) AddImage(ctx context.Context, session Session, in gallery.AddInput, file *gallery.File) (gallery.Image, error) {
	if !s.Can(session.Role, rbac.ActionManageGallery) {
		return gallery.Image{}, errForbidden
	}
	return s.gallery.Add(auth.WithIdentity(ctx, session.identity()), in, file)
}

func (s *Service) UpdateImage(ctx context.Context, session Session, id string, in gallery.UpdateInput, file *gallery.File) (gallery.Image, error) {
	if !s.Can(session.Role, rbac.ActionManageGallery) {
		return gallery.Image{}, errForbidden
	}
	return s.gallery.Update(auth.WithIdentity(ctx, session.identity()), id, in, file)
}

func (s *Service) DeleteImage(ctx context.Context, session Session, id string) error {
	if !s.Can(session.Role, rbac.ActionManageGallery) {
		return errForbidden
	}
	return s.gallery.Delete(auth.WithIdentity(ctx, session.identity()), id)
}

// Leads

func (s *Service) ListSubmissions(ctx context.Context, session Session, limit int) ([]submissions.Submission, error) {
	if !s.Can(session.Role, rbac.ActionViewSubmissions) {
		return nil, errForbidden
	}
	return s.leads.List(ctx, limit)
}

func (s *Service) SubmissionStats(ctx context.Context, session Session) (submissions.Stats, error) {
	if !s.Can(session.Role, rbac.ActionViewSubmissions) {
		return submissions.Stats{}, errForbidden
	}
	return s.leads.Stats(ctx)
}
