package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"casedesk/api/internal/auth"
	"casedesk/api/internal/authpw"
	"casedesk/api/internal/config"
	"casedesk/api/internal/email"
	"casedesk/api/internal/export"
	"casedesk/api/internal/gitrepo"
	"casedesk/api/internal/meeting"
	"casedesk/api/internal/rbac"
	"casedesk/api/internal/search"
	"casedesk/api/internal/storage"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         rbac.Role
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is the relational storage the service runs on.
type DataStore interface {
	Ping(context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	EmailExists(context.Context, string) (bool, error)
	CreateUser(context.Context, store.User) error
	UpdateUserProfile(context.Context, store.User) error
	UpdateUserVerificationToken(context.Context, string, string, time.Time) error
	VerifyUserEmail(context.Context, string) error
	UpdateUserPassword(context.Context, string, string) error
	CreatePasswordReset(context.Context, string, string, time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error
	ListClients(context.Context, string, int, int) ([]store.User, int, error)
	CountClientCases(context.Context, string) (int, error)

	ListCases(context.Context, store.CaseFilter) ([]store.Case, int, error)
	GetCase(context.Context, string) (store.Case, error)
	InsertCase(context.Context, store.Case) error
	UpdateCase(context.Context, store.Case) error
	UpdateCaseStatus(ctx context.Context, caseID, from, to string, previous *string) error
	DeleteCase(context.Context, string) error

	ListDocuments(context.Context, string, bool) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	SetDocumentArchived(context.Context, string, bool) error
	DeleteDocument(context.Context, string) error

	ListAppointments(context.Context, store.AppointmentFilter) ([]store.Appointment, error)
	GetAppointment(context.Context, string) (store.Appointment, error)
	InsertAppointment(context.Context, store.Appointment) error
	UpdateAppointment(context.Context, store.Appointment) error
	DeleteAppointment(context.Context, string) error

	ListTemplates(context.Context, string) ([]store.Template, error)
	GetTemplate(context.Context, string) (store.Template, error)
	InsertTemplate(context.Context, store.Template) error
	UpdateTemplate(context.Context, store.Template) error
	DeleteTemplate(context.Context, string) error

	ListNotes(context.Context, string) ([]store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	InsertNote(context.Context, store.Note) error
	DeleteNote(context.Context, string) error
}

// SessionStore keeps refresh tokens and revoked access tokens. Both the
// Postgres store and the Redis store satisfy it.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type Mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendAppointmentConfirmation(to string, data email.AppointmentData) error
	SendAppointmentCancellation(to string, data email.AppointmentData) error
}

type DocumentRenderer interface {
	Render(ctx context.Context, doc export.Document, format export.Format) (*export.Result, error)
}

// TemplateHistory versions template content.
type TemplateHistory interface {
	Commit(templateID string, content gitrepo.Content, author, message string) (store.CommitInfo, error)
	History(templateID string, limit int) ([]store.CommitInfo, error)
	Revision(templateID, hash string) (gitrepo.Content, store.CommitInfo, error)
	Remove(templateID string) error
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexCase(search.CaseRecord)
	IndexClient(search.ClientRecord)
	IndexDocument(search.DocumentRecord)
	DeleteCase(string)
	DeleteDocument(string)
}

// Deps carries the collaborators built in main.
type Deps struct {
	Store    DataStore
	Sessions SessionStore
	Objects  storage.ObjectStore
	Meetings meeting.Provider
	Mail     Mailer
	Renderer DocumentRenderer
	History  TemplateHistory
	Search   Searcher
}

type Service struct {
	cfg      config.Config
	store    DataStore
	sessions SessionStore
	objects  storage.ObjectStore
	meetings meeting.Provider
	mail     Mailer
	renderer DocumentRenderer
	history  TemplateHistory
	search   Searcher
	authpw   *authpw.Service
	validate *validator.Validate
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		if fallback, ok := deps.Store.(SessionStore); ok {
			sessions = fallback
		}
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: sessions,
		objects:  deps.Objects,
		meetings: deps.Meetings,
		mail:     deps.Mail,
		renderer: deps.Renderer,
		history:  deps.History,
		search:   deps.Search,
		authpw:   authpw.NewService(deps.Store),
		validate: newValidator(),
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) require(session Session, action rbac.Action) error {
	if !rbac.Can(session.Role, action) {
		return forbidden()
	}
	return nil
}

// Sessions

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Redis only records the owner id; reload so renamed or re-roled users
	// get fresh claims.
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Role:         rbac.Normalize(user.Role),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      rbac.Normalize(user.Role),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	logger := util.Logger(ctx)
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			logger.Warn("revoke access token", "user_id", session.UserID, "error", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			logger.Warn("revoke refresh session", "user_id", session.UserID, "error", err)
		}
	}
	return nil
}

func (s *Service) SessionPayload(session Session) map[string]any {
	return map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"userName":      session.UserName,
		"email":         session.Email,
		"role":          session.Role,
	}
}

// Object access shared by uploads, downloads and generated documents.

func (s *Service) putObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if s.objects == nil {
		return domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	if err := s.objects.Put(ctx, key, body, size, contentType); err != nil {
		return fmt.Errorf("store object: %w", err)
	}
	return nil
}

// removeObject deletes a blob best-effort; failures are logged only.
func (s *Service) removeObject(ctx context.Context, key string) {
	if s.objects == nil || key == "" {
		return
	}
	if err := s.objects.Delete(ctx, key); err != nil {
		util.Logger(ctx).Warn("delete stored object", "key", key, "error", err)
	}
}

// Helpers

func pageBounds(page, pageSize int) (limit, offset, normalizedPage, normalizedSize int) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize, page, pageSize
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nilIfEmptyPtr(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func timeOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}
