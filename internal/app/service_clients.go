package app

import (
	"context"
	"net/http"
	"strings"

	"casedesk/api/internal/authpw"
	"casedesk/api/internal/rbac"
	"casedesk/api/internal/search"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

type ClientInput struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"omitempty,max=40"`
	Address string `json:"address" validate:"omitempty,max=500"`
}

func clientPayload(user store.User) map[string]any {
	return map[string]any{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"phone":         user.Phone,
		"address":       user.Address,
		"emailVerified": user.IsEmailVerified,
		"caseCount":     user.CaseCount,
		"createdAt":     user.CreatedAt,
		"updatedAt":     user.UpdatedAt,
	}
}

func (s *Service) ListClients(ctx context.Context, session Session, query string, page, pageSize int) (map[string]any, error) {
	if err := s.require(session, rbac.ActionManageClients); err != nil {
		return nil, err
	}
	limit, offset, page, pageSize := pageBounds(page, pageSize)
	users, total, err := s.store.ListClients(ctx, strings.TrimSpace(query), limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, clientPayload(user))
	}
	return map[string]any{
		"clients":  items,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	}, nil
}

// loadClient returns a user with the client role. Clients may only load themselves.
func (s *Service) loadClient(ctx context.Context, session Session, clientID string) (store.User, error) {
	if !rbac.IsStaff(session.Role) && clientID != session.UserID {
		return store.User{}, notFound("Client")
	}
	user, err := s.store.GetUserByID(ctx, clientID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.User{}, notFound("Client")
		}
		return store.User{}, err
	}
	if rbac.Normalize(user.Role) != rbac.RoleClient {
		return store.User{}, notFound("Client")
	}
	return user, nil
}

func (s *Service) GetClient(ctx context.Context, session Session, clientID string) (map[string]any, error) {
	user, err := s.loadClient(ctx, session, clientID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountClientCases(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.CaseCount = count
	return clientPayload(user), nil
}

// CreateClient registers a client record on behalf of the practice. The
// record has no password until the client completes a password reset.
func (s *Service) CreateClient(ctx context.Context, session Session, input ClientInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionManageClients); err != nil {
		return nil, err
	}
	input.Email = authpw.NormalizeEmail(input.Email)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	exists, err := s.store.EmailExists(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	}

	user := store.User{
		ID:      util.NewID("usr"),
		Name:    strings.TrimSpace(input.Name),
		Email:   input.Email,
		Role:    string(rbac.RoleClient),
		Phone:   strings.TrimSpace(input.Phone),
		Address: strings.TrimSpace(input.Address),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	util.Logger(ctx).Info("client created", "client_id", user.ID, "by", session.UserID)
	s.indexClient(user)
	created, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return clientPayload(created), nil
}

func (s *Service) UpdateClient(ctx context.Context, session Session, clientID string, input ClientInput) (map[string]any, error) {
	// Clients may edit their own contact details.
	if session.UserID != clientID {
		if err := s.require(session, rbac.ActionManageClients); err != nil {
			return nil, err
		}
	}
	input.Email = authpw.NormalizeEmail(input.Email)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	user, err := s.loadClient(ctx, session, clientID)
	if err != nil {
		return nil, err
	}
	if input.Email != user.Email {
		exists, err := s.store.EmailExists(ctx, input.Email)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
	}
	user.Name = strings.TrimSpace(input.Name)
	user.Email = input.Email
	user.Phone = strings.TrimSpace(input.Phone)
	user.Address = strings.TrimSpace(input.Address)
	if err := s.store.UpdateUserProfile(ctx, user); err != nil {
		return nil, err
	}
	s.indexClient(user)
	return s.GetClient(ctx, session, clientID)
}

func (s *Service) indexClient(user store.User) {
	if s.search == nil {
		return
	}
	s.search.IndexClient(search.ClientRecord{ID: user.ID, Name: user.Name, Email: user.Email, Phone: user.Phone})
}

func (s *Service) indexClientByID(ctx context.Context, userID string) {
	if s.search == nil {
		return
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		util.Logger(ctx).Warn("load client for indexing", "user_id", userID, "error", err)
		return
	}
	s.indexClient(user)
}
