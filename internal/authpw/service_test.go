package authpw

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"casedesk/api/internal/store"
)

type resetRow struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string // email -> userID
	verifications map[string]string // token -> userID
	resets        map[string]resetRow
	markErr       error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]string),
		resets:        make(map[string]resetRow),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[strings.ToLower(email)]; ok {
		return m.users[userID], nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) EmailExists(ctx context.Context, email string) (bool, error) {
	_, ok := m.emailIndex[strings.ToLower(email)]
	return ok, nil
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[strings.ToLower(user.Email)] = user.ID
	if user.VerificationToken != "" {
		m.verifications[user.VerificationToken] = user.ID
	}
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	delete(m.verifications, user.VerificationToken)
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	m.users[userID] = user
	m.verifications[token] = userID
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	userID, ok := m.verifications[token]
	if !ok {
		return sql.ErrNoRows
	}
	user := m.users[userID]
	if user.VerificationExpiresAt != nil && time.Now().After(*user.VerificationExpiresAt) {
		return sql.ErrNoRows
	}
	user.IsEmailVerified = true
	user.VerificationToken = ""
	m.users[userID] = user
	delete(m.verifications, token)
	return nil
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return sql.ErrNoRows
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = resetRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", sql.ErrNoRows
}

func (m *mockUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if m.markErr != nil {
		return m.markErr
	}
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func signUpVerified(t *testing.T, svc *Service, email, password string) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{Name: "Test User", Email: email, Password: password})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}
	return resp
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Name:     "Test User",
			Email:    "  Test@Example.com ",
			Password: "password123",
			Phone:    "555-0100",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if resp.User.ID == "" || !strings.HasPrefix(resp.User.ID, "usr_") {
			t.Errorf("expected usr_ id, got %q", resp.User.ID)
		}
		if resp.User.Email != "test@example.com" {
			t.Errorf("expected normalized email, got %q", resp.User.Email)
		}
		if resp.User.Role != "client" {
			t.Errorf("expected client role, got %q", resp.User.Role)
		}
		if resp.VerificationToken == "" {
			t.Error("expected VerificationToken to be set")
		}
		if resp.User.VerificationExpiresAt == nil {
			t.Error("expected verification expiry to be set")
		}
		if !resp.RequiresEmailVerify {
			t.Error("expected RequiresEmailVerify to be true")
		}
		if resp.User.PasswordHash == "password123" {
			t.Error("password stored in clear text")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Name: "Other", Email: "TEST@example.com", Password: "password123"})
		if !errors.Is(err, ErrEmailTaken) {
			t.Errorf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Name: "Test", Email: "test2@example.com", Password: "short"})
		if !errors.Is(err, ErrWeakPassword) {
			t.Errorf("expected ErrWeakPassword, got %v", err)
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Name: "Test", Email: "not-an-email", Password: "password123"})
		if !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("expected ErrInvalidEmail, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{})
		if !errors.Is(err, ErrMissingFields) {
			t.Errorf("expected ErrMissingFields, got %v", err)
		}
	})
}

func TestCheckEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())
	signUpVerified(t, svc, "known@example.com", "password123")

	exists, err := svc.CheckEmail(ctx, "KNOWN@example.com")
	if err != nil || !exists {
		t.Fatalf("expected known email to exist, got %v %v", exists, err)
	}
	exists, err = svc.CheckEmail(ctx, "new@example.com")
	if err != nil || exists {
		t.Fatalf("expected new email to be free, got %v %v", exists, err)
	}
	if _, err := svc.CheckEmail(ctx, "bogus"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)
	signUpVerified(t, svc, "test@example.com", "password123")

	t.Run("successful sign in", func(t *testing.T) {
		signInResp, err := svc.SignIn(ctx, SignInRequest{Email: "Test@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if signInResp.User.Email != "test@example.com" {
			t.Errorf("expected email test@example.com, got %s", signInResp.User.Email)
		}
		if signInResp.RequiresVerify {
			t.Error("expected RequiresVerify to be false for verified user")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "wrongpassword"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "nonexistent@example.com", Password: "password123"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unverified email", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{Name: "Unverified", Email: "unverified@example.com", Password: "password123"}); err != nil {
			t.Fatalf("sign up: %v", err)
		}

		resp, err := svc.SignIn(ctx, SignInRequest{Email: "unverified@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.RequiresVerify {
			t.Error("expected RequiresVerify to be true for unverified user")
		}
	})

	t.Run("unverified email with wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "unverified@example.com", Password: "nope-nope"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("client record without password", func(t *testing.T) {
		_ = mockStore.CreateUser(ctx, store.User{ID: "usr_nopw", Name: "Walk In", Email: "walkin@example.com", Role: "client", IsEmailVerified: true})
		_, err := svc.SignIn(ctx, SignInRequest{Email: "walkin@example.com", Password: "anything1"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{Name: "Test User", Email: "test@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		user, _ := mockStore.GetUserByID(ctx, resp.User.ID)
		if !user.IsEmailVerified {
			t.Error("expected user to be verified")
		}
	})

	t.Run("token is single use", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, resp.VerificationToken); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, "invalid-token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, ""); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestResendVerification(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	first, err := svc.SignUp(ctx, SignUpRequest{Name: "Pending", Email: "pending@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	user, token, err := svc.ResendVerification(ctx, "pending@example.com")
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if token == "" || token == first.VerificationToken {
		t.Fatalf("expected a fresh token, got %q", token)
	}
	if user.ID != first.User.ID {
		t.Fatalf("expected user %s, got %s", first.User.ID, user.ID)
	}
	if err := svc.VerifyEmail(ctx, first.VerificationToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old token to be replaced, got %v", err)
	}
	if err := svc.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("verify with new token: %v", err)
	}

	_, token, err = svc.ResendVerification(ctx, "pending@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected no token for verified user, got %q %v", token, err)
	}
	_, token, err = svc.ResendVerification(ctx, "ghost@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected silent no-op for unknown user, got %q %v", token, err)
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)
	signUpVerified(t, svc, "test@example.com", "password123")

	t.Run("request reset for existing user", func(t *testing.T) {
		user, token, err := svc.RequestPasswordReset(ctx, "test@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "" {
			t.Error("expected token to be generated")
		}
		if user.Email != "test@example.com" {
			t.Errorf("expected user returned, got %+v", user)
		}
	})

	t.Run("request reset for non-existent user - no error", func(t *testing.T) {
		_, token, err := svc.RequestPasswordReset(ctx, "nonexistent@example.com")
		if err != nil {
			t.Errorf("expected no error for non-existent user, got: %v", err)
		}
		if token != "" {
			t.Errorf("expected no token, got %q", token)
		}
	})

	t.Run("reset password with valid token", func(t *testing.T) {
		_, token, _ := svc.RequestPasswordReset(ctx, "test@example.com")

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword123"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "password123"}); err == nil {
			t.Error("expected old password to not work")
		}
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "newpassword123"}); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "another-pass"}); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected used token to be rejected, got %v", err)
		}
	})

	t.Run("mark used failure does not fail reset", func(t *testing.T) {
		_, token, _ := svc.RequestPasswordReset(ctx, "test@example.com")
		mockStore.markErr = errors.New("db hiccup")
		defer func() { mockStore.markErr = nil }()

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "third-password"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("reset with invalid token", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "invalid-token", NewPassword: "newpassword123"})
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("reset with short password", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "some-token", NewPassword: "short"})
		if !errors.Is(err, ErrWeakPassword) {
			t.Errorf("expected ErrWeakPassword, got %v", err)
		}
	})
}

func TestHashPassword(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	hash, err := HashPassword("long-enough")
	if err != nil || hash == "" || hash == "long-enough" {
		t.Fatalf("unexpected hash result %q %v", hash, err)
	}
}
