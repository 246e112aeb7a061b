package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"casedesk/api/internal/authpw"
	"casedesk/api/internal/util"
)

type SignUpInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Phone    string `json:"phone" validate:"omitempty,max=40"`
}

type SignInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ResetPasswordInput struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
}

func authError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrInvalidToken):
		return domainError(http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil)
	case errors.Is(err, authpw.ErrInvalidEmail):
		return invalidField("email", "must be a valid email address")
	case errors.Is(err, authpw.ErrWeakPassword):
		return invalidField("password", err.Error())
	case errors.Is(err, authpw.ErrMissingFields):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	default:
		return err
	}
}

func (s *Service) mailConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) publicLink(path, token string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (map[string]any, error) {
	input.Email = authpw.NormalizeEmail(input.Email)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	resp, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Name:     input.Name,
		Email:    input.Email,
		Password: input.Password,
		Phone:    input.Phone,
	})
	if err != nil {
		return nil, authError(err)
	}

	payload := map[string]any{
		"userId":  resp.User.ID,
		"message": "Please check your email to verify your account",
	}
	if s.mailConfigured() {
		if err := s.mail.SendVerificationEmail(resp.User.Email, resp.User.Name, s.publicLink("/verify-email", resp.VerificationToken)); err != nil {
			util.Logger(ctx).Warn("send verification email", "user_id", resp.User.ID, "error", err)
		}
	} else {
		// Without SMTP the token is handed back so local setups can verify.
		payload["devVerificationToken"] = resp.VerificationToken
		payload["message"] = "Account created. Verify your email to continue."
	}
	s.indexClientByID(ctx, resp.User.ID)
	return payload, nil
}

func (s *Service) SignIn(ctx context.Context, input SignInInput) (Session, error) {
	input.Email = authpw.NormalizeEmail(input.Email)
	if err := s.validateInput(input); err != nil {
		return Session{}, err
	}
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: input.Email, Password: input.Password})
	if err != nil {
		return Session{}, authError(err)
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) CheckEmail(ctx context.Context, email string) (map[string]any, error) {
	exists, err := s.authpw.CheckEmail(ctx, email)
	if err != nil {
		return nil, authError(err)
	}
	return map[string]any{"exists": exists}, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (map[string]any, error) {
	if err := s.authpw.VerifyEmail(ctx, token); err != nil {
		return nil, authError(err)
	}
	return map[string]any{"message": "Email verified successfully"}, nil
}

func (s *Service) ResendVerification(ctx context.Context, email string) (map[string]any, error) {
	user, token, err := s.authpw.ResendVerification(ctx, email)
	if err != nil {
		return nil, authError(err)
	}
	payload := map[string]any{
		"message": "If the account exists and is unverified, a new verification email has been sent",
	}
	if token == "" {
		return payload, nil
	}
	if s.mailConfigured() {
		if err := s.mail.SendVerificationEmail(user.Email, user.Name, s.publicLink("/verify-email", token)); err != nil {
			util.Logger(ctx).Warn("resend verification email", "user_id", user.ID, "error", err)
		}
	} else {
		payload["devVerificationToken"] = token
	}
	return payload, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) (map[string]any, error) {
	user, token, err := s.authpw.RequestPasswordReset(ctx, email)
	if err != nil {
		// The response never reveals whether the address exists.
		util.Logger(ctx).Error("request password reset", "error", err)
	}
	payload := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token == "" {
		return payload, nil
	}
	if s.mailConfigured() {
		if err := s.mail.SendPasswordResetEmail(user.Email, user.Name, s.publicLink("/reset-password", token)); err != nil {
			util.Logger(ctx).Warn("send password reset email", "user_id", user.ID, "error", err)
		}
	} else {
		payload["devResetToken"] = token
	}
	return payload, nil
}

func (s *Service) ResetPassword(ctx context.Context, input ResetPasswordInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if err := s.authpw.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: input.Token, NewPassword: input.NewPassword}); err != nil {
		return nil, authError(err)
	}
	return map[string]any{"message": "Password reset successfully"}, nil
}
