package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
	"github.com/wenwu/saas-platform/vpn-core/internal/config"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
	"github.com/wenwu/saas-platform/vpn-core/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// AuthService handles registration, login, email verification, password
// resets and profile access
type AuthService struct {
	cfg            *config.Config
	subscriberRepo *repository.SubscriberRepository
	otpService     *OTPService
}

// NewAuthService creates a new auth service
func NewAuthService(
	cfg *config.Config,
	subscriberRepo *repository.SubscriberRepository,
	otpService *OTPService,
) *AuthService {
	return &AuthService{
		cfg:            cfg,
		subscriberRepo: subscriberRepo,
		otpService:     otpService,
	}
}

// Claims is the JWT payload issued on login
type Claims struct {
	Handle    int64 `json:"handle"`
	Superuser bool  `json:"su,omitempty"`
	jwt.RegisteredClaims
}

// Register creates a subscriber account and mails a verification code.
// Accounts start unverified; login is refused until the email is confirmed.
func (s *AuthService) Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	sub := &models.Subscriber{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Email:      email,
		IsActive:   true,
		IsVerified: false,
	}
	if req.Phone != "" {
		sub.Phone = &req.Phone
	}
	if req.Country != "" {
		sub.Country = &req.Country
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}
	sub.PasswordHash = string(hash)

	if err := s.subscriberRepo.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.New(apperr.KindAlreadyExists, "email already registered")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create account", err)
	}

	log.Printf("[Auth] Subscriber registered: handle=%d", sub.Handle)

	if err := s.otpService.Issue(ctx, email, models.CodePurposeEmailVerify); err != nil {
		// Account exists either way; the client can ask for a resend
		log.Printf("[Auth] Failed to issue verification code for handle=%d: %v", sub.Handle, err)
	}

	return &models.RegisterResponse{
		SubscriberID: sub.ID,
		Handle:       sub.Handle,
		Email:        sub.Email,
		Message:      "Account created. Check your email for a verification code.",
	}, nil
}

// Login verifies credentials and returns a bearer token. Unknown emails and
// wrong passwords collapse into the same error so accounts can't be probed.
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResponse, error) {
	sub, err := s.subscriberRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn a hash comparison anyway to keep timing flat
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$12$invalidinvalidinvalidinvalidinvalidinvalidinvalidinval"), []byte(req.Password))
			return nil, apperr.New(apperr.KindUnauthenticated, "invalid email or password")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to look up account", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(sub.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid email or password")
	}

	if err := requireUsable(sub); err != nil {
		return nil, err
	}

	token, err := s.issueToken(sub)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to issue token", err)
	}

	return &models.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.cfg.JWT.AccessTTL.Seconds()),
	}, nil
}

// Refresh issues a fresh token for an authenticated subscriber, extending
// the session without a password round-trip
func (s *AuthService) Refresh(ctx context.Context, subscriberID string) (*models.TokenResponse, error) {
	sub, err := s.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	token, err := s.issueToken(sub)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to issue token", err)
	}

	return &models.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.cfg.JWT.AccessTTL.Seconds()),
	}, nil
}

// VerifyEmail consumes an email-verify code and flips the verified flag
func (s *AuthService) VerifyEmail(ctx context.Context, req *models.VerifyEmailRequest) error {
	if err := s.otpService.Verify(ctx, req.Email, models.CodePurposeEmailVerify, req.Code); err != nil {
		return err
	}

	sub, err := s.subscriberRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "account not found")
		}
		return apperr.Wrap(apperr.KindInternal, "failed to look up account", err)
	}

	if err := s.subscriberRepo.SetVerified(ctx, sub.ID); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to mark verified", err)
	}

	log.Printf("[Auth] Email verified: handle=%d", sub.Handle)
	return nil
}

// RequestPasswordReset mails a reset code. Unknown emails are acknowledged
// silently so the endpoint can't be used for enumeration.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := s.subscriberRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperr.Wrap(apperr.KindInternal, "failed to look up account", err)
	}
	return s.otpService.Issue(ctx, strings.ToLower(strings.TrimSpace(email)), models.CodePurposePasswordReset)
}

// ConfirmPasswordReset consumes a reset code and replaces the password
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, req *models.PasswordResetConfirm) error {
	if err := s.otpService.Verify(ctx, req.Email, models.CodePurposePasswordReset, req.Code); err != nil {
		return err
	}

	sub, err := s.subscriberRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "account not found")
		}
		return apperr.Wrap(apperr.KindInternal, "failed to look up account", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcryptCost)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}

	if err := s.subscriberRepo.SetPasswordHash(ctx, sub.ID, string(hash)); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to update password", err)
	}

	log.Printf("[Auth] Password reset completed: handle=%d", sub.Handle)
	return nil
}

// GetSubscriber loads the full subscriber row for downstream services
func (s *AuthService) GetSubscriber(ctx context.Context, subscriberID string) (*models.Subscriber, error) {
	sub, err := s.subscriberRepo.GetByID(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "account not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to look up account", err)
	}
	if err := requireUsable(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// requireUsable gates every authenticated operation on the account flags
func requireUsable(sub *models.Subscriber) error {
	if !sub.IsActive {
		return apperr.New(apperr.KindDisabled, "account is disabled")
	}
	if !sub.IsVerified {
		return apperr.New(apperr.KindUnverified, "email not verified")
	}
	return nil
}

// GetProfile returns the subscriber's own account view
func (s *AuthService) GetProfile(ctx context.Context, subscriberID string) (*models.ProfileResponse, error) {
	sub, err := s.subscriberRepo.GetByID(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "account not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to look up account", err)
	}
	return profileResponse(sub), nil
}

// UpdateProfile updates mutable profile fields and returns the new view
func (s *AuthService) UpdateProfile(ctx context.Context, subscriberID string, req *models.UpdateProfileRequest) (*models.ProfileResponse, error) {
	var phone, country *string
	if req.Phone != "" {
		phone = &req.Phone
	}
	if req.Country != "" {
		country = &req.Country
	}

	if err := s.subscriberRepo.UpdateProfile(ctx, subscriberID, req.Name, phone, country); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "account not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to update profile", err)
	}

	return s.GetProfile(ctx, subscriberID)
}

// UpdateStatus sets the account flags; operator use only
func (s *AuthService) UpdateStatus(ctx context.Context, subscriberID string, active, premium, superuser bool) error {
	if err := s.subscriberRepo.UpdateStatus(ctx, subscriberID, active, premium, superuser); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "account not found")
		}
		return apperr.Wrap(apperr.KindInternal, "failed to update status", err)
	}
	return nil
}

// ParseToken validates a bearer token and returns its claims
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != s.cfg.JWT.Algorithm {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return []byte(s.cfg.JWT.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid or expired token")
	}
	return claims, nil
}

func (s *AuthService) issueToken(sub *models.Subscriber) (string, error) {
	now := time.Now()
	claims := &Claims{
		Handle:    sub.Handle,
		Superuser: sub.IsSuperuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessTTL)),
		},
	}

	method := jwt.GetSigningMethod(s.cfg.JWT.Algorithm)
	token := jwt.NewWithClaims(method, claims)
	return token.SignedString([]byte(s.cfg.JWT.SecretKey))
}

func profileResponse(sub *models.Subscriber) *models.ProfileResponse {
	resp := &models.ProfileResponse{
		SubscriberID: sub.ID,
		Handle:       sub.Handle,
		Name:         sub.Name,
		Email:        sub.Email,
		IsPremium:    sub.IsPremium,
		IsVerified:   sub.IsVerified,
		CreatedAt:    sub.CreatedAt.Format(time.RFC3339),
	}
	if sub.Phone != nil {
		resp.Phone = *sub.Phone
	}
	if sub.Country != nil {
		resp.Country = *sub.Country
	}
	return resp
}
