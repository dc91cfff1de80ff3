package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
	"github.com/wenwu/saas-platform/vpn-core/internal/client"
	"github.com/wenwu/saas-platform/vpn-core/internal/config"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
	"github.com/wenwu/saas-platform/vpn-core/internal/repository"
)

// OTPService issues and verifies one-time codes for email verification and
// password resets
type OTPService struct {
	cfg        *config.Config
	codeRepo   *repository.CodeRepository
	mailClient *client.MailClient
}

// NewOTPService creates a new OTP service
func NewOTPService(cfg *config.Config, codeRepo *repository.CodeRepository, mailClient *client.MailClient) *OTPService {
	return &OTPService{
		cfg:        cfg,
		codeRepo:   codeRepo,
		mailClient: mailClient,
	}
}

// Issue generates a fresh code for (email, purpose), stores it and mails it.
// Issuing again invalidates any previous unconsumed code for the same pair.
// Mail delivery is best-effort; a relay outage does not fail the call.
func (s *OTPService) Issue(ctx context.Context, email, purpose string) error {
	code, err := generateNumericCode(models.CodeDigits)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to generate code", err)
	}

	record := &models.VerificationCode{
		ID:        uuid.New().String(),
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(s.cfg.OTP.TTL),
	}

	if err := s.codeRepo.Issue(ctx, record); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to store code", err)
	}

	if err := s.mailClient.SendVerificationCode(ctx, email, code, purpose); err != nil {
		// 日志脱敏: 不记录验证码本身
		log.Printf("[OTP] Failed to mail code for purpose=%s: %v", purpose, err)
	}

	return nil
}

// Verify checks a submitted code and consumes it on success. Three wrong
// attempts invalidate the code; the caller must request a new one.
func (s *OTPService) Verify(ctx context.Context, email, purpose, submitted string) error {
	record, err := s.codeRepo.GetUnconsumed(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindInvalidInput, "invalid or expired code")
		}
		return apperr.Wrap(apperr.KindInternal, "failed to look up code", err)
	}

	if record.Expired(time.Now()) {
		return apperr.New(apperr.KindInvalidInput, "invalid or expired code")
	}

	// Constant-time compare so timing doesn't leak digit prefixes
	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(submitted)) != 1 {
		attempts, ferr := s.codeRepo.RecordFailure(ctx, record.ID, models.CodeMaxAttempts)
		if ferr != nil && !errors.Is(ferr, repository.ErrNotFound) {
			log.Printf("[OTP] Failed to record code failure: %v", ferr)
		}
		if attempts >= models.CodeMaxAttempts {
			return apperr.New(apperr.KindInvalidInput, "too many failed attempts, request a new code")
		}
		return apperr.New(apperr.KindInvalidInput, "invalid or expired code")
	}

	if err := s.codeRepo.Consume(ctx, record.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race with a concurrent verify
			return apperr.New(apperr.KindInvalidInput, "invalid or expired code")
		}
		return apperr.Wrap(apperr.KindInternal, "failed to consume code", err)
	}

	return nil
}

// generateNumericCode returns a zero-padded random code of the given length
func generateNumericCode(digits int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < digits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
