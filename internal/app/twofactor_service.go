/**
 * @description
 * TwoFactorService manages TOTP-based second factors: secret generation with
 * single-use recovery codes, enabling after a verified code, and disabling.
 *
 * @dependencies
 * - github.com/pquerna/otp: RFC 6238 TOTP generation and validation.
 */
package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	recoveryCodeCount    = 8
	recoveryCodeLength   = 10
	recoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	totpPeriodSeconds    = 30
	totpSkewSteps        = 1
)

var totpValidateOpts = totp.ValidateOpts{
	Period:    totpPeriodSeconds,
	Skew:      totpSkewSteps,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

type TwoFactorService struct {
	repo           store.Repository
	limiter        RateLimiter
	limitPerMinute int
	issuer         string
	now            func() time.Time
}

func NewTwoFactorService(repo store.Repository, issuer string) *TwoFactorService {
	return &TwoFactorService{
		repo:   repo,
		issuer: issuer,
		now:    time.Now,
	}
}

// SetRateLimiter bounds verify/disable attempts per principal.
func (s *TwoFactorService) SetRateLimiter(limiter RateLimiter, perMinute int) {
	s.limiter = limiter
	s.limitPerMinute = perMinute
}

// Setup generates a new secret and recovery codes. Only digests of the codes are stored;
// the cleartext codes and the secret are returned once.
func (s *TwoFactorService) Setup(ctx context.Context, principal *domain.Principal) (*domain.TwoFactorSetup, error) {
	if principal == nil || principal.ID == "" {
		return nil, ErrUnauthorized
	}

	record, err := s.repo.GetTwoFactor(ctx, principal.ID)
	if err != nil && !errors.Is(err, store.ErrTwoFactorNotFound) {
		return nil, upstream("load two-factor state", err)
	}
	if record != nil && record.Enabled {
		return nil, newValidationError("two_factor", "Two-factor authentication is already enabled")
	}

	accountName := principal.Email
	if accountName == "" {
		accountName = principal.ID
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Period:      totpPeriodSeconds,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, upstream("generate totp secret", err)
	}

	codes, err := generateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, upstream("generate recovery codes", err)
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = hashRecoveryCode(code)
	}

	if err := s.repo.SaveTwoFactorSetup(ctx, principal.ID, hashes); err != nil {
		return nil, upstream("store recovery codes", err)
	}

	log.Printf("level=info component=two_factor op=setup user_id=%s outcome=secret_issued", principal.ID)
	return &domain.TwoFactorSetup{
		Secret:        key.Secret(),
		OTPAuthURL:    key.URL(),
		RecoveryCodes: codes,
	}, nil
}

// Verify checks token against the supplied secret and, on success, enables 2FA with it.
// It is rejected while 2FA is already enabled.
func (s *TwoFactorService) Verify(ctx context.Context, principal *domain.Principal, req domain.VerifyTwoFactorRequest) (*domain.TwoFactorStatus, error) {
	if principal == nil || principal.ID == "" {
		return nil, ErrUnauthorized
	}
	token := strings.TrimSpace(req.Token)
	secret := strings.ToUpper(strings.TrimSpace(req.Secret))
	if token == "" {
		return nil, newValidationError("token", "Token is required")
	}
	if secret == "" {
		return nil, newValidationError("secret", "Secret is required")
	}
	if err := enforceRateLimit(ctx, s.limiter, rateLimitScopeTwoFactor, principal.ID, s.limitPerMinute); err != nil {
		return nil, err
	}

	// An enabled secret is only replaced through Disable, which checks the stored secret.
	record, err := s.repo.GetTwoFactor(ctx, principal.ID)
	if err != nil && !errors.Is(err, store.ErrTwoFactorNotFound) {
		return nil, upstream("load two-factor state", err)
	}
	if record != nil && record.Enabled {
		log.Printf("level=info component=two_factor op=verify user_id=%s outcome=already_enabled", principal.ID)
		return nil, newValidationError("two_factor", "Two-factor authentication is already enabled")
	}

	valid, err := totp.ValidateCustom(token, secret, s.now().UTC(), totpValidateOpts)
	if err != nil && !errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return nil, newValidationError("secret", "Secret is invalid")
	}
	if !valid {
		log.Printf("level=info component=two_factor op=verify user_id=%s outcome=invalid_token", principal.ID)
		return nil, ErrInvalidToken
	}

	if err := s.repo.EnableTwoFactor(ctx, principal.ID, secret); err != nil {
		return nil, upstream("enable two-factor", err)
	}
	log.Printf("level=info component=two_factor op=verify user_id=%s outcome=enabled", principal.ID)
	return &domain.TwoFactorStatus{Enabled: true}, nil
}

// Disable turns 2FA off after validating a TOTP code against the stored secret.
// An unused recovery code is accepted in place of the TOTP code.
func (s *TwoFactorService) Disable(ctx context.Context, principal *domain.Principal, req domain.DisableTwoFactorRequest) (*domain.TwoFactorStatus, error) {
	if principal == nil || principal.ID == "" {
		return nil, ErrUnauthorized
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, newValidationError("token", "Token is required")
	}
	if err := enforceRateLimit(ctx, s.limiter, rateLimitScopeTwoFactor, principal.ID, s.limitPerMinute); err != nil {
		return nil, err
	}

	record, err := s.repo.GetTwoFactor(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, store.ErrTwoFactorNotFound) {
			return nil, newValidationError("two_factor", "Two-factor authentication is not enabled")
		}
		return nil, upstream("load two-factor state", err)
	}
	if !record.Enabled || record.Secret == nil || *record.Secret == "" {
		return nil, newValidationError("two_factor", "Two-factor authentication is not enabled")
	}

	valid, _ := totp.ValidateCustom(token, *record.Secret, s.now().UTC(), totpValidateOpts)
	if !valid && !matchesRecoveryCode(token, record.RecoveryCodeHashes) {
		log.Printf("level=info component=two_factor op=disable user_id=%s outcome=invalid_token", principal.ID)
		return nil, ErrInvalidToken
	}

	if err := s.repo.DisableTwoFactor(ctx, principal.ID); err != nil {
		return nil, upstream("disable two-factor", err)
	}
	log.Printf("level=info component=two_factor op=disable user_id=%s outcome=disabled", principal.ID)
	return &domain.TwoFactorStatus{Enabled: false}, nil
}

// Status reports whether 2FA is enabled for the principal.
func (s *TwoFactorService) Status(ctx context.Context, principal *domain.Principal) (*domain.TwoFactorStatus, error) {
	if principal == nil || principal.ID == "" {
		return nil, ErrUnauthorized
	}
	record, err := s.repo.GetTwoFactor(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, store.ErrTwoFactorNotFound) {
			return &domain.TwoFactorStatus{Enabled: false}, nil
		}
		return nil, upstream("load two-factor state", err)
	}
	return &domain.TwoFactorStatus{Enabled: record.Enabled}, nil
}

func generateRecoveryCodes(n int) ([]string, error) {
	alphabetSize := big.NewInt(int64(len(recoveryCodeAlphabet)))
	codes := make([]string, 0, n)
	for len(codes) < n {
		var b strings.Builder
		for i := 0; i < recoveryCodeLength; i++ {
			if i == recoveryCodeLength/2 {
				b.WriteByte('-')
			}
			idx, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return nil, err
			}
			b.WriteByte(recoveryCodeAlphabet[idx.Int64()])
		}
		codes = append(codes, b.String())
	}
	return codes, nil
}

func normalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// hashRecoveryCode returns the unsalted SHA-256 hex digest of a normalized code.
func hashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeRecoveryCode(code)))
	return hex.EncodeToString(sum[:])
}

func matchesRecoveryCode(candidate string, hashes []string) bool {
	if len(normalizeRecoveryCode(candidate)) != recoveryCodeLength {
		return false
	}
	digest := []byte(hashRecoveryCode(candidate))
	matched := false
	for _, stored := range hashes {
		if subtle.ConstantTimeCompare(digest, []byte(stored)) == 1 {
			matched = true
		}
	}
	return matched
}
