package twofactor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tutorlane/tutor-idm/pkg/account"
	idmerr "github.com/tutorlane/tutor-idm/pkg/errors"
	"github.com/tutorlane/tutor-idm/pkg/notification"
	"github.com/tutorlane/tutor-idm/pkg/password"
	"github.com/tutorlane/tutor-idm/pkg/pendingsession"
	"github.com/tutorlane/tutor-idm/pkg/utils"
)

const (
	TOTP_ISSUER = "tutorlane"
	PERIOD      = 30
	SKEW        = 1

	OTP_LENGTH = 6
	OTP_TTL    = 10 * time.Minute
)

// Service implements the 2FA flow: setup, challenge issuance, verification,
// backup codes, and the bridge to the login flow via pending sessions.
type Service struct {
	repo     account.Repository
	notifier *notification.NotificationManager
	hasher   password.Hasher
	sessions pendingsession.Store

	otpTTL          time.Duration
	backupCodeCount int
}

// Option configures a Service
type Option func(*Service)

// WithOtpTTL overrides the default one-time-passcode lifetime
func WithOtpTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.otpTTL = ttl
	}
}

// WithBackupCodeCount overrides the number of backup codes generated at
// setup confirmation
func WithBackupCodeCount(count int) Option {
	return func(s *Service) {
		s.backupCodeCount = count
	}
}

// NewService creates a new 2FA service
func NewService(
	repo account.Repository,
	notifier *notification.NotificationManager,
	hasher password.Hasher,
	sessions pendingsession.Store,
	opts ...Option,
) *Service {
	s := &Service{
		repo:            repo,
		notifier:        notifier,
		hasher:          hasher,
		sessions:        sessions,
		otpTTL:          OTP_TTL,
		backupCodeCount: BACKUP_CODE_COUNT,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupChallenge is the material returned by BeginSetup. For TOTP it carries
// the shared secret and provisioning URL; for EMAIL/SMS it acknowledges that
// a code was dispatched to the masked destination.
type SetupChallenge struct {
	Method            account.Method `json:"method"`
	Secret            string         `json:"secret,omitempty"`
	OtpauthURL        string         `json:"otpauth_url,omitempty"`
	MaskedDestination string         `json:"masked_destination,omitempty"`
}

// LoginChallenge acknowledges an issued login challenge.
type LoginChallenge struct {
	Method            account.Method `json:"method"`
	MaskedDestination string         `json:"masked_destination,omitempty"`
}

// BeginSetup starts 2FA enrollment for a method. The new configuration is
// persisted with enabled=false and replaces any prior method's secret
// material; only ConfirmSetup can flip enabled to true.
func (s *Service) BeginSetup(ctx context.Context, accountID uuid.UUID, method account.Method) (SetupChallenge, error) {
	if !account.ValidMethod(method) {
		return SetupChallenge{}, idmerr.Newf(idmerr.ErrCodeValidationFailed, "invalid 2FA method: %s", method).
			WithDetail("field", "method")
	}

	acct, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return SetupChallenge{}, s.storeError(err)
	}

	switch method {
	case account.MethodTOTP:
		key, err := generateTotpKey(acct.Email)
		if err != nil {
			slog.Error("Failed to generate totp secret", "accountId", accountID, "err", err)
			return SetupChallenge{}, idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to generate totp secret")
		}

		cfg := account.TwoFactorConfig{
			Method:     account.MethodTOTP,
			Enabled:    false,
			TotpSecret: key.Secret(),
		}
		if err := s.repo.SaveTwoFactor(ctx, accountID, cfg); err != nil {
			return SetupChallenge{}, s.storeError(err)
		}

		slog.Info("2FA setup started", "accountId", accountID, "method", method)
		return SetupChallenge{
			Method:     method,
			Secret:     key.Secret(),
			OtpauthURL: key.URL(),
		}, nil

	case account.MethodEmail, account.MethodSMS:
		pending, destination, err := s.newPendingOtp(acct, method)
		if err != nil {
			return SetupChallenge{}, err
		}

		cfg := account.TwoFactorConfig{
			Method:     method,
			Enabled:    false,
			PendingOtp: &pending,
		}
		if err := s.repo.SaveTwoFactor(ctx, accountID, cfg); err != nil {
			return SetupChallenge{}, s.storeError(err)
		}

		if err := s.dispatchPasscode(method, destination, pending.Code); err != nil {
			slog.Error("Failed to send 2FA passcode", "accountId", accountID, "method", method, "err", err)
			return SetupChallenge{}, idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to send passcode")
		}

		slog.Info("2FA setup started", "accountId", accountID, "method", method)
		return SetupChallenge{
			Method:            method,
			MaskedDestination: maskDestination(method, destination),
		}, nil

	default:
		return SetupChallenge{}, idmerr.Newf(idmerr.ErrCodeValidationFailed, "invalid 2FA method: %s", method).
			WithDetail("field", "method")
	}
}

// ConfirmSetup verifies a code against the pending method and, on success,
// enables 2FA and returns a fresh batch of plaintext backup codes. The
// plaintext is returned exactly once; only hashes are persisted.
func (s *Service) ConfirmSetup(ctx context.Context, accountID uuid.UUID, method account.Method, code string) ([]string, error) {
	if !account.ValidMethod(method) {
		return nil, idmerr.Newf(idmerr.ErrCodeValidationFailed, "invalid 2FA method: %s", method).
			WithDetail("field", "method")
	}

	acct, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, s.storeError(err)
	}

	if acct.TwoFactor.Method != method {
		return nil, idmerr.Newf(idmerr.ErrCodeValidationFailed, "no pending setup for method: %s", method).
			WithDetail("field", "method")
	}

	if acct.TwoFactor.Enabled {
		return nil, idmerr.New(idmerr.ErrCodeValidationFailed, "2FA is already enabled")
	}

	if err := s.verifyCode(ctx, acct, code); err != nil {
		return nil, err
	}

	plaintexts, hashes, err := s.generateBackupCodes()
	if err != nil {
		return nil, idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to generate backup codes")
	}

	cfg := acct.TwoFactor
	cfg.Enabled = true
	cfg.PendingOtp = nil
	cfg.BackupCodes = hashes
	if err := s.repo.SaveTwoFactor(ctx, accountID, cfg); err != nil {
		return nil, s.storeError(err)
	}

	// Best effort: a failed notice must not roll back the enablement
	s.notifyBackupCodesGenerated(acct)

	slog.Info("2FA enabled", "accountId", accountID, "method", method)
	return plaintexts, nil
}

// IssueLoginChallenge issues a fresh login challenge for the account's
// enabled method. TOTP requires no issuance; EMAIL/SMS store a new pending
// OTP (replacing any outstanding one) and dispatch it.
func (s *Service) IssueLoginChallenge(ctx context.Context, email string) (LoginChallenge, error) {
	acct, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return LoginChallenge{}, s.storeError(err)
	}

	if !acct.TwoFactor.Enabled || !account.ValidMethod(acct.TwoFactor.Method) {
		// Generic: do not confirm whether the account exists or what state
		// its 2FA configuration is in
		return LoginChallenge{}, idmerr.New(idmerr.ErrCodeNotFound, "no 2FA challenge available")
	}

	method := acct.TwoFactor.Method
	switch method {
	case account.MethodTOTP:
		// The authenticator app computes codes from the shared secret; there
		// is nothing to issue or persist
		return LoginChallenge{Method: method}, nil

	case account.MethodEmail, account.MethodSMS:
		pending, destination, err := s.newPendingOtp(acct, method)
		if err != nil {
			return LoginChallenge{}, err
		}

		if err := s.repo.SetPendingOtp(ctx, acct.ID, pending); err != nil {
			return LoginChallenge{}, s.storeError(err)
		}

		if err := s.dispatchPasscode(method, destination, pending.Code); err != nil {
			slog.Error("Failed to send 2FA passcode", "accountId", acct.ID, "method", method, "err", err)
			return LoginChallenge{}, idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to send passcode")
		}

		return LoginChallenge{
			Method:            method,
			MaskedDestination: maskDestination(method, destination),
		}, nil

	default:
		return LoginChallenge{}, idmerr.Newf(idmerr.ErrCodeInternal, "unhandled 2FA method: %s", method)
	}
}

// VerifyLoginChallenge checks a submitted code (or backup code) against the
// account's enabled method. On success it mints a pending session whose
// token the login flow exchanges for a full session.
func (s *Service) VerifyLoginChallenge(ctx context.Context, email, code string, isBackupCode bool) (string, error) {
	acct, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", s.storeError(err)
	}

	if !acct.TwoFactor.Enabled {
		return "", idmerr.New(idmerr.ErrCodeNotFound, "no 2FA challenge available")
	}

	if isBackupCode {
		if err := s.consumeBackupCode(ctx, acct, code); err != nil {
			return "", err
		}
	} else {
		if err := s.verifyCode(ctx, acct, code); err != nil {
			return "", err
		}
	}

	session, err := s.sessions.Create(ctx, acct.ID)
	if err != nil {
		slog.Error("Failed to create pending session", "accountId", acct.ID, "err", err)
		return "", idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to create pending session")
	}

	slog.Info("2FA challenge verified", "accountId", acct.ID, "method", acct.TwoFactor.Method, "backupCode", isBackupCode)
	return session.Token, nil
}

// Disable turns 2FA off after confirming the caller knows the current
// password. Method, secrets, pending OTP, and backup codes are cleared in a
// single update.
func (s *Service) Disable(ctx context.Context, accountID uuid.UUID, currentPassword string) error {
	acct, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return s.storeError(err)
	}

	match, err := s.hasher.Verify(currentPassword, acct.PasswordHash)
	if err != nil {
		slog.Error("Failed to verify password", "accountId", accountID, "err", err)
		return idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to verify password")
	}
	if !match {
		return idmerr.New(idmerr.ErrCodeUnauthorized, "invalid credentials")
	}

	cfg := account.TwoFactorConfig{
		Method:  account.MethodNone,
		Enabled: false,
	}
	if err := s.repo.SaveTwoFactor(ctx, accountID, cfg); err != nil {
		return s.storeError(err)
	}

	slog.Info("2FA disabled", "accountId", accountID)
	return nil
}

// storeError converts repository failures into the surfaced taxonomy;
// missing accounts stay generic so lookups cannot be used as an oracle.
func (s *Service) storeError(err error) *idmerr.Error {
	if errors.Is(err, account.ErrNotFound) {
		return idmerr.New(idmerr.ErrCodeNotFound, "no 2FA challenge available")
	}
	return idmerr.Wrap(err, idmerr.ErrCodeInternal, "credential store failure")
}

func generateTotpKey(accountEmail string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      TOTP_ISSUER,
		AccountName: accountEmail,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Generated new totp secret", "accountEmail", accountEmail, "issuer", TOTP_ISSUER)
	return key, nil
}

// ValidateTotpPasscode checks a passcode against a TOTP secret within the
// configured skew window to absorb clock drift.
func ValidateTotpPasscode(totpSecret, passcode string) (bool, error) {
	valid, err := totp.ValidateCustom(passcode, totpSecret, time.Now().UTC(), totp.ValidateOpts{
		Period:    PERIOD,
		Skew:      SKEW,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to validate totp passcode", "err", err)
		return false, err
	}
	return valid, nil
}

func maskDestination(method account.Method, destination string) string {
	switch method {
	case account.MethodSMS:
		return utils.MaskPhone(destination)
	default:
		return utils.MaskEmail(destination)
	}
}
