package twofactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xlzd/gotp"

	"github.com/tutorlane/tutor-idm/pkg/account"
	idmerr "github.com/tutorlane/tutor-idm/pkg/errors"
	"github.com/tutorlane/tutor-idm/pkg/notification"
	"github.com/tutorlane/tutor-idm/pkg/password"
	"github.com/tutorlane/tutor-idm/pkg/pendingsession"
)

type testEnv struct {
	repo     *account.FileRepository
	notifier *notification.MockNotifier
	sessions *pendingsession.InMemoryStore
	service  *Service
	acct     account.Account
}

// setupTestEnv builds a service on file-backed storage with a mock
// transport, plus one account with a known password and phone number.
func setupTestEnv(t *testing.T, opts ...Option) *testEnv {
	repo, err := account.NewFileRepository(t.TempDir())
	require.NoError(t, err)

	hasher := password.NewBcryptHasher(4) // min cost, tests only

	passwordHash, err := hasher.Hash("correct-horse")
	require.NoError(t, err)

	acct, err := repo.Create(context.Background(), account.CreateAccountParams{
		Email:        "tutor@example.com",
		Phone:        "+15551234589",
		PasswordHash: passwordHash,
		Role:         "tutor",
	})
	require.NoError(t, err)

	mock := &notification.MockNotifier{}
	manager := notification.NewNotificationManager()
	manager.RegisterNotifier(notification.EmailSystem, mock)
	manager.RegisterNotifier(notification.SMSSystem, mock)
	require.NoError(t, manager.RegisterNotification(notification.TwofaCodeNoticeEmail, notification.EmailSystem, notification.NoticeTemplate{Subject: "code"}))
	require.NoError(t, manager.RegisterNotification(notification.TwofaCodeNoticeSms, notification.SMSSystem, notification.NoticeTemplate{Text: "{{.Passcode}}"}))
	require.NoError(t, manager.RegisterNotification(notification.BackupCodesNotice, notification.EmailSystem, notification.NoticeTemplate{Subject: "codes"}))

	sessions := pendingsession.NewInMemoryStore()
	t.Cleanup(sessions.Close)

	service := NewService(repo, manager, hasher, sessions, opts...)

	return &testEnv{
		repo:     repo,
		notifier: mock,
		sessions: sessions,
		service:  service,
		acct:     acct,
	}
}

// sentPasscode extracts the passcode from the most recent mock notification
func (env *testEnv) sentPasscode(t *testing.T) string {
	require.NotEmpty(t, env.notifier.SentNotifications)
	last := env.notifier.SentNotifications[len(env.notifier.SentNotifications)-1]
	code := last.Data["Passcode"]
	require.Len(t, code, OTP_LENGTH)
	return code
}

// enableEmail walks the account through email setup and confirmation
func (env *testEnv) enableEmail(t *testing.T) []string {
	ctx := context.Background()

	_, err := env.service.BeginSetup(ctx, env.acct.ID, account.MethodEmail)
	require.NoError(t, err)

	backupCodes, err := env.service.ConfirmSetup(ctx, env.acct.ID, account.MethodEmail, env.sentPasscode(t))
	require.NoError(t, err)
	return backupCodes
}

func TestTotpSetupRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	challenge, err := env.service.BeginSetup(ctx, env.acct.ID, account.MethodTOTP)
	require.NoError(t, err)
	assert.NotEmpty(t, challenge.Secret)
	assert.Contains(t, challenge.OtpauthURL, "otpauth://")

	// Setup alone must not enable anything
	acct, err := env.repo.GetByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.False(t, acct.TwoFactor.Enabled)
	assert.Equal(t, account.MethodTOTP, acct.TwoFactor.Method)

	// Compute a code from the secret with an independent implementation
	code := gotp.NewDefaultTOTP(challenge.Secret).Now()

	backupCodes, err := env.service.ConfirmSetup(ctx, env.acct.ID, account.MethodTOTP, code)
	require.NoError(t, err)
	require.Len(t, backupCodes, 10)

	// All returned backup codes are distinct
	seen := make(map[string]bool)
	for _, c := range backupCodes {
		assert.False(t, seen[c], "duplicate backup code %s", c)
		seen[c] = true
	}

	acct, err = env.repo.GetByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.True(t, acct.TwoFactor.Enabled)
	assert.Len(t, acct.TwoFactor.BackupCodes, 10)
	for _, hash := range acct.TwoFactor.BackupCodes {
		assert.NotContains(t, backupCodes, hash, "backup codes must not be stored in plaintext")
	}
}

func TestTotpLoginVerification(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	challenge, err := env.service.BeginSetup(ctx, env.acct.ID, account.MethodTOTP)
	require.NoError(t, err)
	otp := gotp.NewDefaultTOTP(challenge.Secret)

	_, err = env.service.ConfirmSetup(ctx, env.acct.ID, account.MethodTOTP, otp.Now())
	require.NoError(t, err)

	t.Run("ValidCode", func(t *testing.T) {
		token, err := env.service.VerifyLoginChallenge(ctx, env.acct.Email, otp.Now(), false)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		session, err := env.sessions.Consume(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, env.acct.ID, session.AccountID)
	})

	t.Run("InvalidCode", func(t *testing.T) {
		_, err := env.service.VerifyLoginChallenge(ctx, env.acct.Email, "000000", false)
		require.Error(t, err)
		assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeInvalidCode))
	})
}

func TestEmailOtpHappyPath(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.enableEmail(t)

	challenge, err := env.service.IssueLoginChallenge(ctx, env.acct.Email)
	require.NoError(t, err)
	assert.Equal(t, account.MethodEmail, challenge.Method)
	assert.Contains(t, challenge.MaskedDestination, "*")

	code := env.sentPasscode(t)

	// Stored pending OTP has the full TTL
	acct, err := env.repo.GetByID(ctx, env.acct.ID)
	require.NoError(t, err)
	require.NotNil(t, acct.TwoFactor.PendingOtp)
	assert.Equal(t, code, acct.TwoFactor.PendingOtp.Code)
	assert.WithinDuration(t, time.Now().UTC().Add(OTP_TTL), acct.TwoFactor.PendingOtp.ExpiresAt, 5*time.Second)

	token, err := env.service.VerifyLoginChallenge(ctx, env.acct.Email, code, false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// Single use: replaying the same code fails now that it was cleared
	_, err = env.service.VerifyLoginChallenge(ctx, env.acct.Email, code, false)
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeOtpNotFound))
}

func TestEmailOtpExpiry(t *testing.T) {
	env := setupTestEnv(t, WithOtpTTL(-time.Millisecond))
	ctx := context.Background()

	// Enable via a service with a normal TTL against the same repo
	normal := NewService(env.repo, managerFor(env.notifier), password.NewBcryptHasher(4), env.sessions)
	_, err := normal.BeginSetup(ctx, env.acct.ID, account.MethodEmail)
	require.NoError(t, err)
	_, err = normal.ConfirmSetup(ctx, env.acct.ID, account.MethodEmail, env.sentPasscode(t))
	require.NoError(t, err)

	// Issue with the instantly-expiring service
	_, err = env.service.IssueLoginChallenge(ctx, env.acct.Email)
	require.NoError(t, err)
	code := env.sentPasscode(t)

	// A matching string is still rejected once the window has closed
	_, err = env.service.VerifyLoginChallenge(ctx, env.acct.Email, code, false)
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeOtpExpired))
}

func TestEmailOtpMismatchAllowsRetry(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.enableEmail(t)

	_, err := env.service.IssueLoginChallenge(ctx, env.acct.Email)
	require.NoError(t, err)
	code := env.sentPasscode(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	_, err = env.service.VerifyLoginChallenge(ctx, env.acct.Email, wrong, false)
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeInvalidCode))

	// The pending OTP was not cleared by the mismatch
	token, err := env.service.VerifyLoginChallenge(ctx, env.acct.Email, code, false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestBackupCodeConsumption(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	backupCodes := env.enableEmail(t)
	require.Len(t, backupCodes, 10)

	token, err := env.service.VerifyLoginChallenge(ctx, env.acct.Email, backupCodes[3], true)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// Count shrank by exactly one
	acct, err := env.repo.GetByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.Len(t, acct.TwoFactor.BackupCodes, 9)

	// The same plaintext cannot be used again
	_, err = env.service.VerifyLoginChallenge(ctx, env.acct.Email, backupCodes[3], true)
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeInvalidCode))

	// Other codes from the batch remain usable
	_, err = env.service.VerifyLoginChallenge(ctx, env.acct.Email, backupCodes[7], true)
	require.NoError(t, err)
}

func TestBackupCodesExhausted(t *testing.T) {
	env := setupTestEnv(t, WithBackupCodeCount(1))
	ctx := context.Background()

	backupCodes := env.enableEmail(t)
	require.Len(t, backupCodes, 1)

	_, err := env.service.VerifyLoginChallenge(ctx, env.acct.Email, backupCodes[0], true)
	require.NoError(t, err)

	_, err = env.service.VerifyLoginChallenge(ctx, env.acct.Email, backupCodes[0], true)
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeNoBackupCodes))
}

func TestMethodIsolation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// Enable TOTP first
	challenge, err := env.service.BeginSetup(ctx, env.acct.ID, account.MethodTOTP)
	require.NoError(t, err)
	oldOtp := gotp.NewDefaultTOTP(challenge.Secret)
	_, err = env.service.ConfirmSetup(ctx, env.acct.ID, account.MethodTOTP, oldOtp.Now())
	require.NoError(t, err)

	// Switching to email wipes the TOTP secret
	_, err = env.service.BeginSetup(ctx, env.acct.ID, account.MethodEmail)
	require.NoError(t, err)

	acct, err := env.repo.GetByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.Empty(t, acct.TwoFactor.TotpSecret)
	assert.Equal(t, account.MethodEmail, acct.TwoFactor.Method)
	assert.False(t, acct.TwoFactor.Enabled)

	_, err = env.service.ConfirmSetup(ctx, env.acct.ID, account.MethodEmail, env.sentPasscode(t))
	require.NoError(t, err)

	// A code from the old TOTP secret no longer verifies
	_, err = env.service.VerifyLoginChallenge(ctx, env.acct.Email, oldOtp.Now(), false)
	require.Error(t, err)
}

func TestSetupWithoutConfirmNeverEnables(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for _, method := range []account.Method{account.MethodTOTP, account.MethodEmail, account.MethodSMS} {
		_, err := env.service.BeginSetup(ctx, env.acct.ID, method)
		require.NoError(t, err)

		acct, err := env.repo.GetByID(ctx, env.acct.ID)
		require.NoError(t, err)
		assert.False(t, acct.TwoFactor.Enabled, "method %s enabled without confirmation", method)
	}
}

func TestSmsSetupRequiresPhone(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	acct, err := env.repo.Create(ctx, account.CreateAccountParams{
		Email:        "nophone@example.com",
		PasswordHash: "x",
		Role:         "student",
	})
	require.NoError(t, err)

	_, err = env.service.BeginSetup(ctx, acct.ID, account.MethodSMS)
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeMissingContact))
}

func TestDisable(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.enableEmail(t)

	t.Run("WrongPassword", func(t *testing.T) {
		err := env.service.Disable(ctx, env.acct.ID, "wrongpw")
		require.Error(t, err)
		assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeUnauthorized))

		acct, err := env.repo.GetByID(ctx, env.acct.ID)
		require.NoError(t, err)
		assert.True(t, acct.TwoFactor.Enabled)
	})

	t.Run("CorrectPassword", func(t *testing.T) {
		err := env.service.Disable(ctx, env.acct.ID, "correct-horse")
		require.NoError(t, err)

		acct, err := env.repo.GetByID(ctx, env.acct.ID)
		require.NoError(t, err)
		assert.False(t, acct.TwoFactor.Enabled)
		assert.Equal(t, account.MethodNone, acct.TwoFactor.Method)
		assert.Empty(t, acct.TwoFactor.TotpSecret)
		assert.Nil(t, acct.TwoFactor.PendingOtp)
		assert.Empty(t, acct.TwoFactor.BackupCodes)
	})
}

func TestInvalidMethodRejected(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.service.BeginSetup(ctx, env.acct.ID, account.Method("carrier-pigeon"))
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeValidationFailed))

	_, err = env.service.BeginSetup(ctx, env.acct.ID, account.MethodNone)
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeValidationFailed))
}

func TestChallengeForUnknownAccountStaysGeneric(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.service.IssueLoginChallenge(ctx, "nobody@example.com")
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeNotFound))

	// Same code for an existing account without 2FA, so the error cannot be
	// used to probe for registered emails
	_, err = env.service.IssueLoginChallenge(ctx, env.acct.Email)
	require.Error(t, err)
	assert.True(t, idmerr.IsCode(err, idmerr.ErrCodeNotFound))
}

// managerFor builds a manager wired to an existing mock notifier
func managerFor(mock *notification.MockNotifier) *notification.NotificationManager {
	manager := notification.NewNotificationManager()
	manager.RegisterNotifier(notification.EmailSystem, mock)
	manager.RegisterNotifier(notification.SMSSystem, mock)
	manager.RegisterNotification(notification.TwofaCodeNoticeEmail, notification.EmailSystem, notification.NoticeTemplate{Subject: "code"})
	manager.RegisterNotification(notification.TwofaCodeNoticeSms, notification.SMSSystem, notification.NoticeTemplate{Text: "{{.Passcode}}"})
	manager.RegisterNotification(notification.BackupCodesNotice, notification.EmailSystem, notification.NoticeTemplate{Subject: "codes"})
	return manager
}
