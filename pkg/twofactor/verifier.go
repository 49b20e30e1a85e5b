package twofactor

import (
	"context"
	"log/slog"
	"time"

	"github.com/tutorlane/tutor-idm/pkg/account"
	idmerr "github.com/tutorlane/tutor-idm/pkg/errors"
)

// verifyCode decides whether a submitted code satisfies the account's
// configured method. TOTP verification mutates nothing; EMAIL/SMS clears
// the pending OTP on success via a conditional update so the same code
// cannot pass twice, and leaves it untouched on mismatch so legitimate
// retries remain possible until expiry.
func (s *Service) verifyCode(ctx context.Context, acct account.Account, code string) error {
	if code == "" {
		return idmerr.New(idmerr.ErrCodeMissingRequired, "code is required").
			WithDetail("field", "code")
	}

	switch acct.TwoFactor.Method {
	case account.MethodTOTP:
		if acct.TwoFactor.TotpSecret == "" {
			return idmerr.New(idmerr.ErrCodeNotFound, "no 2FA challenge available")
		}
		valid, err := ValidateTotpPasscode(acct.TwoFactor.TotpSecret, code)
		if err != nil {
			return idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to validate passcode")
		}
		if !valid {
			return idmerr.New(idmerr.ErrCodeInvalidCode, "invalid code")
		}
		return nil

	case account.MethodEmail, account.MethodSMS:
		if len(code) != OTP_LENGTH {
			return idmerr.Newf(idmerr.ErrCodeValidationFailed, "code must be %d digits", OTP_LENGTH).
				WithDetail("field", "code")
		}

		pending := acct.TwoFactor.PendingOtp
		if pending == nil {
			return idmerr.New(idmerr.ErrCodeOtpNotFound, "no code was issued, request a new code")
		}
		if time.Now().UTC().After(pending.ExpiresAt) {
			return idmerr.New(idmerr.ErrCodeOtpExpired, "code has expired, request a new code")
		}
		if pending.Code != code {
			// No mutation: the caller may retry until the code expires
			return idmerr.New(idmerr.ErrCodeInvalidCode, "invalid code")
		}

		// Check-and-clear as one conditional update against the store. If
		// another request consumed the code first, this request loses.
		cleared, err := s.repo.ClearPendingOtp(ctx, acct.ID, code)
		if err != nil {
			return idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to clear passcode")
		}
		if !cleared {
			slog.Warn("Pending OTP already consumed", "accountId", acct.ID)
			return idmerr.New(idmerr.ErrCodeInvalidCode, "invalid code")
		}
		return nil

	case account.MethodNone:
		return idmerr.New(idmerr.ErrCodeNotFound, "no 2FA challenge available")

	default:
		return idmerr.Newf(idmerr.ErrCodeInternal, "unhandled 2FA method: %s", acct.TwoFactor.Method)
	}
}
