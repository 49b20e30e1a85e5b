package twofactor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tutorlane/tutor-idm/pkg/account"
	idmerr "github.com/tutorlane/tutor-idm/pkg/errors"
	"github.com/tutorlane/tutor-idm/pkg/notification"
	"github.com/tutorlane/tutor-idm/pkg/utils"
)

// newPendingOtp generates a fresh numeric passcode for the method's channel
// and resolves the destination it should be delivered to. SMS without a
// phone number on file is a remediable caller error, not a secret.
func (s *Service) newPendingOtp(acct account.Account, method account.Method) (account.PendingOtp, string, error) {
	var destination string
	switch method {
	case account.MethodEmail:
		destination = acct.Email
	case account.MethodSMS:
		if acct.Phone == "" {
			return account.PendingOtp{}, "", idmerr.New(idmerr.ErrCodeMissingContact,
				"no phone number on file, add one to use SMS verification")
		}
		destination = acct.Phone
	default:
		return account.PendingOtp{}, "", idmerr.Newf(idmerr.ErrCodeInternal, "method %s does not issue passcodes", method)
	}

	pending := account.PendingOtp{
		Code:      utils.GenerateRandomDigits(OTP_LENGTH),
		ExpiresAt: time.Now().UTC().Add(s.otpTTL),
	}
	return pending, destination, nil
}

// dispatchPasscode sends the passcode over the method's channel.
func (s *Service) dispatchPasscode(method account.Method, destination, passcode string) error {
	expiresMinutes := strconv.Itoa(int(s.otpTTL.Minutes()))
	data := notification.NotificationData{
		To: destination,
		Data: map[string]string{
			"Passcode":       passcode,
			"ExpiresMinutes": expiresMinutes,
		},
	}

	switch method {
	case account.MethodEmail:
		return s.notifier.Send(notification.TwofaCodeNoticeEmail, notification.EmailSystem, data)
	case account.MethodSMS:
		return s.notifier.Send(notification.TwofaCodeNoticeSms, notification.SMSSystem, data)
	default:
		return fmt.Errorf("no delivery channel for method: %s", method)
	}
}
