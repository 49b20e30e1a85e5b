package twofactor

import (
	"context"
	"log/slog"

	"github.com/tutorlane/tutor-idm/pkg/account"
	idmerr "github.com/tutorlane/tutor-idm/pkg/errors"
	"github.com/tutorlane/tutor-idm/pkg/notification"
	"github.com/tutorlane/tutor-idm/pkg/utils"
)

const (
	BACKUP_CODE_COUNT  = 10
	BACKUP_CODE_LENGTH = 8
)

// generateBackupCodes returns a batch of plaintext recovery codes together
// with their hashes. Plaintexts go to the caller exactly once; only the
// hashes are ever persisted.
func (s *Service) generateBackupCodes() ([]string, []string, error) {
	plaintexts := make([]string, 0, s.backupCodeCount)
	hashes := make([]string, 0, s.backupCodeCount)
	seen := make(map[string]bool, s.backupCodeCount)

	for len(plaintexts) < s.backupCodeCount {
		code := utils.GenerateRandomString(BACKUP_CODE_LENGTH)
		if seen[code] {
			continue
		}
		seen[code] = true

		hash, err := s.hasher.Hash(code)
		if err != nil {
			return nil, nil, err
		}
		plaintexts = append(plaintexts, code)
		hashes = append(hashes, hash)
	}

	return plaintexts, hashes, nil
}

// consumeBackupCode scans the stored hashes for one matching the submitted
// plaintext and removes it permanently. Codes are hashed with a salted
// digest, so each entry has to be checked individually.
func (s *Service) consumeBackupCode(ctx context.Context, acct account.Account, code string) error {
	if code == "" {
		return idmerr.New(idmerr.ErrCodeMissingRequired, "code is required").
			WithDetail("field", "code")
	}

	if len(acct.TwoFactor.BackupCodes) == 0 {
		return idmerr.New(idmerr.ErrCodeNoBackupCodes, "no backup codes remain")
	}

	for _, hash := range acct.TwoFactor.BackupCodes {
		match, err := s.hasher.Verify(code, hash)
		if err != nil {
			return idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to verify backup code")
		}
		if !match {
			continue
		}

		// Single use by identity: the entry is removed even though other
		// codes in the batch remain valid
		consumed, err := s.repo.ConsumeBackupCode(ctx, acct.ID, hash)
		if err != nil {
			return idmerr.Wrap(err, idmerr.ErrCodeInternal, "failed to consume backup code")
		}
		if !consumed {
			slog.Warn("Backup code already consumed", "accountId", acct.ID)
			return idmerr.New(idmerr.ErrCodeInvalidCode, "invalid code")
		}
		return nil
	}

	return idmerr.New(idmerr.ErrCodeInvalidCode, "invalid code")
}

// notifyBackupCodesGenerated emails the account that its backup codes were
// rotated. Failures are logged, not surfaced: the codes are already stored.
func (s *Service) notifyBackupCodesGenerated(acct account.Account) {
	err := s.notifier.Send(notification.BackupCodesNotice, notification.EmailSystem, notification.NotificationData{
		To:   acct.Email,
		Data: map[string]string{"Email": acct.Email},
	})
	if err != nil {
		slog.Error("Failed to send backup codes notice", "accountId", acct.ID, "err", err)
	}
}
