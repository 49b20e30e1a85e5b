package account

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileRepository implements Repository using file-based storage. Intended
// for tests and single-node demo deployments; the conditional updates are
// serialized by the repository mutex instead of database row locks.
type FileRepository struct {
	dataDir  string
	accounts map[uuid.UUID]Account
	mutex    sync.RWMutex
}

// NewFileRepository creates a new file-based account repository
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{
		dataDir:  dataDir,
		accounts: make(map[uuid.UUID]Account),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

// Create inserts a new account with 2FA disabled
func (r *FileRepository) Create(ctx context.Context, params CreateAccountParams) (Account, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, params.Email) {
			return Account{}, fmt.Errorf("account already exists for email %s", params.Email)
		}
	}

	now := time.Now().UTC()
	acct := Account{
		ID:           uuid.New(),
		Email:        params.Email,
		Phone:        params.Phone,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		TwoFactor: TwoFactorConfig{
			Method:  MethodNone,
			Enabled: false,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.accounts[acct.ID] = acct

	if err := r.save(); err != nil {
		// Rollback
		delete(r.accounts, acct.ID)
		return Account{}, fmt.Errorf("failed to save: %w", err)
	}

	return acct, nil
}

// GetByID retrieves an account by id
func (r *FileRepository) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	acct, exists := r.accounts[id]
	if !exists {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

// GetByEmail retrieves an account by email
func (r *FileRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, acct := range r.accounts {
		if strings.EqualFold(acct.Email, email) {
			return acct, nil
		}
	}
	return Account{}, ErrNotFound
}

// SaveTwoFactor overwrites the whole 2FA configuration
func (r *FileRepository) SaveTwoFactor(ctx context.Context, id uuid.UUID, cfg TwoFactorConfig) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acct, exists := r.accounts[id]
	if !exists {
		return ErrNotFound
	}

	acct.TwoFactor = cfg
	acct.UpdatedAt = time.Now().UTC()
	r.accounts[id] = acct

	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// SetPendingOtp stores a fresh pending OTP, replacing any outstanding one
func (r *FileRepository) SetPendingOtp(ctx context.Context, id uuid.UUID, otp PendingOtp) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acct, exists := r.accounts[id]
	if !exists {
		return ErrNotFound
	}

	acct.TwoFactor.PendingOtp = &PendingOtp{Code: otp.Code, ExpiresAt: otp.ExpiresAt}
	acct.UpdatedAt = time.Now().UTC()
	r.accounts[id] = acct

	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// ClearPendingOtp clears the pending OTP only if the stored code matches
func (r *FileRepository) ClearPendingOtp(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acct, exists := r.accounts[id]
	if !exists {
		return false, ErrNotFound
	}

	if acct.TwoFactor.PendingOtp == nil || acct.TwoFactor.PendingOtp.Code != code {
		return false, nil
	}

	acct.TwoFactor.PendingOtp = nil
	acct.UpdatedAt = time.Now().UTC()
	r.accounts[id] = acct

	if err := r.save(); err != nil {
		return false, fmt.Errorf("failed to save: %w", err)
	}
	return true, nil
}

// ConsumeBackupCode removes the backup-code entry equal to hash
func (r *FileRepository) ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acct, exists := r.accounts[id]
	if !exists {
		return false, ErrNotFound
	}

	idx := -1
	for i, h := range acct.TwoFactor.BackupCodes {
		if h == hash {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	codes := make([]string, 0, len(acct.TwoFactor.BackupCodes)-1)
	codes = append(codes, acct.TwoFactor.BackupCodes[:idx]...)
	codes = append(codes, acct.TwoFactor.BackupCodes[idx+1:]...)
	acct.TwoFactor.BackupCodes = codes
	acct.UpdatedAt = time.Now().UTC()
	r.accounts[id] = acct

	if err := r.save(); err != nil {
		return false, fmt.Errorf("failed to save: %w", err)
	}
	return true, nil
}

// SetTwoFactorEnabled flips the enabled flag for the configured method
func (r *FileRepository) SetTwoFactorEnabled(ctx context.Context, id uuid.UUID, method Method, enabled bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acct, exists := r.accounts[id]
	if !exists {
		return ErrNotFound
	}

	if acct.TwoFactor.Method != method {
		return fmt.Errorf("2FA method mismatch: configured %s, requested %s", acct.TwoFactor.Method, method)
	}

	acct.TwoFactor.Enabled = enabled
	acct.UpdatedAt = time.Now().UTC()
	r.accounts[id] = acct

	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads account data from file
func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, "accounts.json")

	// If file doesn't exist, start with empty map
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	r.accounts = make(map[uuid.UUID]Account)
	for _, acct := range accounts {
		r.accounts[acct.ID] = acct
	}

	return nil
}

// save writes account data to file atomically
func (r *FileRepository) save() error {
	accounts := make([]Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		accounts = append(accounts, acct)
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temp file first
	tempFile := filepath.Join(r.dataDir, "accounts.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Atomic rename
	finalFile := filepath.Join(r.dataDir, "accounts.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
