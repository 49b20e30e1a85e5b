package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Method identifies a second-factor mechanism configured on an account.
type Method string

const (
	MethodNone  Method = "none"
	MethodTOTP  Method = "totp"
	MethodEmail Method = "email"
	MethodSMS   Method = "sms"
)

// ValidMethod reports whether m names a real second factor (not none).
func ValidMethod(m Method) bool {
	switch m {
	case MethodTOTP, MethodEmail, MethodSMS:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned when no account matches the lookup.
var ErrNotFound = errors.New("account not found")

// PendingOtp is a single-use numeric passcode with an expiry. It exists only
// between issuance and verification; verification or expiry clears it.
type PendingOtp struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TwoFactorConfig holds the per-account 2FA state. Enabled is only true
// after a successful setup confirmation; BackupCodes holds hashes, never
// plaintext.
type TwoFactorConfig struct {
	Method      Method      `json:"method"`
	Enabled     bool        `json:"enabled"`
	TotpSecret  string      `json:"totp_secret,omitempty"`
	PendingOtp  *PendingOtp `json:"pending_otp,omitempty"`
	BackupCodes []string    `json:"backup_codes,omitempty"`
}

// Account is the identity record owning zero-or-one 2FA configuration.
type Account struct {
	ID           uuid.UUID       `json:"id"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone,omitempty"`
	PasswordHash string          `json:"password_hash"`
	Role         string          `json:"role"`
	TwoFactor    TwoFactorConfig `json:"two_factor"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CreateAccountParams represents parameters for creating an account
type CreateAccountParams struct {
	Email        string
	Phone        string
	PasswordHash string
	Role         string
}

// Repository defines the credential-store operations the 2FA flow relies
// on. Each mutator is a single conditional update so the store's own
// row-level atomicity is the only synchronization required.
type Repository interface {
	Create(ctx context.Context, params CreateAccountParams) (Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)

	// SaveTwoFactor overwrites the whole 2FA configuration. Used by setup
	// (replacing any prior method's secret material) and disable.
	SaveTwoFactor(ctx context.Context, id uuid.UUID, cfg TwoFactorConfig) error

	// SetPendingOtp stores a fresh pending OTP, replacing any outstanding one.
	SetPendingOtp(ctx context.Context, id uuid.UUID, otp PendingOtp) error

	// ClearPendingOtp clears the pending OTP only if the stored code equals
	// code. Reports whether the clear happened; a false result means another
	// request consumed it first or the code never matched.
	ClearPendingOtp(ctx context.Context, id uuid.UUID, code string) (bool, error)

	// ConsumeBackupCode removes the backup-code entry equal to hash. Reports
	// whether an entry was removed; the list only ever shrinks.
	ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash string) (bool, error)

	// SetTwoFactorEnabled flips the enabled flag for the given method. The
	// update is conditional on the method still being the configured one.
	SetTwoFactorEnabled(ctx context.Context, id uuid.UUID, method Method, enabled bool) error
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL-based account repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const accountColumns = `id, email, phone, password_hash, role,
	two_factor_method, two_factor_enabled, totp_secret,
	pending_otp_code, pending_otp_expires_at, backup_codes,
	created_at, updated_at`

// Create inserts a new account with 2FA disabled
func (r *PostgresRepository) Create(ctx context.Context, params CreateAccountParams) (Account, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, phone, password_hash, role, two_factor_method, two_factor_enabled, backup_codes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, '{}', now(), now())
		RETURNING `+accountColumns,
		uuid.New(), params.Email, params.Phone, params.PasswordHash, params.Role, string(MethodNone))
	return scanAccount(row)
}

// GetByID retrieves an account by id
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByEmail retrieves an account by email
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// SaveTwoFactor overwrites the 2FA configuration in a single update
func (r *PostgresRepository) SaveTwoFactor(ctx context.Context, id uuid.UUID, cfg TwoFactorConfig) error {
	var otpCode *string
	var otpExpiresAt *time.Time
	if cfg.PendingOtp != nil {
		otpCode = &cfg.PendingOtp.Code
		otpExpiresAt = &cfg.PendingOtp.ExpiresAt
	}

	backupCodes := cfg.BackupCodes
	if backupCodes == nil {
		backupCodes = []string{}
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET two_factor_method = $2, two_factor_enabled = $3, totp_secret = $4,
		    pending_otp_code = $5, pending_otp_expires_at = $6, backup_codes = $7,
		    updated_at = now()
		WHERE id = $1`,
		id, string(cfg.Method), cfg.Enabled, cfg.TotpSecret, otpCode, otpExpiresAt, backupCodes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPendingOtp stores a fresh pending OTP for the account
func (r *PostgresRepository) SetPendingOtp(ctx context.Context, id uuid.UUID, otp PendingOtp) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET pending_otp_code = $2, pending_otp_expires_at = $3, updated_at = now()
		WHERE id = $1`,
		id, otp.Code, otp.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearPendingOtp clears the pending OTP as one compare-and-swap update, so
// two concurrent verifications of the same code cannot both succeed
func (r *PostgresRepository) ClearPendingOtp(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET pending_otp_code = NULL, pending_otp_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND pending_otp_code = $2`,
		id, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ConsumeBackupCode removes the matched hash from the backup-code array in
// a single conditional update
func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET backup_codes = array_remove(backup_codes, $2), updated_at = now()
		WHERE id = $1 AND $2 = ANY(backup_codes)`,
		id, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetTwoFactorEnabled flips the enabled flag for the configured method
func (r *PostgresRepository) SetTwoFactorEnabled(ctx context.Context, id uuid.UUID, method Method, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET two_factor_enabled = $3, updated_at = now()
		WHERE id = $1 AND two_factor_method = $2`,
		id, string(method), enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var method string
	var totpSecret *string
	var otpCode *string
	var otpExpiresAt *time.Time
	var phone *string

	err := row.Scan(&a.ID, &a.Email, &phone, &a.PasswordHash, &a.Role,
		&method, &a.TwoFactor.Enabled, &totpSecret,
		&otpCode, &otpExpiresAt, &a.TwoFactor.BackupCodes,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}

	a.TwoFactor.Method = Method(method)
	if phone != nil {
		a.Phone = *phone
	}
	if totpSecret != nil {
		a.TwoFactor.TotpSecret = *totpSecret
	}
	if otpCode != nil && otpExpiresAt != nil {
		a.TwoFactor.PendingOtp = &PendingOtp{Code: *otpCode, ExpiresAt: *otpExpiresAt}
	}
	return a, nil
}
