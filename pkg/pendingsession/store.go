// Package pendingsession bridges a successful 2FA verification to the
// session-issuing login flow. A pending session is a short-lived random
// token mapped to an account id; the login finalization step exchanges it
// for a full session without re-running the challenge.
package pendingsession

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a pending session stays valid after a successful
// 2FA challenge.
const DefaultTTL = 10 * time.Minute

// TokenLength is the length of generated pending-session tokens.
const TokenLength = 32

// ErrNotFound is returned when a token is unknown or has expired.
var ErrNotFound = errors.New("pending session not found or expired")

// Session proves a completed 2FA challenge for an account.
type Session struct {
	Token     string    `json:"token"`
	AccountID uuid.UUID `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store holds pending sessions. Whether Consume deletes on read is an
// explicit configuration of each implementation: the default is single-use,
// so a token cannot be replayed within its validity window.
type Store interface {
	Create(ctx context.Context, accountID uuid.UUID) (Session, error)
	Consume(ctx context.Context, token string) (Session, error)
}
