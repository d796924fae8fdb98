package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	domainoauth "github.com/smallbiznis/smallbiznis-identity/internal/domain/oauth"
)

// UserRepository persists local accounts.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	// Create returns domain.ErrDuplicate when the email is already taken.
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// SessionRepository persists refresh sessions keyed by jti. Revocation is
// monotonic: both revoke operations only ever set revoked to true.
type SessionRepository interface {
	Create(ctx context.Context, session domain.RefreshSession) (domain.RefreshSession, error)
	GetByJTI(ctx context.Context, jti string) (domain.RefreshSession, error)
	// Rotate atomically revokes the session identified by jti and inserts
	// its successor. The revoke is a compare-and-set guarded by
	// revoked = false; when the guard does not hold nothing is written and
	// won is false. Of two concurrent rotations exactly one wins. A failed
	// successor insert rolls the revoke back, so the presented token stays
	// usable.
	Rotate(ctx context.Context, jti string, successor domain.RefreshSession) (created domain.RefreshSession, won bool, err error)
	// Revoke marks the session revoked regardless of prior state and
	// reports whether the jti existed at all.
	Revoke(ctx context.Context, jti string) (bool, error)
}

// OAuthAccountRepository persists external identity bindings.
// (provider, provider_subject) is unique.
type OAuthAccountRepository interface {
	GetBySubject(ctx context.Context, provider, subject string) (domainoauth.Account, error)
	GetByUserAndProvider(ctx context.Context, userID int64, provider string) (domainoauth.Account, error)
	// Create returns domain.ErrDuplicate when the (provider, subject) pair
	// already exists; racing creators treat that as "reuse the winner's row".
	Create(ctx context.Context, account domainoauth.Account) (domainoauth.Account, error)
	// Touch refreshes last_login_at and, when email is non-empty, the
	// provider email on repeat federation.
	Touch(ctx context.Context, accountID int64, email string, at time.Time) error
}

// Outbox records durable events next to business writes. Dispatching is a
// separate process; this side only enqueues.
type Outbox interface {
	Enqueue(ctx context.Context, topic string, payload map[string]any) error
}
