package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	domainoauth "github.com/smallbiznis/smallbiznis-identity/internal/domain/oauth"
)

// Compile-time interface assertions.
var (
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ SessionRepository      = (*PostgresSessionRepo)(nil)
	_ OAuthAccountRepository = (*PostgresOAuthAccountRepo)(nil)
	_ Outbox                 = (*PostgresOutbox)(nil)
)

const uniqueViolation = "23505"

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrDuplicate
	}
	return err
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserSQL = `SELECT id, email, password_hash, created_at FROM users`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", translate(err))
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", translate(err))
	}
	return user, nil
}

const insertUserSQL = `INSERT INTO users (email, password_hash)
VALUES ($1, $2)
RETURNING id, email, password_hash, created_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL, user.Email, user.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", translate(err))
	}
	return created, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// PostgresSessionRepo implements SessionRepository.
type PostgresSessionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: pool}
}

const insertSessionSQL = `INSERT INTO refresh_sessions (user_id, jti, expires_at, rotated_from_jti)
VALUES ($1, $2, $3, NULLIF($4, ''))
RETURNING id, created_at`

func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.RefreshSession) (domain.RefreshSession, error) {
	row := r.db.QueryRow(ctx, insertSessionSQL,
		session.UserID,
		session.JTI,
		session.ExpiresAt,
		session.RotatedFromJTI,
	)
	if err := row.Scan(&session.ID, &session.CreatedAt); err != nil {
		return domain.RefreshSession{}, fmt.Errorf("create refresh session: %w", translate(err))
	}
	return session, nil
}

const selectSessionSQL = `SELECT id, user_id, jti, revoked, expires_at,
COALESCE(rotated_from_jti, ''), COALESCE(replaced_by_jti, ''), created_at
FROM refresh_sessions WHERE jti = $1`

func (r *PostgresSessionRepo) GetByJTI(ctx context.Context, jti string) (domain.RefreshSession, error) {
	var s domain.RefreshSession
	err := r.db.QueryRow(ctx, selectSessionSQL, jti).Scan(
		&s.ID,
		&s.UserID,
		&s.JTI,
		&s.Revoked,
		&s.ExpiresAt,
		&s.RotatedFromJTI,
		&s.ReplacedByJTI,
		&s.CreatedAt,
	)
	if err != nil {
		return domain.RefreshSession{}, fmt.Errorf("get refresh session: %w", translate(err))
	}
	return s, nil
}

// The WHERE revoked = FALSE guard is the anti-replay contract: a second
// rotation of the same jti matches zero rows no matter how the attempts
// interleave across service instances.
const revokeAndReplaceSQL = `UPDATE refresh_sessions
SET revoked = TRUE, replaced_by_jti = $2
WHERE jti = $1 AND revoked = FALSE`

// Rotate runs the conditional revoke and the successor insert in one
// transaction. If the insert fails the revoke rolls back and the presented
// token is not burned.
func (r *PostgresSessionRepo) Rotate(ctx context.Context, jti string, successor domain.RefreshSession) (domain.RefreshSession, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.RefreshSession{}, false, fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, revokeAndReplaceSQL, jti, successor.JTI)
	if err != nil {
		return domain.RefreshSession{}, false, fmt.Errorf("rotate refresh session: %w", translate(err))
	}
	if tag.RowsAffected() != 1 {
		return domain.RefreshSession{}, false, nil
	}

	row := tx.QueryRow(ctx, insertSessionSQL,
		successor.UserID,
		successor.JTI,
		successor.ExpiresAt,
		successor.RotatedFromJTI,
	)
	if err := row.Scan(&successor.ID, &successor.CreatedAt); err != nil {
		return domain.RefreshSession{}, false, fmt.Errorf("persist rotated session: %w", translate(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.RefreshSession{}, false, fmt.Errorf("commit rotation: %w", err)
	}
	return successor, true, nil
}

const revokeSQL = `UPDATE refresh_sessions SET revoked = TRUE WHERE jti = $1`

func (r *PostgresSessionRepo) Revoke(ctx context.Context, jti string) (bool, error) {
	tag, err := r.db.Exec(ctx, revokeSQL, jti)
	if err != nil {
		return false, fmt.Errorf("revoke refresh session: %w", translate(err))
	}
	return tag.RowsAffected() == 1, nil
}

// PostgresOAuthAccountRepo implements OAuthAccountRepository.
type PostgresOAuthAccountRepo struct {
	db *pgxpool.Pool
}

func NewPostgresOAuthAccountRepo(pool *pgxpool.Pool) *PostgresOAuthAccountRepo {
	return &PostgresOAuthAccountRepo{db: pool}
}

const selectAccountSQL = `SELECT id, user_id, provider, provider_subject,
COALESCE(provider_email, ''), created_at, last_login_at
FROM oauth_accounts`

func (r *PostgresOAuthAccountRepo) GetBySubject(ctx context.Context, provider, subject string) (domainoauth.Account, error) {
	row := r.db.QueryRow(ctx, selectAccountSQL+` WHERE provider = $1 AND provider_subject = $2`, provider, subject)
	account, err := scanAccount(row)
	if err != nil {
		return domainoauth.Account{}, fmt.Errorf("get oauth account: %w", translate(err))
	}
	return account, nil
}

func (r *PostgresOAuthAccountRepo) GetByUserAndProvider(ctx context.Context, userID int64, provider string) (domainoauth.Account, error) {
	row := r.db.QueryRow(ctx, selectAccountSQL+` WHERE user_id = $1 AND provider = $2`, userID, provider)
	account, err := scanAccount(row)
	if err != nil {
		return domainoauth.Account{}, fmt.Errorf("get oauth account by user: %w", translate(err))
	}
	return account, nil
}

const insertAccountSQL = `INSERT INTO oauth_accounts (user_id, provider, provider_subject, provider_email, last_login_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)
RETURNING id, created_at`

func (r *PostgresOAuthAccountRepo) Create(ctx context.Context, account domainoauth.Account) (domainoauth.Account, error) {
	row := r.db.QueryRow(ctx, insertAccountSQL,
		account.UserID,
		account.Provider,
		account.ProviderSubject,
		account.ProviderEmail,
		account.LastLoginAt,
	)
	if err := row.Scan(&account.ID, &account.CreatedAt); err != nil {
		return domainoauth.Account{}, fmt.Errorf("create oauth account: %w", translate(err))
	}
	return account, nil
}

const touchAccountSQL = `UPDATE oauth_accounts
SET last_login_at = $2, provider_email = COALESCE(NULLIF($3, ''), provider_email)
WHERE id = $1`

func (r *PostgresOAuthAccountRepo) Touch(ctx context.Context, accountID int64, email string, at time.Time) error {
	if _, err := r.db.Exec(ctx, touchAccountSQL, accountID, at, email); err != nil {
		return fmt.Errorf("touch oauth account: %w", translate(err))
	}
	return nil
}

func scanAccount(row pgx.Row) (domainoauth.Account, error) {
	var a domainoauth.Account
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Provider,
		&a.ProviderSubject,
		&a.ProviderEmail,
		&a.CreatedAt,
		&a.LastLoginAt,
	)
	if err != nil {
		return domainoauth.Account{}, err
	}
	return a, nil
}

// PostgresOutbox implements Outbox with a plain pending-row insert; the
// dispatcher drains the table out of process.
type PostgresOutbox struct {
	db *pgxpool.Pool
}

func NewPostgresOutbox(pool *pgxpool.Pool) *PostgresOutbox {
	return &PostgresOutbox{db: pool}
}

const insertOutboxSQL = `INSERT INTO outbox_events (event_key, topic, payload, status)
VALUES (gen_random_uuid(), $1, $2, 'pending')`

func (o *PostgresOutbox) Enqueue(ctx context.Context, topic string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}
	if _, err := o.db.Exec(ctx, insertOutboxSQL, topic, encoded); err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}
