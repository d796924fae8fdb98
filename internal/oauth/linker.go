package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	domainoauth "github.com/smallbiznis/smallbiznis-identity/internal/domain/oauth"
	"github.com/smallbiznis/smallbiznis-identity/internal/password"
	"github.com/smallbiznis/smallbiznis-identity/internal/repository"
	"github.com/smallbiznis/smallbiznis-identity/internal/session"
)

// CallbackResult is the outcome of a completed callback: either a fresh token
// pair (login/signup) or a link confirmation, never both.
type CallbackResult struct {
	Tokens *domain.TokenPair
	Linked bool
}

// IdentityLinker maps external identities onto local users and accounts.
type IdentityLinker struct {
	users    repository.UserRepository
	accounts repository.OAuthAccountRepository
	ledger   *session.Ledger
	outbox   repository.Outbox
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewIdentityLinker(
	users repository.UserRepository,
	accounts repository.OAuthAccountRepository,
	ledger *session.Ledger,
	outbox repository.Outbox,
	logger *zap.Logger,
) *IdentityLinker {
	return &IdentityLinker{
		users:    users,
		accounts: accounts,
		ledger:   ledger,
		outbox:   outbox,
		logger:   logger,
		tracer:   otel.Tracer("oauth"),
		now:      time.Now,
	}
}

// CompleteCallback finishes the flow the state token describes: attach the
// identity to an existing user when a link was requested, otherwise sign the
// user in, creating the local account on first contact.
func (l *IdentityLinker) CompleteCallback(ctx context.Context, identity domainoauth.ExternalIdentity, state domainoauth.State) (CallbackResult, error) {
	ctx, span := l.tracer.Start(ctx, "IdentityLinker.CompleteCallback")
	defer span.End()

	if state.LinkUserID > 0 {
		if err := l.LinkToUser(ctx, identity, state.LinkUserID); err != nil {
			span.RecordError(err)
			return CallbackResult{}, err
		}
		return CallbackResult{Linked: true}, nil
	}

	user, err := l.FindOrCreateUser(ctx, identity)
	if err != nil {
		span.RecordError(err)
		return CallbackResult{}, err
	}
	pair, err := l.ledger.Issue(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return CallbackResult{}, err
	}
	return CallbackResult{Tokens: &pair}, nil
}

// LinkToUser attaches the identity to userID. Linking is idempotent for the
// same user; an identity held by someone else, or a second account for the
// same provider, is a conflict.
func (l *IdentityLinker) LinkToUser(ctx context.Context, identity domainoauth.ExternalIdentity, userID int64) error {
	if _, err := l.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrLinkUserNotFound
		}
		return fmt.Errorf("load link target: %w", err)
	}

	account, err := l.accounts.GetBySubject(ctx, identity.Provider, identity.Subject)
	switch {
	case err == nil:
		if account.UserID != userID {
			return domain.ErrIdentityAlreadyLinked
		}
		return l.touch(ctx, account, identity)
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("lookup oauth account: %w", err)
	}

	_, err = l.accounts.GetByUserAndProvider(ctx, userID, identity.Provider)
	switch {
	case err == nil:
		return domain.ErrProviderAlreadyLinked
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("lookup provider link: %w", err)
	}

	if err := l.createAccount(ctx, userID, identity); err != nil {
		return err
	}
	l.logger.Info("oauth identity linked",
		zap.String("provider", identity.Provider),
		zap.Int64("user_id", userID))
	return nil
}

// FindOrCreateUser resolves the identity to a local user: by existing account,
// then by verified email, then by provisioning a fresh user.
func (l *IdentityLinker) FindOrCreateUser(ctx context.Context, identity domainoauth.ExternalIdentity) (domain.User, error) {
	account, err := l.accounts.GetBySubject(ctx, identity.Provider, identity.Subject)
	switch {
	case err == nil:
		if err := l.touch(ctx, account, identity); err != nil {
			return domain.User{}, err
		}
		return l.users.GetByID(ctx, account.UserID)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.User{}, fmt.Errorf("lookup oauth account: %w", err)
	}

	if identity.Email == "" {
		return domain.User{}, domain.ErrEmailRequired
	}

	user, err := l.users.GetByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		// Existing local user with the same address: adopt the identity.
	case errors.Is(err, domain.ErrNotFound):
		user, err = l.provisionUser(ctx, identity.Email)
		if err != nil {
			return domain.User{}, err
		}
	default:
		return domain.User{}, fmt.Errorf("lookup user by email: %w", err)
	}

	if err := l.createAccount(ctx, user.ID, identity); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// provisionUser creates a user record for a federated signup. The password is
// random and never surfaced; such users sign in through their provider.
func (l *IdentityLinker) provisionUser(ctx context.Context, email string) (domain.User, error) {
	secret, err := password.RandomSecret(48)
	if err != nil {
		return domain.User{}, fmt.Errorf("generate placeholder password: %w", err)
	}
	hash, err := password.Hash(secret)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash placeholder password: %w", err)
	}

	user, err := l.users.Create(ctx, domain.User{Email: email, PasswordHash: hash})
	if errors.Is(err, domain.ErrDuplicate) {
		// Lost a signup race; the row that won is the user we want.
		return l.users.GetByEmail(ctx, email)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	if err := l.outbox.Enqueue(ctx, "user.created", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	}); err != nil {
		return domain.User{}, fmt.Errorf("enqueue user.created: %w", err)
	}
	l.logger.Info("user provisioned from oauth", zap.Int64("user_id", user.ID))
	return user, nil
}

func (l *IdentityLinker) createAccount(ctx context.Context, userID int64, identity domainoauth.ExternalIdentity) error {
	_, err := l.accounts.Create(ctx, domainoauth.Account{
		UserID:          userID,
		Provider:        identity.Provider,
		ProviderSubject: identity.Subject,
		ProviderEmail:   identity.Email,
		CreatedAt:       l.now(),
		LastLoginAt:     l.now(),
	})
	if errors.Is(err, domain.ErrDuplicate) {
		// Concurrent callback already wrote a link; figure out which unique
		// index fired. Same subject on another user means the identity is
		// taken; a different subject under this user's provider slot means
		// the provider is taken.
		existing, lookupErr := l.accounts.GetBySubject(ctx, identity.Provider, identity.Subject)
		switch {
		case lookupErr == nil:
			if existing.UserID != userID {
				return domain.ErrIdentityAlreadyLinked
			}
			return nil
		case errors.Is(lookupErr, domain.ErrNotFound):
		default:
			return fmt.Errorf("reload oauth account: %w", lookupErr)
		}

		held, lookupErr := l.accounts.GetByUserAndProvider(ctx, userID, identity.Provider)
		if lookupErr != nil {
			return fmt.Errorf("reload oauth account by provider: %w", lookupErr)
		}
		if held.ProviderSubject != identity.Subject {
			return domain.ErrProviderAlreadyLinked
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("create oauth account: %w", err)
	}
	return nil
}

func (l *IdentityLinker) touch(ctx context.Context, account domainoauth.Account, identity domainoauth.ExternalIdentity) error {
	if err := l.accounts.Touch(ctx, account.ID, identity.Email, l.now()); err != nil {
		return fmt.Errorf("touch oauth account: %w", err)
	}
	return nil
}
