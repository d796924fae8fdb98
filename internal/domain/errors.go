package domain

import "net/http"

// Error is a boundary-safe failure: a stable machine-readable code, a message
// that can be shown to callers, and the HTTP status class it maps to. Internal
// causes are wrapped with %w separately and never cross the boundary.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string { return e.Message }

// Is matches on code so derived copies (WithMessage) still satisfy
// errors.Is against their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy of the sentinel carrying a different
// safe-to-expose message, e.g. a provider-reported error description.
func (e *Error) WithMessage(message string) *Error {
	return &Error{Code: e.Code, Message: message, Status: e.Status}
}

var (
	// ErrInvalidCredentials covers unknown user and bad password alike.
	ErrInvalidCredentials = &Error{
		Code:    "invalid_credentials",
		Message: "Invalid Credentials",
		Status:  http.StatusForbidden,
	}

	// ErrInvalidRefreshToken deliberately collapses malformed, expired,
	// unknown and already-rotated tokens into one indistinguishable
	// rejection so replay attempts learn nothing.
	ErrInvalidRefreshToken = &Error{
		Code:    "invalid_refresh_token",
		Message: "Could not validate refresh token",
		Status:  http.StatusUnauthorized,
	}

	ErrInvalidOAuthState = &Error{
		Code:    "invalid_oauth_state",
		Message: "Invalid OAuth state",
		Status:  http.StatusBadRequest,
	}

	// Both not-found kinds answer 404 so callers cannot tell an unknown
	// provider apart from a known-but-disabled one.
	ErrProviderUnsupported = &Error{
		Code:    "oauth_provider_unsupported",
		Message: "Unsupported OAuth provider",
		Status:  http.StatusNotFound,
	}
	ErrProviderNotConfigured = &Error{
		Code:    "oauth_provider_not_configured",
		Message: "OAuth provider is not configured",
		Status:  http.StatusNotFound,
	}

	ErrProviderUnreachable = &Error{
		Code:    "oauth_provider_unreachable",
		Message: "Could not reach OAuth provider",
		Status:  http.StatusBadGateway,
	}
	ErrExchangeFailed = &Error{
		Code:    "oauth_exchange_failed",
		Message: "OAuth code exchange failed",
		Status:  http.StatusBadRequest,
	}
	ErrInvalidTokenResponse = &Error{
		Code:    "oauth_invalid_token_response",
		Message: "OAuth provider did not return an access token",
		Status:  http.StatusBadGateway,
	}
	ErrProfileFetchFailed = &Error{
		Code:    "oauth_profile_fetch_failed",
		Message: "Could not fetch OAuth profile",
		Status:  http.StatusBadGateway,
	}

	ErrEmailRequired = &Error{
		Code:    "oauth_email_required",
		Message: "OAuth provider did not return an email address",
		Status:  http.StatusUnprocessableEntity,
	}
	ErrIdentityAlreadyLinked = &Error{
		Code:    "oauth_identity_already_linked",
		Message: "OAuth identity is already linked to another account",
		Status:  http.StatusConflict,
	}
	ErrProviderAlreadyLinked = &Error{
		Code:    "oauth_provider_already_linked",
		Message: "Provider is already linked to this account with a different identity",
		Status:  http.StatusConflict,
	}
	ErrLinkUserNotFound = &Error{
		Code:    "oauth_link_user_not_found",
		Message: "User does not exist",
		Status:  http.StatusNotFound,
	}

	// ErrCallbackInvalidResponse flags a completed flow that produced
	// neither a token pair nor a link result. Always an internal bug.
	ErrCallbackInvalidResponse = &Error{
		Code:    "oauth_callback_invalid_response",
		Message: "OAuth callback produced no result",
		Status:  http.StatusInternalServerError,
	}

	ErrEmailTaken = &Error{
		Code:    "email_already_registered",
		Message: "Email is already registered",
		Status:  http.StatusConflict,
	}
)

// ErrDuplicate marks a uniqueness-constraint violation reported by storage.
// Callers racing on the same key treat it as "row already exists, reuse it".
var ErrDuplicate = &Error{
	Code:    "duplicate_key",
	Message: "duplicate key",
	Status:  http.StatusConflict,
}

// ErrNotFound is the storage-level missing-row sentinel.
var ErrNotFound = &Error{
	Code:    "not_found",
	Message: "not found",
	Status:  http.StatusNotFound,
}
