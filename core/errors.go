package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Sentinel errors for the handshake and sync paths. Packages wrap these with
// fmt.Errorf("...: %w", ...) so callers can branch with errors.Is while the
// service boundary maps them onto rich error envelopes.
var (
	ErrProviderUnavailable  = errors.New("core: provider unavailable")
	ErrAuthExpired          = errors.New("core: provider credential expired")
	ErrRateLimited          = errors.New("core: provider rate limited")
	ErrTokenMismatch        = errors.New("core: handshake token mismatch")
	ErrSessionExpired       = errors.New("core: handshake session expired")
	ErrMissingParams        = errors.New("core: required callback params missing")
	ErrExchangeFailed       = errors.New("core: token exchange failed")
	ErrNotConnected         = errors.New("core: no active integration")
	ErrIntegrationNotFound  = errors.New("core: integration not found")
	ErrSourceNotRegistered  = errors.New("core: source not registered")
	ErrCredentialUnreadable = errors.New("core: credential payload unreadable")
)

const (
	ServiceErrorBadInput            = "WEARABLES_BAD_INPUT"
	ServiceErrorSourceNotFound      = "WEARABLES_SOURCE_NOT_FOUND"
	ServiceErrorNotConnected        = "WEARABLES_NOT_CONNECTED"
	ServiceErrorSessionExpired      = "WEARABLES_SESSION_EXPIRED"
	ServiceErrorTokenMismatch       = "WEARABLES_TOKEN_MISMATCH"
	ServiceErrorExchangeFailed      = "WEARABLES_EXCHANGE_FAILED"
	ServiceErrorAuthExpired         = "WEARABLES_AUTH_EXPIRED"
	ServiceErrorRateLimited         = "WEARABLES_RATE_LIMITED"
	ServiceErrorProviderUnavailable = "WEARABLES_PROVIDER_UNAVAILABLE"
	ServiceErrorInternal            = "WEARABLES_INTERNAL_ERROR"
)

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrMissingParams), errors.Is(err, ErrInvalidSource):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	case errors.Is(err, ErrSourceNotRegistered):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorSourceNotFound)
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrIntegrationNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotConnected)
	case errors.Is(err, ErrSessionExpired):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorSessionExpired)
	case errors.Is(err, ErrTokenMismatch):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorTokenMismatch)
	case errors.Is(err, ErrAuthExpired):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorAuthExpired)
	case errors.Is(err, ErrRateLimited):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case errors.Is(err, ErrExchangeFailed), errors.Is(err, ErrCredentialUnreadable):
		return newServiceError(err.Error(), goerrors.CategoryOperation, ServiceErrorExchangeFailed)
	case errors.Is(err, ErrProviderUnavailable):
		return newServiceError(err.Error(), goerrors.CategoryExternal, ServiceErrorProviderUnavailable)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotConnected
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorAuthExpired
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryExternal:
		return ServiceErrorProviderUnavailable
	case goerrors.CategoryOperation:
		return ServiceErrorExchangeFailed
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
