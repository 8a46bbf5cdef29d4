package goRotate

import "errors"

var (
	// ErrInvalidToken is returned for tokens that fail signature, format or expiry checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenType is returned when an access token is presented where a refresh token is required, or the reverse.
	ErrWrongTokenType = errors.New("wrong token type")
	// ErrTokenNotFound is returned when no refresh record exists for the presented jti.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenReused is returned when an already redeemed refresh token is presented.
	// The token's family is revoked before this error is returned.
	ErrTokenReused = errors.New("refresh token reuse detected")
	// ErrDeviceMismatch is returned when the refresh token is presented from another device.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrFamilyRevoked is returned when the token's family has been revoked.
	ErrFamilyRevoked = errors.New("token family revoked")
	// ErrTokenRevoked is returned when the refresh token was individually revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrUserNotFound is returned when the user provider cannot resolve the subject.
	ErrUserNotFound = errors.New("user not found")
	// ErrIssuanceFailed is returned when identifiers cannot be generated or signing fails.
	ErrIssuanceFailed = errors.New("token issuance failed")
	// ErrRateLimited is returned when a family exceeds the refresh throttle.
	ErrRateLimited = errors.New("refresh rate limited")
	// ErrUnavailable is returned when the token store or user provider failed or timed out.
	ErrUnavailable = errors.New("token backend unavailable")

	// ErrUnauthorized is the transport-facing replacement for security errors.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// PublicError maps security errors to [ErrUnauthorized] so transports do not
// reveal which check failed. Other errors are returned unchanged.
func PublicError(err error) error {
	if IsSecurityError(err) {
		return ErrUnauthorized
	}
	return err
}

// IsRetryable reports whether the operation may succeed if repeated.
// Only backend unavailability is retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsSecurityError reports whether err signals a possible token theft or a
// revoked session.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrTokenReused) ||
		errors.Is(err, ErrDeviceMismatch) ||
		errors.Is(err, ErrFamilyRevoked) ||
		errors.Is(err, ErrTokenRevoked)
}
