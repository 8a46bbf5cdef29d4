package rate

import "errors"

var (
	// ErrRateLimited is returned once a family exhausts its attempt budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps counter backend failures.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)
