package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureDecode
	ValidateFailureWrongType
	ValidateFailureFamilyRevoked
	ValidateFailureTokenRevoked
	ValidateFailureStore
)

// ValidateStore is the store surface used by validation.
type ValidateStore interface {
	GetFamily(ctx context.Context, familyID string) (store.Family, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ValidateDeps captures validation dependencies.
type ValidateDeps struct {
	Decode func(string) (*jwt.Claims, error)
	Store  ValidateStore
}

// ValidateResult returns either claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.Claims
}

// RunValidate checks a token against the revocation state. Both kinds fail
// once their family is revoked or gone; refresh tokens additionally fail when
// a revoked marker exists. want restricts the accepted type; empty accepts both.
func RunValidate(ctx context.Context, token string, want jwt.TokenType, deps ValidateDeps) ValidateResult {
	claims, err := deps.Decode(token)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureDecode, Err: err}
	}
	if want != "" && claims.Type != want {
		return ValidateResult{Failure: ValidateFailureWrongType, Claims: claims}
	}
	if claims.Type != jwt.TypeAccess && claims.Type != jwt.TypeRefresh {
		return ValidateResult{Failure: ValidateFailureWrongType, Claims: claims}
	}

	fam, err := deps.Store.GetFamily(ctx, claims.Family)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ValidateResult{Failure: ValidateFailureFamilyRevoked, Err: err, Claims: claims}
	case err != nil:
		return ValidateResult{Failure: ValidateFailureStore, Err: err, Claims: claims}
	case fam.Revoked:
		return ValidateResult{Failure: ValidateFailureFamilyRevoked, Claims: claims}
	}

	if claims.Type == jwt.TypeRefresh {
		revoked, err := deps.Store.IsRevoked(ctx, claims.ID)
		if err != nil {
			return ValidateResult{Failure: ValidateFailureStore, Err: err, Claims: claims}
		}
		if revoked {
			return ValidateResult{Failure: ValidateFailureTokenRevoked, Claims: claims}
		}
	}

	return ValidateResult{Claims: claims}
}
