// Package errs contains sentinel errors shared by the repository, service and
// HTTP layers so failures can be mapped to stable codes with errors.Is.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates a conditional write lost against a concurrent change.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates the request carries no usable identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an identity without the required role or ownership.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates the caller exceeded the download rate.
	ErrRateLimited = errors.New("rate limited")
)

// Checkout and payment.
var (
	ErrInvalidCart        = errors.New("invalid cart")
	ErrAssetUnavailable   = errors.New("asset not purchasable")
	ErrTokenCollision     = errors.New("intent token collision, retry with a fresh token")
	ErrIntentNotFound     = errors.New("order intent not found")
	ErrIntentExpired      = errors.New("order intent expired")
	ErrPaymentRejected    = errors.New("payment rejected by gateway")
	ErrAmountMismatch     = errors.New("confirmed amount does not match intent total")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrDuplicateConfirmation is recovered internally: a second confirmation
	// of the same intent returns the purchases created by the first.
	ErrDuplicateConfirmation = errors.New("intent already confirmed")
)

// Entitlement and storage.
var (
	ErrNotEntitled           = errors.New("no purchase for this asset")
	ErrEntitlementExpired    = errors.New("entitlement window has ended")
	ErrQuotaExceeded         = errors.New("download quota exhausted")
	ErrStorageUnavailable    = errors.New("storage backend unavailable")
	ErrAssetMissingOnBackend = errors.New("asset missing on storage backend")
	ErrAssetReferenced       = errors.New("asset is referenced by purchases or intents")
)
