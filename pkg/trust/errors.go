package trust

import "errors"

// Error taxonomy. Validation and not-found errors surface to callers as
// 4xx-equivalents; configuration errors are fatal and must never fall back
// to insecure defaults. Anchor-write failures never appear here at all;
// they are swallowed into the retry path.
var (
	// ErrValidation marks a malformed or missing request field.
	ErrValidation = errors.New("trust: invalid request")

	// ErrEmptyModelHashes is deliberately distinct from ErrValidation so
	// the empty-input case gets its own error code at the boundary.
	ErrEmptyModelHashes = errors.New("trust: model_hashes must not be empty")

	// ErrNotFound means no record exists for the requested key.
	ErrNotFound = errors.New("trust: not found")

	// ErrConfig marks unusable key material or missing signing keys.
	ErrConfig = errors.New("trust: configuration error")
)
