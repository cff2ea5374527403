package loc

import "errors"

// Sentinel errors for LOC header extension handling.
var (
	// ErrMissingExtension indicates a required header extension is absent.
	ErrMissingExtension = errors.New("missing header extension")

	// ErrMalformed indicates header extension bytes that cannot be parsed.
	ErrMalformed = errors.New("malformed header extension")

	// ErrUnknownMediaType indicates a media type value without a mapping.
	ErrUnknownMediaType = errors.New("unknown media type")
)
