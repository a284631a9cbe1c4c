package translate

import "errors"

var (
	// ErrUndecodablePayload is the only error Translate returns: the payload
	// is not valid text under the configured encoding.
	ErrUndecodablePayload = errors.New("translate: payload cannot be decoded as text")

	// ErrUnknownEncoding is returned by New for an unsupported encoding name.
	ErrUnknownEncoding = errors.New("translate: unknown encoding")

	// ErrInvalidMaxLength is returned by New when the limit cannot hold the
	// truncation marker plus at least one character.
	ErrInvalidMaxLength = errors.New("translate: max length too small")
)

var errInvalidUTF8 = errors.New("invalid UTF-8")
