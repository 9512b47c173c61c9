package codec

import "errors"

// Sentinel kinds a caller can match with errors.Is, matching the three
// CodecError kinds the design calls for: TruncatedInput, InvalidEnum,
// BadLength.
var (
	ErrTruncated   = errors.New("codec: truncated input")
	ErrInvalidEnum = errors.New("codec: invalid enum value")
	ErrBadLength   = errors.New("codec: bad length")
)
