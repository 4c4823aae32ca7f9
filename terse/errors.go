package terse

import "errors"

// Sentinel error kinds. Call sites wrap them with context (github.com/pkg/errors
// Wrap/Wrapf, or fmt.Errorf("%w: ...", ErrX, ...)); test with errors.Is,
// following the teacher's own pixcrumbcommon.go convention.
var (
	// ErrShapeMismatch is returned when a pushed frame's length or shape
	// differs from the values the store was fixed to on first push.
	ErrShapeMismatch = errors.New("terse: frame shape or length mismatch")

	// ErrSignednessMismatch is returned when a pushed frame's signedness
	// differs from the store's fixed signedness, or when Unpack targets
	// an unsigned output while the stored data is signed.
	ErrSignednessMismatch = errors.New("terse: signed/unsigned mismatch")

	// ErrWidthOverflow is returned when a block requires more than 73
	// bits per value, the largest width the header grammar can encode.
	ErrWidthOverflow = errors.New("terse: block requires more than 73 bits per value")

	// ErrFrameIndexOutOfRange is returned when Unpack is asked for a
	// frame index that does not exist.
	ErrFrameIndexOutOfRange = errors.New("terse: frame index out of range")

	// ErrHeaderMalformed is returned when the textual header is missing
	// a required attribute, is unparsable, or is internally inconsistent.
	ErrHeaderMalformed = errors.New("terse: malformed header")

	// ErrBufferShort is returned when an input stream ends before
	// memory_size bytes have been delivered.
	ErrBufferShort = errors.New("terse: input stream shorter than memory_size")
)
