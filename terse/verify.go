package terse

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/go-terse/terse/bitcursor"
)

func errWrapf(kind error, format string, args ...interface{}) error {
	return errors.Wrapf(kind, format, args...)
}

// Verify walks every frame's header stream (without materializing
// values) and reports every structural problem it finds, rather than
// stopping at the first one: a corrupted file is usually corrupted in
// more than one place, and a caller inspecting a bad file wants the
// whole picture in one pass.
func (fs *FrameStore) Verify() error {
	var result *multierror.Error

	if fs.blockSize <= 0 {
		result = multierror.Append(result, errWrapf(ErrHeaderMalformed, "block size %d must be positive", fs.blockSize))
	}
	if fs.shape != nil {
		if err := validateShape(fs.shape, fs.frameLength); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for k := range fs.frameOffsets {
		if err := fs.verifyFrame(k); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// verifyFrame walks frame k's header stream. A header stream that runs
// past the end of the packed buffer hits bitcursor's out-of-range
// panic; that panic is recovered here and turned into ErrBufferShort,
// since Verify's whole point is to survive and report on untrusted
// data rather than crash on it.
func (fs *FrameStore) verifyFrame(k int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errWrapf(ErrBufferShort, "frame %d: %v", k, r)
		}
	}()

	startByte := fs.resolveOffset(k)
	if startByte > uint64(len(fs.packed)) {
		return errWrapf(ErrBufferShort, "frame %d starts at byte %d, packed buffer is %d bytes", k, startByte, len(fs.packed))
	}
	cur := bitcursor.New(fs.packed)
	cur.Seek(startByte * 8)
	wPrev := noPrevWidth
	remaining := fs.frameLength
	for remaining > 0 {
		n := fs.blockSize
		if n > remaining {
			n = remaining
		}
		w := skipBlock(cur, wPrev, n)
		if w > maxWidth {
			return errWrapf(ErrWidthOverflow, "frame %d: block width %d exceeds grammar limit", k, w)
		}
		wPrev = w
		remaining -= n
	}
	if (cur.Position()+7)/8 > uint64(len(fs.packed)) {
		return errWrapf(ErrBufferShort, "frame %d overruns the packed buffer", k)
	}
	return nil
}
