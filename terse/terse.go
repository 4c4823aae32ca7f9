// Package terse implements a lossless, variable-width run-block codec
// for sequences of integer values, modeled on the Terse container
// format: a small textual header followed by a densely bit-packed
// buffer, optionally holding more than one frame of identical shape.
package terse

import (
	"io"
	"math"
	"unsafe"

	"github.com/boljen/go-bitmap"
	"github.com/noxer/bytewriter"
	"github.com/pkg/errors"
	"github.com/xaionaro-go/bytesextra"

	"github.com/go-terse/terse/bitcursor"
	"github.com/go-terse/terse/terse/header"
)

// DefaultBlockSize is the block size new stores use unless told
// otherwise, matching the worked examples in the reference material.
const DefaultBlockSize = 12

// FrameStore owns one or more frames of packed values sharing a
// signedness, length, and (optionally) N-dimensional shape. It never
// retains decoded values; every Unpack re-walks the packed buffer.
type FrameStore struct {
	signed       bool
	blockSize    int
	frameLength  int
	maxBits      int
	shape        []int
	packed       []byte
	frameOffsets []uint64 // entry k: 0 (unresolved) or 1+byteOffset; entry 0 is always 1
}

// NewEmpty returns a store with no frames yet pushed. blockSize must be
// positive; DefaultBlockSize is a reasonable default.
func NewEmpty(blockSize int) *FrameStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &FrameStore{blockSize: blockSize}
}

// FrameCount returns the number of frames pushed so far.
func (fs *FrameStore) FrameCount() int { return len(fs.frameOffsets) }

// FrameLength returns the number of values per frame, fixed by the
// first pushed frame.
func (fs *FrameStore) FrameLength() int { return fs.frameLength }

// SignedValues reports whether frames are stored using the signed
// encoding.
func (fs *FrameStore) SignedValues() bool { return fs.signed }

// BlockSize returns the number of values grouped under one header.
func (fs *FrameStore) BlockSize() int { return fs.blockSize }

// MaxBits returns the widest per-value bit width used by any block
// pushed so far.
func (fs *FrameStore) MaxBits() int { return fs.maxBits }

// Shape returns the N-dimensional shape set on the store, or nil if
// none was given.
func (fs *FrameStore) Shape() []int { return cloneShape(fs.shape) }

// PackedSize returns the current length of the packed buffer in bytes.
func (fs *FrameStore) PackedSize() int { return len(fs.packed) }

// SetShape fixes the store's N-dimensional shape. It fails with
// ErrShapeMismatch once a shape is already set, and, after the first
// PushSigned/PushUnsigned, unless the shape's product matches the fixed
// frame length.
func (fs *FrameStore) SetShape(shape []int) error {
	if fs.shape != nil {
		return errors.Wrapf(ErrShapeMismatch, "shape is already set to %v", fs.shape)
	}
	if fs.frameLength != 0 {
		if err := validateShape(shape, fs.frameLength); err != nil {
			return err
		}
	}
	fs.shape = cloneShape(shape)
	return nil
}

// pushFrame is the untyped core all PushSigned/PushUnsigned
// instantiations funnel through. raw holds each value's 64-bit binary
// (unsigned) or two's-complement (signed) pattern. valueByteWidth is
// the caller's source type width in bytes, used only to size the
// pre-encode buffer growth.
func (fs *FrameStore) pushFrame(raw []uint64, signed bool, shape []int, valueByteWidth int) error {
	if len(fs.frameOffsets) == 0 {
		fs.signed = signed
		fs.frameLength = len(raw)
		if shape != nil {
			if err := validateShape(shape, fs.frameLength); err != nil {
				return err
			}
			fs.shape = cloneShape(shape)
		} else if fs.shape != nil {
			if err := validateShape(fs.shape, fs.frameLength); err != nil {
				return err
			}
		}
	} else {
		if signed != fs.signed {
			return errors.Wrap(ErrSignednessMismatch, "pushed frame's signedness differs from the store's")
		}
		if len(raw) != fs.frameLength {
			return errors.Wrapf(ErrShapeMismatch, "pushed frame has %d values, store is fixed at %d", len(raw), fs.frameLength)
		}
		if shape != nil && !shapeEqual(shape, fs.shape) {
			return errors.Wrapf(ErrShapeMismatch, "pushed shape %v differs from store's %v", shape, fs.shape)
		}
	}

	startByte := len(fs.packed)
	growth := bufferGrowthBytes(len(raw), fs.blockSize, valueByteWidth)
	fs.packed = append(fs.packed, make([]byte, growth)...)

	cur := bitcursor.New(fs.packed)
	cur.Seek(uint64(startByte) * 8)

	wPrev := noPrevWidth
	for i := 0; i < len(raw); i += fs.blockSize {
		end := i + fs.blockSize
		if end > len(raw) {
			end = len(raw)
		}
		w, err := encodeBlock(cur, wPrev, raw[i:end], signed)
		if err != nil {
			fs.packed = fs.packed[:startByte]
			return err
		}
		wPrev = w
		if w > fs.maxBits {
			fs.maxBits = w
		}
	}

	endByte := (cur.Position() + 7) / 8
	fs.packed = fs.packed[:endByte]

	frameIdx := len(fs.frameOffsets)
	if frameIdx == 0 {
		fs.frameOffsets = append(fs.frameOffsets, 1)
	} else {
		fs.frameOffsets = append(fs.frameOffsets, uint64(startByte)+1)
	}
	return nil
}

// resolveOffset returns the byte offset of frame k, materializing
// fs.frameOffsets[k] by re-walking frame k-1's header stream if it was
// not already known (the case after Read, where only frame 0's offset
// is known up front). Re-walking never touches value bits, only
// header widths, so it costs O(blocks), not O(values).
func (fs *FrameStore) resolveOffset(k int) uint64 {
	if fs.frameOffsets[k] != 0 {
		return fs.frameOffsets[k] - 1
	}
	prevOffset := fs.resolveOffset(k - 1)
	cur := bitcursor.New(fs.packed)
	cur.Seek(prevOffset * 8)
	wPrev := noPrevWidth
	remaining := fs.frameLength
	for remaining > 0 {
		n := fs.blockSize
		if n > remaining {
			n = remaining
		}
		wPrev = skipBlock(cur, wPrev, n)
		remaining -= n
	}
	byteOffset := (cur.Position() + 7) / 8
	fs.frameOffsets[k] = byteOffset + 1
	return byteOffset
}

// unpackRaw decodes frame k into n raw 64-bit words, sign- or
// zero-extended according to extend.
func (fs *FrameStore) unpackRaw(k int, extend bool) ([]uint64, error) {
	if k < 0 || k >= len(fs.frameOffsets) {
		return nil, errors.Wrapf(ErrFrameIndexOutOfRange, "frame %d, store has %d frames", k, len(fs.frameOffsets))
	}
	startByte := fs.resolveOffset(k)
	cur := bitcursor.New(fs.packed)
	cur.Seek(startByte * 8)

	out := make([]uint64, 0, fs.frameLength)
	wPrev := noPrevWidth
	remaining := fs.frameLength
	for remaining > 0 {
		n := fs.blockSize
		if n > remaining {
			n = remaining
		}
		w, values := decodeBlockValues(cur, wPrev, n, extend)
		wPrev = w
		out = append(out, values...)
		remaining -= n
	}
	return out, nil
}

// BlockWidths returns the per-value bit width used by each block of
// frame k, in order, without materializing any values.
func BlockWidths(fs *FrameStore, k int) ([]int, error) {
	if k < 0 || k >= len(fs.frameOffsets) {
		return nil, errors.Wrapf(ErrFrameIndexOutOfRange, "frame %d, store has %d frames", k, len(fs.frameOffsets))
	}
	startByte := fs.resolveOffset(k)
	cur := bitcursor.New(fs.packed)
	cur.Seek(startByte * 8)

	var widths []int
	wPrev := noPrevWidth
	remaining := fs.frameLength
	for remaining > 0 {
		n := fs.blockSize
		if n > remaining {
			n = remaining
		}
		w := skipBlock(cur, wPrev, n)
		widths = append(widths, w)
		wPrev = w
		remaining -= n
	}
	return widths, nil
}

// ResolvedMask returns a bitmap the same length as FrameCount, with bit
// k set once frame k's starting offset is known: always for frame 0 and
// for frames pushed into this store, and for the other frames loaded by
// Read once an Unpack, BlockWidths or Verify call has resolved them.
func (fs *FrameStore) ResolvedMask() bitmap.Bitmap {
	bm := bitmap.New(len(fs.frameOffsets))
	for k, off := range fs.frameOffsets {
		if off != 0 {
			bm.Set(k, true)
		}
	}
	return bm
}

type sizedInt interface {
	~int8 | ~int16 | ~int32 | ~int64
}

type sizedUint interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

type floating interface {
	~float32 | ~float64
}

func bitWidthOf[T any]() int {
	var z T
	return int(unsafe.Sizeof(z)) * 8
}

func signedBounds(bits int) (min, max int64) {
	switch bits {
	case 8:
		return math.MinInt8, math.MaxInt8
	case 16:
		return math.MinInt16, math.MaxInt16
	case 32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

func unsignedMax(bits int) uint64 {
	switch bits {
	case 8:
		return math.MaxUint8
	case 16:
		return math.MaxUint16
	case 32:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

func clampSigned(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampUnsigned(v, max uint64) uint64 {
	if v > max {
		return max
	}
	return v
}

// PushSigned appends a frame of signed values, fixing the store's
// signedness, length, and (if this is the first frame and shape is
// non-nil) shape.
func PushSigned[T sizedInt](fs *FrameStore, values []T, shape []int) error {
	raw := make([]uint64, len(values))
	for i, v := range values {
		raw[i] = uint64(int64(v))
	}
	return fs.pushFrame(raw, true, shape, bitWidthOf[T]()/8)
}

// PushUnsigned appends a frame of unsigned values. For non-negative data
// this packs tighter than PushSigned, whose blocks carry one extra sign
// bit per value.
func PushUnsigned[T sizedUint](fs *FrameStore, values []T, shape []int) error {
	raw := make([]uint64, len(values))
	for i, v := range values {
		raw[i] = uint64(v)
	}
	return fs.pushFrame(raw, false, shape, bitWidthOf[T]()/8)
}

// UnpackSigned decodes frame k into out, whose length must equal
// FrameLength. Values are always sign-extended from bit w-1 regardless
// of the store's own signedness: decoding unsigned-stored data into a
// signed output is allowed, and an unsigned block whose values used
// every available bit reproduces as -1, matching the reference
// implementation's documented behavior.
func UnpackSigned[T sizedInt](fs *FrameStore, k int, out []T) error {
	raw, err := fs.unpackRaw(k, true)
	if err != nil {
		return err
	}
	if len(out) != len(raw) {
		return errors.Wrapf(ErrShapeMismatch, "output has %d slots, frame has %d values", len(out), len(raw))
	}
	bits := bitWidthOf[T]()
	min, max := signedBounds(bits)
	for i, r := range raw {
		v := clampSigned(int64(r), min, max)
		out[i] = T(v)
	}
	return nil
}

// UnpackUnsigned decodes frame k into out. It fails if the store holds
// signed data: a field whose top bit is the sign can never be
// reinterpreted as an unsigned magnitude without losing information,
// so that direction is refused outright rather than given a defined
// but surprising answer.
func UnpackUnsigned[T sizedUint](fs *FrameStore, k int, out []T) error {
	if fs.signed {
		return errors.Wrap(ErrSignednessMismatch, "cannot unpack signed-stored data into an unsigned output")
	}
	raw, err := fs.unpackRaw(k, false)
	if err != nil {
		return err
	}
	if len(out) != len(raw) {
		return errors.Wrapf(ErrShapeMismatch, "output has %d slots, frame has %d values", len(out), len(raw))
	}
	max := unsignedMax(bitWidthOf[T]())
	for i, r := range raw {
		out[i] = T(clampUnsigned(r, max))
	}
	return nil
}

// UnpackFloat decodes frame k into out, reconstructing each value
// according to the store's own signedness (not the output type's)
// before converting to float: this is an exact conversion whenever the
// reconstructed integer fits the target's mantissa.
func UnpackFloat[T floating](fs *FrameStore, k int, out []T) error {
	raw, err := fs.unpackRaw(k, fs.signed)
	if err != nil {
		return err
	}
	if len(out) != len(raw) {
		return errors.Wrapf(ErrShapeMismatch, "output has %d slots, frame has %d values", len(out), len(raw))
	}
	for i, r := range raw {
		if fs.signed {
			out[i] = T(int64(r))
		} else {
			out[i] = T(r)
		}
	}
	return nil
}

// Write serializes the header element followed by the packed buffer.
// The combined output is assembled into a fixed-size in-memory buffer
// through bytewriter before being copied to w, the same two-step shape
// the reference codec's own image writers use.
func (fs *FrameStore) Write(w io.Writer) error {
	h := header.Header{
		ProlixBits:     fs.maxBits,
		Signed:         fs.signed,
		Block:          fs.blockSize,
		MemorySize:     len(fs.packed),
		NumberOfValues: fs.frameLength,
		Dimensions:     fs.shape,
		NumberOfFrames: len(fs.frameOffsets),
	}
	headerBytes := []byte(h.String())
	buf := make([]byte, len(headerBytes)+len(fs.packed))
	bw := bytewriter.New(buf)
	if _, err := bw.Write(headerBytes); err != nil {
		return errors.Wrap(err, "writing header element")
	}
	if _, err := bw.Write(fs.packed); err != nil {
		return errors.Wrap(err, "writing packed buffer")
	}

	seeker := bytesextra.NewReadWriteSeeker(buf)
	if _, err := io.Copy(w, seeker); err != nil {
		return errors.Wrap(err, "copying terse stream to writer")
	}
	return nil
}

// Read parses the header element and its following packed buffer from
// r, replacing the store's current contents. Only frame 0's offset is
// known after Read; later frames resolve lazily on first Unpack.
func (fs *FrameStore) Read(r io.Reader) error {
	all, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading terse stream")
	}
	end := indexElementEnd(all)
	if end < 0 {
		return errors.Wrap(ErrHeaderMalformed, "no closing /> found for header element")
	}
	h, err := header.Parse(string(all[:end]))
	if err != nil {
		return errors.Wrap(ErrHeaderMalformed, err.Error())
	}

	seeker := bytesextra.NewReadWriteSeeker(all)
	if _, err := seeker.Seek(int64(end), io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking to packed buffer")
	}
	packed := make([]byte, h.MemorySize)
	if _, err := io.ReadFull(seeker, packed); err != nil {
		return errors.Wrapf(ErrBufferShort, "header promises %d bytes: %s", h.MemorySize, err)
	}

	fs.signed = h.Signed
	fs.blockSize = h.Block
	fs.frameLength = h.NumberOfValues
	fs.maxBits = h.ProlixBits
	fs.shape = cloneShape(h.Dimensions)
	fs.packed = packed

	frameCount := h.NumberOfFrames
	if frameCount == 0 {
		frameCount = 1
	}
	fs.frameOffsets = make([]uint64, frameCount)
	if frameCount > 0 {
		fs.frameOffsets[0] = 1
	}
	return nil
}

// indexElementEnd returns the byte offset immediately following the
// first "/>" in b — the header element's own terminator, per spec.md §6
// ("no padding, no trailer, no magic" between the header and the
// payload) — or -1 if none is found.
func indexElementEnd(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '/' && b[i+1] == '>' {
			return i + 2
		}
	}
	return -1
}
