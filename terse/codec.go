package terse

import (
	"github.com/pkg/errors"

	"github.com/go-terse/terse/bitcursor"
)

// maxWidth is the largest per-value bit width the header grammar can
// express: "0 111 11 111111" (yyyyyy all set) encodes 10+63 = 73.
const maxWidth = 73

// noPrevWidth is passed as wPrev for a frame's first block. It is
// distinct from every legal width (including 0) so the first block of
// a frame can never be written as a "repeat previous width" bit, even
// when its own width happens to be 0.
const noPrevWidth = -1

func widthMask(w int) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	if w == 0 {
		return 0
	}
	return (uint64(1) << uint(w)) - 1
}

// bitsNeeded returns floor(log2(v))+1, the number of bits required to
// represent v as an unsigned binary number, or 0 if v == 0.
func bitsNeeded(v uint64) int {
	n := 0
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}

// blockMagnitude returns the unsigned quantity that computeBlockWidth
// ORs across a block's values. For a negative v this is |v|-1, not |v|:
// the minimal two's-complement width for v is the smallest w with
// -2^(w-1) <= v, i.e. 2^(w-1) >= |v|, i.e. bitsNeeded(|v|-1)+1 — using
// |v| directly overcounts by one bit whenever v is an exact negative
// power of two (e.g. int32's minimum value needs 32 bits total, but
// bitsNeeded(|v|)+1 would claim 33). Positive values have no such
// off-by-one and use |v| unchanged. int64's asymmetric range is handled
// the same way: negating math.MinInt64 wraps back to itself in int64
// arithmetic, but the uint64 cast of that wrapped value is exactly
// 1<<63, the correct magnitude.
func blockMagnitude(raw uint64, signed bool) uint64 {
	if !signed {
		return raw
	}
	v := int64(raw)
	if v < 0 {
		return uint64(-v) - 1
	}
	return uint64(v)
}

// computeBlockWidth implements spec §4.2 "Block segmentation": the
// minimum bit width needed to encode every value in a block. A block
// is only ever zero-width when every value in it is the literal value
// 0 — a block of all -1s still needs one bit, so the zero check looks
// at the raw two's-complement pattern directly rather than at the
// reduced magnitude, which collapses both 0 and -1 to the same value.
func computeBlockWidth(blockValues []uint64, signed bool) (int, error) {
	var orMag uint64
	allZero := true
	for _, raw := range blockValues {
		if raw != 0 {
			allZero = false
		}
		orMag |= blockMagnitude(raw, signed)
	}
	var w int
	switch {
	case !signed:
		w = bitsNeeded(orMag)
	case allZero:
		w = 0
	default:
		w = bitsNeeded(orMag) + 1
	}
	if w > maxWidth {
		return 0, errors.Wrapf(ErrWidthOverflow, "block requires %d bits per value", w)
	}
	return w, nil
}

// writeHeader emits the variable-length block header described in
// spec §4.2. wPrev is the width used by the previous block, or
// noPrevWidth for the first block of a frame.
func writeHeader(cur *bitcursor.Cursor, w, wPrev int) {
	if w == wPrev {
		cur.WriteBit(1)
		return
	}
	cur.WriteBit(0)
	switch {
	case w <= 6:
		cur.WriteBits(uint64(w), 3)
	case w <= 9:
		cur.WriteBits(0b111, 3)
		cur.WriteBits(uint64(w-7), 2)
	default:
		cur.WriteBits(0b111, 3)
		cur.WriteBits(0b11, 2)
		cur.WriteBits(uint64(w-10), 6)
	}
}

// readHeader parses one block header and returns the resolved width.
func readHeader(cur *bitcursor.Cursor, wPrev int) int {
	if cur.ReadBit() == 1 {
		return wPrev
	}
	three := cur.ReadBits(3)
	if three != 0b111 {
		return int(three)
	}
	two := cur.ReadBits(2)
	if two != 0b11 {
		return 7 + int(two)
	}
	six := cur.ReadBits(6)
	return 10 + int(six)
}

// writeValueField writes the low w bits of raw's two's-complement (or,
// for unsigned data, plain binary) representation. No value reachable
// through the typed Push/Unpack API needs w > 64 — the widest cases are
// an all-ones uint64 (w=64) and int64's minimum value (w=64, since it is
// exactly representable in 64-bit two's complement) — but the header
// grammar permits w up to 73, so this still has to split the field into
// a 64-bit chunk plus a repeated-sign-bit remainder rather than assume a
// single bitcursor.Cursor call, which never accepts more than 64 bits.
func writeValueField(cur *bitcursor.Cursor, raw uint64, w int) {
	if w <= 64 {
		cur.WriteBits(raw&widthMask(w), uint(w))
		return
	}
	cur.WriteBits(raw, 64)
	extra := w - 64
	var pattern uint64
	if raw>>63 == 1 {
		pattern = widthMask(extra)
	}
	cur.WriteBits(pattern, uint(extra))
}

// readValueField is the inverse of writeValueField.
func readValueField(cur *bitcursor.Cursor, w int) uint64 {
	if w <= 64 {
		return cur.ReadBits(uint(w)) & widthMask(w)
	}
	raw := cur.ReadBits(64)
	cur.Advance(uint64(w - 64)) // redundant sign-extension bits
	return raw
}

// encodeBlock writes one block's header and, if w > 0, its packed
// values. It returns the width used, which becomes wPrev for the next
// block.
func encodeBlock(cur *bitcursor.Cursor, wPrev int, blockValues []uint64, signed bool) (int, error) {
	w, err := computeBlockWidth(blockValues, signed)
	if err != nil {
		return 0, err
	}
	writeHeader(cur, w, wPrev)
	if w > 0 {
		for _, raw := range blockValues {
			writeValueField(cur, raw, w)
		}
	}
	return w, nil
}

// decodeBlockValues reads one block's header and, if present, its n
// packed values, returning the resolved width and the raw 64-bit
// patterns. If extend is true, values are sign-extended from bit w-1 to
// the full 64 bits (the behavior spec.md documents as producing -1 for
// an all-ones unsigned value decoded into a signed output); if false,
// they are zero-extended.
func decodeBlockValues(cur *bitcursor.Cursor, wPrev int, n int, extend bool) (w int, values []uint64) {
	w = readHeader(cur, wPrev)
	values = make([]uint64, n)
	if w == 0 {
		return w, values
	}
	for i := 0; i < n; i++ {
		raw := readValueField(cur, w)
		if extend && w < 64 {
			signBit := uint64(1) << uint(w-1)
			if raw&signBit != 0 {
				raw |= ^uint64(0) << uint(w)
			}
		}
		values[i] = raw
	}
	return w, values
}

// skipBlock advances cur past one block's header and value bits without
// materializing them, used by frame-offset resolution.
func skipBlock(cur *bitcursor.Cursor, wPrev int, n int) (w int) {
	w = readHeader(cur, wPrev)
	if w > 0 {
		cur.Advance(uint64(w) * uint64(n))
	}
	return w
}

// bufferGrowthBytes returns the encode-time upper bound
// ceil(N*(valueByteWidth + 12/(blockSize*8))), raised where needed to
// the exact worst case: a 12-bit header for every block (a short final
// block included) plus valueByteWidth*8 bits per value. The first
// formula alone falls short when the last block holds fewer than
// blockSize values, e.g. a single 64-bit value needs 76 bits, not 72.
func bufferGrowthBytes(n, blockSize, valueByteWidth int) int {
	num := float64(n) * (float64(valueByteWidth) + 12.0/(float64(blockSize)*8.0))
	growth := int(num)
	if float64(growth) < num {
		growth++
	}
	worst := (blockCount(n, blockSize)*12 + n*valueByteWidth*8 + 7) / 8
	if worst > growth {
		growth = worst
	}
	return growth
}

func blockCount(frameLength, blockSize int) int {
	if frameLength == 0 {
		return 0
	}
	return (frameLength + blockSize - 1) / blockSize
}
