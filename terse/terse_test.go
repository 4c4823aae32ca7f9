package terse_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-terse/terse/terse"
)

func TestPushUnpackSignedRoundTrip_S1(t *testing.T) {
	xs := make([]int32, 1000)
	for i := range xs {
		xs[i] = int32(i) - 500
	}

	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushSigned(fs, xs, nil))
	assert.Equal(t, 10, fs.MaxBits())

	out := make([]int32, len(xs))
	require.NoError(t, terse.UnpackSigned(fs, 0, out))
	assert.Equal(t, xs, out)

	ratio := float64(fs.PackedSize()) / float64(len(xs)*4)
	assert.InDelta(t, 0.29, ratio, 0.03)
}

func TestPushUnpackUnsignedAllZero_S2(t *testing.T) {
	xs := make([]uint32, 262144)
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushUnsigned(fs, xs, nil))
	assert.Equal(t, 0, fs.MaxBits())
	assert.Equal(t, 2732, fs.PackedSize())

	out := make([]uint32, len(xs))
	require.NoError(t, terse.UnpackUnsigned(fs, 0, out))
	assert.Equal(t, xs, out)
}

func TestPushUnpackUnsignedSingleBlock_S3(t *testing.T) {
	xs := []uint16{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 65535}
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushUnsigned(fs, xs, nil))
	assert.Equal(t, 16, fs.MaxBits())

	out := make([]uint16, len(xs))
	require.NoError(t, terse.UnpackUnsigned(fs, 0, out))
	assert.Equal(t, xs, out)
}

func TestLazyOffsetResolutionAcrossFrames_S4(t *testing.T) {
	fs := terse.NewEmpty(3)
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1, 2, 3}, nil))
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1000000, 2, 3}, nil))
	assert.Equal(t, 2, fs.FrameCount())

	// Pushes record every offset; a store loaded by Read knows only
	// frame 0's, so frame 1's offset is resolved lazily here.
	var buf bytes.Buffer
	require.NoError(t, fs.Write(&buf))
	fs2 := terse.NewEmpty(12)
	require.NoError(t, fs2.Read(&buf))

	out := make([]uint32, 3)
	require.NoError(t, terse.UnpackUnsigned(fs2, 1, out))
	assert.Equal(t, []uint32{1000000, 2, 3}, out)
}

func TestSaturatingNarrowingDecode_S5(t *testing.T) {
	xs := []int32{math.MinInt32, math.MaxInt32}
	fs := terse.NewEmpty(2)
	require.NoError(t, terse.PushSigned(fs, xs, nil))
	assert.Equal(t, 32, fs.MaxBits())

	out := make([]int16, len(xs))
	require.NoError(t, terse.UnpackSigned(fs, 0, out))
	assert.Equal(t, []int16{math.MinInt16, math.MaxInt16}, out)
}

func TestSignedStoreIntoUnsignedTargetFails_S6(t *testing.T) {
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushSigned(fs, []int32{-1, -2, -3}, nil))

	out := make([]uint32, 3)
	err := terse.UnpackUnsigned(fs, 0, out)
	assert.ErrorIs(t, err, terse.ErrSignednessMismatch)
}

func TestUnsignedAllOnesDecodesAsNegativeOneWhenOutputIsSigned(t *testing.T) {
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushUnsigned(fs, []uint64{math.MaxUint64}, nil))

	out := make([]int64, 1)
	require.NoError(t, terse.UnpackSigned(fs, 0, out))
	assert.Equal(t, int64(-1), out[0])
}

func TestUnpackFloatReconstructsAccordingToStoreSignedness(t *testing.T) {
	signed := terse.NewEmpty(12)
	require.NoError(t, terse.PushSigned(signed, []int32{-7, 7}, nil))
	floats := make([]float64, 2)
	require.NoError(t, terse.UnpackFloat(signed, 0, floats))
	assert.Equal(t, []float64{-7, 7}, floats)

	unsigned := terse.NewEmpty(12)
	require.NoError(t, terse.PushUnsigned(unsigned, []uint32{7}, nil))
	floats2 := make([]float64, 1)
	require.NoError(t, terse.UnpackFloat(unsigned, 0, floats2))
	assert.Equal(t, []float64{7}, floats2)
}

func TestPushFrameRejectsLengthMismatch(t *testing.T) {
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1, 2, 3}, nil))
	err := terse.PushUnsigned(fs, []uint32{1, 2}, nil)
	assert.ErrorIs(t, err, terse.ErrShapeMismatch)
}

func TestPushFrameRejectsSignednessMismatch(t *testing.T) {
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1, 2, 3}, nil))
	err := terse.PushSigned(fs, []int32{1, 2, 3}, nil)
	assert.ErrorIs(t, err, terse.ErrSignednessMismatch)
}

func TestSetShapeRejectsWrongProduct(t *testing.T) {
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1, 2, 3, 4}, nil))
	err := fs.SetShape([]int{3})
	assert.ErrorIs(t, err, terse.ErrShapeMismatch)
}

func TestUnpackOutOfRangeFrame(t *testing.T) {
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1, 2, 3}, nil))
	out := make([]uint32, 3)
	err := terse.UnpackUnsigned(fs, 5, out)
	assert.ErrorIs(t, err, terse.ErrFrameIndexOutOfRange)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	fs := terse.NewEmpty(4)
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1, 2, 3, 4, 5}, []int{5}))
	require.NoError(t, terse.PushUnsigned(fs, []uint32{6, 7, 8, 9, 10}, nil))

	var buf bytes.Buffer
	require.NoError(t, fs.Write(&buf))

	fs2 := terse.NewEmpty(12)
	require.NoError(t, fs2.Read(&buf))
	assert.Equal(t, fs.FrameLength(), fs2.FrameLength())
	assert.Equal(t, fs.Shape(), fs2.Shape())
	assert.Equal(t, fs.SignedValues(), fs2.SignedValues())

	out := make([]uint32, 5)
	require.NoError(t, terse.UnpackUnsigned(fs2, 1, out))
	assert.Equal(t, []uint32{6, 7, 8, 9, 10}, out)
}

func TestResolvedMaskTracksLazyResolution(t *testing.T) {
	fs := terse.NewEmpty(3)
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1, 2, 3}, nil))
	require.NoError(t, terse.PushUnsigned(fs, []uint32{4, 5, 6}, nil))

	var buf bytes.Buffer
	require.NoError(t, fs.Write(&buf))

	fs2 := terse.NewEmpty(12)
	require.NoError(t, fs2.Read(&buf))
	mask := fs2.ResolvedMask()
	assert.True(t, mask.Get(0))
	assert.False(t, mask.Get(1))

	out := make([]uint32, 3)
	require.NoError(t, terse.UnpackUnsigned(fs2, 1, out))
	mask = fs2.ResolvedMask()
	assert.True(t, mask.Get(1))
}

func TestVerifyReportsNoErrorsOnWellFormedStore(t *testing.T) {
	fs := terse.NewEmpty(12)
	require.NoError(t, terse.PushSigned(fs, []int32{-500, 499, 0}, nil))
	require.NoError(t, fs.Verify())
}

func TestReadReportsTruncatedBuffer(t *testing.T) {
	fs := terse.NewEmpty(2)
	require.NoError(t, terse.PushUnsigned(fs, []uint32{1, 2, 3, 4}, nil))

	var buf bytes.Buffer
	require.NoError(t, fs.Write(&buf))
	truncated := buf.Bytes()[:buf.Len()-1]

	fs2 := terse.NewEmpty(12)
	err := fs2.Read(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, terse.ErrBufferShort)
}
