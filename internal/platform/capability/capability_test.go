package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_ZeroProviderIsFullyShimmed(t *testing.T) {
	g := NewGate(Provider{}, nil)

	assert.True(t, g.Verify(context.Background()))
	assert.ElementsMatch(t, []string{"codec", "random", "clock"}, g.Shimmed())

	p := g.Provider()
	require.NotNil(t, p.Codec.Encode)
	require.NotNil(t, p.Codec.EncodeInto)
	require.NotNil(t, p.RandomBytes)
	require.NotNil(t, p.Monotonic)
}

func TestGate_VerifyIsIdempotent(t *testing.T) {
	g := NewGate(Provider{}, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, g.Verify(context.Background()))
	}
	// Shims applied exactly once per missing primitive.
	assert.Len(t, g.Shimmed(), 3)
}

func TestGate_NeverOverwritesWorkingPrimitive(t *testing.T) {
	randCalls := 0
	hostRandom := func(b []byte) error {
		randCalls++
		for i := range b {
			b[i] = byte(i + randCalls) // distinct per call, non-zero
		}
		return nil
	}
	g := NewGate(Provider{RandomBytes: hostRandom}, nil)

	require.True(t, g.Verify(context.Background()))
	assert.ElementsMatch(t, []string{"codec", "clock"}, g.Shimmed())

	// The host's source stays in place and is actually invoked.
	assert.Greater(t, randCalls, 0)
}

func TestGate_AddsOnlyMissingCodecMethod(t *testing.T) {
	encodeCalls := 0
	hostEncode := func(s string) []byte {
		encodeCalls++
		return []byte(s)
	}
	g := NewGate(Provider{Codec: Codec{Encode: hostEncode}}, nil)

	require.True(t, g.Verify(context.Background()))
	assert.Equal(t, []string{"codec.encodeInto", "random", "clock"}, g.Shimmed())

	// The derived EncodeInto delegates to the host encoder.
	p := g.Provider()
	buf := make([]byte, 4)
	nDst, nSrc := p.Codec.EncodeInto(buf, "ab")
	assert.Equal(t, 2, nDst)
	assert.Equal(t, 2, nSrc)
	assert.Equal(t, "ab", string(buf[:2]))
	assert.Greater(t, encodeCalls, 0)
}

func TestGate_VerifyFailsOnBrokenRandom(t *testing.T) {
	g := NewGate(Provider{RandomBytes: func(b []byte) error {
		return errors.New("no entropy")
	}}, nil)

	assert.False(t, g.Verify(context.Background()))
}

func TestGate_VerifyFailsOnZeroedRandom(t *testing.T) {
	g := NewGate(Provider{RandomBytes: func(b []byte) error {
		return nil // leaves the buffer zeroed
	}}, nil)

	assert.False(t, g.Verify(context.Background()))
}

func TestGate_VerifyFailsOnNonMonotonicClock(t *testing.T) {
	now := 10 * time.Second
	g := NewGate(Provider{Monotonic: func() time.Duration {
		now -= time.Second // runs backwards
		return now
	}}, nil)

	assert.False(t, g.Verify(context.Background()))
}

func TestGate_VerifyFailsOnMiscountingCodec(t *testing.T) {
	g := NewGate(Provider{Codec: Codec{
		Encode: func(s string) []byte { return []byte(s) },
		EncodeInto: func(dst []byte, s string) (int, int) {
			copy(dst, s)
			return 0, 0 // lies about what it wrote
		},
	}}, nil)

	assert.False(t, g.Verify(context.Background()))
}

func TestGate_VerifyHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGate(Provider{}, nil)
	assert.False(t, g.Verify(ctx))
}

func TestEncodeInto_NeverSplitsRunes(t *testing.T) {
	// "héllo" = h(1) é(2) l(1) l(1) o(1) bytes.
	tests := []struct {
		name    string
		bufSize int
		wantDst int
		wantSrc int
	}{
		{"full fit", 8, 6, 5},
		{"exact fit", 6, 6, 5},
		{"cuts before multibyte rune", 2, 1, 1},
		{"fits multibyte rune", 3, 3, 2},
		{"empty buffer", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.bufSize)
			nDst, nSrc := encodeInto(buf, "héllo")
			assert.Equal(t, tt.wantDst, nDst)
			assert.Equal(t, tt.wantSrc, nSrc)
			assert.Equal(t, "héllo"[:tt.wantDst], string(buf[:nDst]))
		})
	}
}

func TestMonotonicShimAdvances(t *testing.T) {
	g := NewGate(Provider{}, nil)
	p := g.Provider()

	t1 := p.Monotonic()
	time.Sleep(time.Millisecond)
	t2 := p.Monotonic()
	assert.Greater(t, t2, t1)
}
