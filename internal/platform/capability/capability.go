// Package capability verifies that the host runtime supplies the
// primitives the embedded engine depends on: a text encoder that writes
// into a caller-supplied buffer, a cryptographically sufficient random
// source, and a monotonic clock.
//
// Capabilities are an explicit value injected into the engine
// constructor. The gate fills missing members with in-process shims of
// equivalent behavior; a member the host already supplies is never
// overwritten. Shims are applied exactly once per gate.
package capability

import (
	"bytes"
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// Codec is the text-encoding primitive. EncodeInto writes the UTF-8
// encoding of s into dst without splitting a rune, returning the number
// of bytes written and the number of source runes consumed.
type Codec struct {
	Encode     func(s string) []byte
	EncodeInto func(dst []byte, s string) (nDst, nSrc int)
}

// Provider carries the full capability set handed to the engine.
// Nil members are filled by the gate; non-nil members are trusted as-is
// and only checked by Verify's smoke tests.
type Provider struct {
	Codec       Codec
	RandomBytes func(b []byte) error
	Monotonic   func() time.Duration
}

var processStart = time.Now()

// Gate completes and verifies a capability provider.
type Gate struct {
	log *slog.Logger

	mu       sync.Mutex
	provider Provider
	shimmed  []string
	complete bool
}

// NewGate wraps the host-supplied provider. A zero Provider is valid and
// yields a fully shimmed capability set.
func NewGate(p Provider, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{provider: p, log: log}
}

// Provider returns the completed capability set, applying shims for any
// missing members first.
func (g *Gate) Provider() Provider {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked()
	return g.provider
}

// Shimmed returns the names of primitives that were filled in, for
// diagnostics.
func (g *Gate) Shimmed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked()
	out := make([]string, len(g.shimmed))
	copy(out, g.shimmed)
	return out
}

// Verify reports whether, after shimming, all three primitives respond
// correctly to a smoke-test invocation. Idempotent and safe to call
// before every initialization attempt. A false result is a hard
// precondition failure: the engine must not load.
func (g *Gate) Verify(ctx context.Context) bool {
	p := g.Provider()

	if err := ctx.Err(); err != nil {
		return false
	}

	if !g.verifyCodec(p.Codec) {
		g.log.Warn("capability check failed", slog.String("primitive", "codec"))
		return false
	}
	if !g.verifyRandom(p.RandomBytes) {
		g.log.Warn("capability check failed", slog.String("primitive", "random"))
		return false
	}
	if !g.verifyClock(p.Monotonic) {
		g.log.Warn("capability check failed", slog.String("primitive", "clock"))
		return false
	}
	return true
}

// ensureLocked fills missing provider members exactly once. Present
// members are never replaced; a codec with Encode but no EncodeInto gets
// only the missing method, layered on the host's own Encode.
func (g *Gate) ensureLocked() {
	if g.complete {
		return
	}
	g.complete = true

	switch {
	case g.provider.Codec.Encode == nil && g.provider.Codec.EncodeInto == nil:
		g.provider.Codec = Codec{Encode: encode, EncodeInto: encodeInto}
		g.shimmed = append(g.shimmed, "codec")
	case g.provider.Codec.EncodeInto == nil:
		g.provider.Codec.EncodeInto = encodeIntoVia(g.provider.Codec.Encode)
		g.shimmed = append(g.shimmed, "codec.encodeInto")
	case g.provider.Codec.Encode == nil:
		g.provider.Codec.Encode = encode
		g.shimmed = append(g.shimmed, "codec.encode")
	}

	if g.provider.RandomBytes == nil {
		g.provider.RandomBytes = randomBytes
		g.shimmed = append(g.shimmed, "random")
	}
	if g.provider.Monotonic == nil {
		g.provider.Monotonic = monotonic
		g.shimmed = append(g.shimmed, "clock")
	}

	if len(g.shimmed) > 0 {
		g.log.Debug("capability shims installed", slog.Any("primitives", g.shimmed))
	}
}

func (g *Gate) verifyCodec(c Codec) bool {
	const probe = "ok"
	buf := make([]byte, 8)
	nDst, nSrc := c.EncodeInto(buf, probe)
	if nDst != len(probe) || nSrc != utf8.RuneCountInString(probe) {
		return false
	}
	if string(buf[:nDst]) != probe {
		return false
	}
	// A two-byte buffer must hold exactly the two ASCII bytes.
	nDst, _ = c.EncodeInto(buf[:2], probe)
	return nDst == 2 && c.Encode != nil && string(c.Encode(probe)) == probe
}

func (g *Gate) verifyRandom(random func([]byte) error) bool {
	a := make([]byte, 16)
	b := make([]byte, 16)
	if err := random(a); err != nil {
		return false
	}
	if err := random(b); err != nil {
		return false
	}
	zero := make([]byte, 16)
	// Two independent 16-byte draws colliding, or coming back zeroed,
	// means the source is not producing entropy.
	return !bytes.Equal(a, b) && !bytes.Equal(a, zero)
}

func (g *Gate) verifyClock(mono func() time.Duration) bool {
	t1 := mono()
	t2 := mono()
	return t2 >= t1 && t2 >= 0
}

// encode is the shim text encoder.
func encode(s string) []byte {
	return []byte(s)
}

// encodeInto is the shim buffer-writing encoder. It never splits a rune
// across the end of dst.
func encodeInto(dst []byte, s string) (nDst, nSrc int) {
	for _, r := range s {
		n := utf8.RuneLen(r)
		if n < 0 || nDst+n > len(dst) {
			break
		}
		utf8.EncodeRune(dst[nDst:], r)
		nDst += n
		nSrc++
	}
	return nDst, nSrc
}

// encodeIntoVia derives the buffer-writing method from a host-supplied
// whole-string encoder, preserving its byte-level behavior.
func encodeIntoVia(enc func(string) []byte) func(dst []byte, s string) (int, int) {
	return func(dst []byte, s string) (int, int) {
		nDst, nSrc := 0, 0
		for _, r := range s {
			b := enc(string(r))
			if nDst+len(b) > len(dst) {
				break
			}
			copy(dst[nDst:], b)
			nDst += len(b)
			nSrc++
		}
		return nDst, nSrc
	}
}

func randomBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}

func monotonic() time.Duration {
	return time.Since(processStart)
}
