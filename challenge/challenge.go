// Package challenge implements the CAPTCHA-style rate limit on anchor
// registration: a short-lived alphanumeric code rendered to a PNG,
// checked once and then discarded.
package challenge

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"time"

	pcrypto "github.com/openanchor/anchorsvc/pkg/crypto"
)

// MaxInFlight bounds how many unresolved challenges may exist at once.
const MaxInFlight = 500

// TTL is how long a challenge remains checkable.
const TTL = 5 * time.Minute

const (
	charsLen = 5
	keyLen   = 10
	alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// BusyError is returned by Create when MaxInFlight challenges are
// already outstanding.
type BusyError struct{}

func (e *BusyError) Error() string { return "challenge store is busy" }

// Challenge is the response to a successful Create call.
type Challenge struct {
	Key       string
	PNGBase64 string
}

// Attempt is a caller's claim to have solved a challenge.
type Attempt struct {
	Key   string
	Chars string
}

type entry struct {
	created time.Time
	chars   string
}

// Store holds outstanding challenges, refusing new ones with BusyError
// once full and lazily expiring stale entries on create and check.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	// now is overridable for deterministic tests.
	now func() time.Time

	// render produces chars as a PNG; overridable so tests can avoid
	// paying the image-encoding cost and so a build-time test harness
	// can substitute a fixed rendering without touching production code.
	render func(chars string) ([]byte, error)

	// generateChars produces the displayed character string; kept
	// swappable for the same reason as render, never overridden in the
	// production binary.
	generateChars func() (string, error)
}

// defaultGenerateChars produces the displayed character string for
// production use. The dummy_captcha build tag overrides it at init
// time for tests that need a predictable code.
var defaultGenerateChars = generateChars

// New returns an empty challenge store.
func New() *Store {
	return &Store{
		entries:       make(map[string]entry),
		now:           time.Now,
		render:        renderPNG,
		generateChars: defaultGenerateChars,
	}
}

// Create mints a new challenge, failing with BusyError if the store is
// already full.
func (s *Store) Create() (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpiredLocked(now)

	if len(s.entries) >= MaxInFlight {
		return Challenge{}, &BusyError{}
	}

	chars, err := s.generateChars()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge characters: %w", err)
	}
	key, err := generateKey()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge key: %w", err)
	}
	png, err := s.render(chars)
	if err != nil {
		return Challenge{}, fmt.Errorf("render challenge: %w", err)
	}

	s.entries[key] = entry{created: now, chars: chars}
	return Challenge{Key: key, PNGBase64: base64.StdEncoding.EncodeToString(png)}, nil
}

// Check consumes the entry for attempt.Key (if any) and reports
// whether it was a live, matching solve.
func (s *Store) Check(attempt Attempt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpiredLocked(now)

	e, ok := s.entries[attempt.Key]
	delete(s.entries, attempt.Key)
	if !ok {
		return false
	}
	if now.Sub(e.created) > TTL {
		return false
	}
	return e.chars == attempt.Chars
}

func (s *Store) evictExpiredLocked(now time.Time) {
	for k, e := range s.entries {
		if now.Sub(e.created) > TTL {
			delete(s.entries, k)
		}
	}
}

func generateChars() (string, error) {
	b, err := pcrypto.RandBytes(charsLen)
	if err != nil {
		return "", err
	}
	out := make([]byte, charsLen)
	for i, v := range b {
		out[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(out), nil
}

func generateKey() (string, error) {
	b, err := pcrypto.RandBytes(keyLen)
	if err != nil {
		return "", err
	}
	out := make([]byte, keyLen)
	for i, v := range b {
		out[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(out), nil
}

const (
	glyphWidth  = 16
	glyphHeight = 24
)

// renderPNG draws chars as plain black blocks on white, one glyph per
// character. There's no OCR-resistant distortion: this is a rate
// limit on scripted registration, not a defense against a motivated
// human solver, so simple block rendering is enough.
func renderPNG(chars string) ([]byte, error) {
	width := glyphWidth * len(chars)
	img := image.NewRGBA(image.Rect(0, 0, width, glyphHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	for i, c := range chars {
		drawGlyph(img, i*glyphWidth, byte(c))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawGlyph paints a deterministic block pattern derived from c into
// the glyphWidth x glyphHeight cell starting at xOffset. It isn't a
// real font; it only needs to be deterministic for a given character
// so the same chars always render the same bitmap.
func drawGlyph(img *image.RGBA, xOffset int, c byte) {
	seed := uint32(c)
	for y := 4; y < glyphHeight-4; y++ {
		for x := 2; x < glyphWidth-2; x++ {
			bit := (seed >> uint((x+y)%32)) & 1
			if bit == 1 {
				img.Set(xOffset+x, y, color.Black)
			}
		}
	}
}
