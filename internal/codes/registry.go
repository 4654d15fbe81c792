// Package codes issues short-lived, single-use check-in codes and tracks
// their validity window.
//
// Expiry is lazy: nothing runs in the background. Callers invoke Sweep
// before reading or writing, and codes past the window are dropped then.
package codes

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"

	"qrattend/internal/clock"
)

// DefaultWindow is how long an issued code stays valid.
const DefaultWindow = 30 * time.Second

// ErrGeneration is returned by Issue when a token or its image could not be produced.
var ErrGeneration = errors.New("code generation failed")

// Validity is the outcome of a registry lookup.
type Validity int

const (
	Unknown Validity = iota
	Valid
	Expired
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Code is an issued token together with its rendered image.
type Code struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Image     []byte
}

// DataURL returns the image as a base64 PNG data URL.
func (c Code) DataURL() string { return DataURL(c.Image) }

// Registry stores live codes keyed by value.
//
// Swept codes are kept as tombstones until Purge or Reset, so a late scan
// is reported as expired rather than unknown.
type Registry struct {
	mu       sync.Mutex
	clock    clock.Clock
	window   time.Duration
	length   int
	generate func(n int) (string, error)
	encoder  Encoder

	live    map[string]time.Time
	expired map[string]time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithWindow sets the validity window.
func WithWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithLength sets the generated token length.
func WithLength(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.length = n
		}
	}
}

// WithGenerator replaces the random token source.
func WithGenerator(fn func(n int) (string, error)) Option {
	return func(r *Registry) { r.generate = fn }
}

// WithEncoder replaces the QR image encoder.
func WithEncoder(e Encoder) Option {
	return func(r *Registry) { r.encoder = e }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		clock:    clock.Real(),
		window:   DefaultWindow,
		length:   DefaultLength,
		generate: GenerateToken,
		encoder:  QREncoder{Size: DefaultImageSize, Level: qrcode.Medium},
		live:     make(map[string]time.Time),
		expired:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window returns the configured validity window.
func (r *Registry) Window() time.Duration { return r.window }

// Issue generates, stores and returns a new code. Nothing is stored when
// the token or its image cannot be produced.
func (r *Registry) Issue() (Code, error) {
	value, err := r.generate(r.length)
	if err != nil {
		return Code{}, fmt.Errorf("%w: token: %v", ErrGeneration, err)
	}
	img, err := r.encoder.Encode(value)
	if err != nil {
		return Code{}, fmt.Errorf("%w: image: %v", ErrGeneration, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.live[value] = now
	delete(r.expired, value)
	return Code{
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.window),
		Image:     img,
	}, nil
}

// Sweep drops every live code older than the window and returns how many
// were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	swept := 0
	for value, issued := range r.live {
		if now.Sub(issued) > r.window {
			delete(r.live, value)
			r.expired[value] = issued
			swept++
		}
	}
	return swept
}

// IsValid reports whether value is live and inside its window.
func (r *Registry) IsValid(value string) Validity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if issued, ok := r.live[value]; ok {
		if r.clock.Now().Sub(issued) > r.window {
			return Expired
		}
		return Valid
	}
	if _, ok := r.expired[value]; ok {
		return Expired
	}
	return Unknown
}

// Consume removes a live code. It reports false if the code was not live,
// so at most one caller can consume a given value.
func (r *Registry) Consume(value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[value]; !ok {
		return false
	}
	delete(r.live, value)
	return true
}

// Purge forgets value entirely, live or swept.
func (r *Registry) Purge(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, value)
	delete(r.expired, value)
}

// Reset drops every code.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = make(map[string]time.Time)
	r.expired = make(map[string]time.Time)
}

// Len returns the number of live codes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
