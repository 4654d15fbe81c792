package codes

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"
)

// Encoder renders a code value into a scannable image.
type Encoder interface {
	Encode(value string) ([]byte, error)
}

// QREncoder renders PNG QR codes.
type QREncoder struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// DefaultImageSize is the PNG edge length in pixels.
const DefaultImageSize = 256

// Encode returns the PNG bytes for value.
func (e QREncoder) Encode(value string) ([]byte, error) {
	size := e.Size
	if size <= 0 {
		size = DefaultImageSize
	}
	return qrcode.Encode(value, e.Level, size)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(value string) ([]byte, error)

// Encode calls f(value).
func (f EncoderFunc) Encode(value string) ([]byte, error) { return f(value) }

// DataURL formats PNG bytes as a data URL suitable for an <img> src.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
