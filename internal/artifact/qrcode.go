// Package artifact renders the scannable QR images shown for attendance codes.
package artifact

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"qrattend/internal/attendance"
)

const dataURLPrefix = "data:image/png;base64,"

// Options controls the rendered image.
type Options struct {
	// Width is the edge length of the square image in pixels.
	Width int
	// Margin is the quiet zone around the symbol, in modules.
	Margin int
	Dark   string
	Light  string
}

// DefaultOptions matches the look of the codes printed by the web view.
func DefaultOptions() Options {
	return Options{Width: 300, Margin: 2, Dark: "#000000", Light: "#ffffff"}
}

// QREncoder encodes URLs as QR code PNG data URLs.
type QREncoder struct {
	opts  Options
	dark  color.Color
	light color.Color
	level qrcode.RecoveryLevel
}

// NewQREncoder validates opts and returns an encoder.
func NewQREncoder(opts Options) (*QREncoder, error) {
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Margin < 0 {
		return nil, fmt.Errorf("artifact: negative margin %d", opts.Margin)
	}
	if opts.Dark == "" {
		opts.Dark = def.Dark
	}
	if opts.Light == "" {
		opts.Light = def.Light
	}
	dark, err := ParseHexColor(opts.Dark)
	if err != nil {
		return nil, err
	}
	light, err := ParseHexColor(opts.Light)
	if err != nil {
		return nil, err
	}
	return &QREncoder{opts: opts, dark: dark, light: light, level: qrcode.Medium}, nil
}

// Encode renders url and returns a data:image/png;base64 URL.
func (e *QREncoder) Encode(ctx context.Context, url string) (string, error) {
	b, err := e.PNG(ctx, url)
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(b), nil
}

// PNG renders url as raw PNG bytes.
func (e *QREncoder) PNG(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", attendance.ErrEncodingFailure, err)
	}
	q, err := qrcode.New(url, e.level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", attendance.ErrEncodingFailure, err)
	}
	q.DisableBorder = true
	q.ForegroundColor = e.dark
	q.BackgroundColor = e.light

	modules := len(q.Bitmap())
	total := modules + 2*e.opts.Margin
	width := e.opts.Width
	if width < total {
		width = total
	}
	inner := width * modules / total
	offset := (width - inner) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, width, width))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: e.light}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(offset, offset, offset+inner, offset+inner), q.Image(inner), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("%w: %w", attendance.ErrEncodingFailure, err)
	}
	return buf.Bytes(), nil
}

// DecodeDataURL extracts the PNG bytes from a data URL produced by Encode.
func DecodeDataURL(s string) ([]byte, error) {
	if !strings.HasPrefix(s, dataURLPrefix) {
		return nil, errors.New("artifact: not a png data url")
	}
	return base64.StdEncoding.DecodeString(s[len(dataURLPrefix):])
}

// ParseHexColor parses #rgb or #rrggbb.
func ParseHexColor(s string) (color.Color, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return nil, fmt.Errorf("artifact: invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("artifact: invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
