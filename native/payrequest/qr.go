package payrequest

import (
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the PNG edge length in pixels.
const DefaultQRSize = 256

// RenderQR encodes u as a PNG QR code.
func RenderQR(u *url.URL, size int) ([]byte, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil url", ErrInvalidURL)
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(u.String(), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("payrequest: render qr: %w", err)
	}
	return png, nil
}

// RenderQRText renders u for a terminal, two modules per character row.
func RenderQRText(u *url.URL) (string, error) {
	if u == nil {
		return "", fmt.Errorf("%w: nil url", ErrInvalidURL)
	}
	code, err := qrcode.New(u.String(), qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("payrequest: render qr: %w", err)
	}
	bitmap := code.Bitmap()
	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bottom := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
