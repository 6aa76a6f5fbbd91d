// Package qr decodes QR codes from image frames and renders record
// identifiers as QR images.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	qrcode "github.com/skip2/go-qrcode"
	_ "golang.org/x/image/webp"
)

// ErrNoCode means the frame holds no readable QR code. It is the normal
// result for most camera frames.
var ErrNoCode = errors.New("no qr code in frame")

// Decoder wraps the gozxing QR reader. Each call builds its own reader, so
// a Decoder is safe for concurrent use and keeps no state between frames.
type Decoder struct {
	TryHarder bool
}

// NewDecoder returns a decoder that spends extra effort on low quality frames.
func NewDecoder() *Decoder {
	return &Decoder{TryHarder: true}
}

// Decode returns the text of the first QR code found in img.
func (d *Decoder) Decode(img image.Image) (string, error) {
	if img == nil {
		return "", ErrNoCode
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("qr: binarize frame: %w", err)
	}
	var hints map[gozxing.DecodeHintType]interface{}
	if d.TryHarder {
		hints = map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	}
	res, err := zxqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		if _, ok := err.(gozxing.NotFoundException); ok {
			return "", ErrNoCode
		}
		return "", fmt.Errorf("qr: decode: %w", err)
	}
	if res.GetText() == "" {
		return "", ErrNoCode
	}
	return res.GetText(), nil
}

// DecodeBytes decodes an encoded JPEG, PNG or WebP image and reads its QR code.
func (d *Decoder) DecodeBytes(data []byte) (string, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return "", err
	}
	return d.Decode(img)
}

// DecodeImage parses JPEG, PNG or WebP bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("qr: decode image: %w", err)
	}
	return img, nil
}

// EncodePNG renders content as a size x size PNG with high error correction.
func EncodePNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(content, qrcode.Highest, size)
	if err != nil {
		return nil, fmt.Errorf("qr: encode: %w", err)
	}
	return png, nil
}

// Image renders content as an in-memory image for composition.
func Image(content string, size int) (image.Image, error) {
	code, err := qrcode.New(content, qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("qr: encode: %w", err)
	}
	return code.Image(size), nil
}
