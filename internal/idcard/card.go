// Package idcard renders a printable student ID card.
package idcard

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"verifyme/internal/qr"
	"verifyme/internal/student"
)

const (
	width   = 640
	height  = 360
	qrSize  = 240
	margin  = 24
	lineGap = 22
	header  = 56
)

var (
	background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	banner     = color.RGBA{R: 0x1e, G: 0x3a, B: 0x8a, A: 0xff}
	ink        = color.RGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}
	muted      = color.RGBA{R: 0x6b, G: 0x72, B: 0x80, A: 0xff}
)

// Render draws the card for rec: a banner, the student's details on the
// left and a QR code of the record id on the right.
func Render(rec student.Record) (image.Image, error) {
	code, err := qr.Image(rec.ID, qrSize)
	if err != nil {
		return nil, fmt.Errorf("qr code: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, width, header), &image.Uniform{C: banner}, image.Point{}, draw.Src)

	text(img, margin, 34, "STUDENT IDENTITY CARD", background)

	qrRect := image.Rect(width-margin-qrSize, header+(height-header-qrSize)/2, width-margin, 0)
	qrRect.Max.Y = qrRect.Min.Y + qrSize
	draw.Draw(img, qrRect, code, code.Bounds().Min, draw.Src)

	lines := []struct{ label, value string }{
		{"Name", rec.FullName},
		{"Matric No", rec.MatricNumber},
		{"Faculty", rec.Faculty},
		{"Department", rec.Department},
		{"Status", string(rec.Status)},
	}
	maxChars := (qrRect.Min.X - margin*2) / 7
	y := header + 40
	for _, l := range lines {
		text(img, margin, y, strings.ToUpper(l.label), muted)
		text(img, margin, y+16, clip(l.value, maxChars), ink)
		y += 16 + lineGap
	}
	text(img, margin, height-margin, "ID "+rec.ID, muted)
	return img, nil
}

// PNG renders the card and encodes it.
func PNG(rec student.Record) ([]byte, error) {
	img, err := Render(rec)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

func text(dst draw.Image, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func clip(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
