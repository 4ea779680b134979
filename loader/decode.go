package loader

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Decoder turns raw tile bytes into RGBA pixels.
// PNG, JPEG and WebP are understood.
type Decoder struct {
	// TileSize rescales tiles of any other size to TileSize×TileSize.
	// 0 keeps the source size.
	TileSize int
}

// Decode returns the pixels and the detected format.
func (d Decoder) Decode(data []byte) (*image.RGBA, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty tile", ErrDecode)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	sb := src.Bounds()
	if sb.Empty() {
		return nil, format, fmt.Errorf("%w: %s image has no pixels", ErrDecode, format)
	}
	if d.TileSize > 0 && (sb.Dx() != d.TileSize || sb.Dy() != d.TileSize) {
		dst := image.NewRGBA(image.Rect(0, 0, d.TileSize, d.TileSize))
		draw.BiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
		return dst, format, nil
	}
	if rgba, ok := src.(*image.RGBA); ok && sb.Min == (image.Point{}) {
		return rgba, format, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
	return dst, format, nil
}
