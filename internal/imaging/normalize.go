// Package imaging turns arbitrary encoded images into the square tile the
// vision pipeline expects.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"llmbridge/internal/events"
	"llmbridge/pkg/types"
)

// TileSize is the edge length of the normalized tile.
const TileSize = 256

// MaxPixels bounds the declared size of an input image. Decoders allocate the
// full pixel buffer from the header before reading any pixel data.
const MaxPixels = 64 << 20

// Normalizer downsizes and center-crops images before they reach an engine.
type Normalizer struct {
	publisher events.Publisher
	tile      int
}

// New returns a Normalizer that reports sizes as logging events on pub.
func New(pub events.Publisher) *Normalizer {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Normalizer{publisher: pub, tile: TileSize}
}

// NormalizeBase64 strips an optional "<mime>;base64," prefix, decodes the
// payload and normalizes it.
func (n *Normalizer) NormalizeBase64(h types.Handle, payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(StripDataURLPrefix(payload))
	if err != nil {
		return nil, types.NewError(types.KindImageDecode, h, "invalid base64 image payload", err)
	}
	return n.Normalize(h, raw)
}

// Normalize decodes encoded and returns the tile bytes. Images with a side
// below the tile size, and images already exactly tile-sized, come back
// unchanged. Larger images are scaled so the shorter side equals the tile
// size, center-cropped, and re-encoded as PNG.
func (n *Normalizer) Normalize(h types.Handle, encoded []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(encoded))
	if err != nil {
		return nil, types.NewError(types.KindImageDecode, h, "cannot decode image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, types.NewError(types.KindImageDecode, h,
			fmt.Sprintf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels), nil)
	}
	src, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, types.NewError(types.KindImageDecode, h, "cannot decode image", err)
	}
	b := src.Bounds()
	w, ht := b.Dx(), b.Dy()
	if w < n.tile || ht < n.tile || (w == n.tile && ht == n.tile) {
		n.publisher.Publish(events.Logging(h, fmt.Sprintf("image original %dx%d, final %dx%d (unchanged)", w, ht, w, ht)))
		return encoded, nil
	}

	sw, sh := ScaledSize(w, ht, n.tile)
	scaled := src
	if sw != w || sh != ht {
		dst := image.NewRGBA(image.Rect(0, 0, sw, sh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		scaled = dst
	}
	off := CropOffset(sw, sh, n.tile)
	tile := image.NewRGBA(image.Rect(0, 0, n.tile, n.tile))
	draw.Draw(tile, tile.Bounds(), scaled, scaled.Bounds().Min.Add(off), draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, tile); err != nil {
		return nil, fmt.Errorf("encode tile: %w", err)
	}
	n.publisher.Publish(events.Logging(h, fmt.Sprintf("image original %dx%d, scaled %dx%d, final %dx%d", w, ht, sw, sh, n.tile, n.tile)))
	return buf.Bytes(), nil
}

// ScaledSize returns the dimensions after uniform scaling so the shorter side
// equals tile.
func ScaledSize(w, h, tile int) (int, int) {
	if w <= h {
		return tile, int(math.Round(float64(h) * float64(tile) / float64(w)))
	}
	return int(math.Round(float64(w) * float64(tile) / float64(h))), tile
}

// CropOffset returns the top-left corner of a centered tile inside a sw×sh image.
func CropOffset(sw, sh, tile int) image.Point {
	return image.Pt((sw-tile)/2, (sh-tile)/2)
}

// StripDataURLPrefix removes "data:<mime>;base64," or "<mime>;base64," from s.
func StripDataURLPrefix(s string) string {
	const marker = ";base64,"
	if i := strings.Index(s, marker); i >= 0 {
		return s[i+len(marker):]
	}
	return s
}
