package turbopng

import (
	"fmt"

	"github.com/klauspost/compress/zlib"
)

// AssembleIndexed encodes a quantized image as an 8-bit
// indexed PNG and re-inserts the preserved chunks around
// its image data.
//
// Photo-tier profiles use adaptive per-row filtering; all
// other profiles leave rows unfiltered. The result is an
// intermediate encode meant for the Optimizer.
func AssembleIndexed(q *QuantizedImage, width, height int, preserved *PreservedChunks,
	profile QualityProfile) ([]byte, error) {
	if len(q.Palette) == 0 || len(q.Palette) > 256 {
		return nil, fmt.Errorf("%w: %d entries", ErrInvalidPalette, len(q.Palette))
	}
	if len(q.Indices) != width*height {
		return nil, fmt.Errorf("%w: have %d, want %d (%dx%d)", ErrInvalidIndices,
			len(q.Indices), width*height, width, height)
	}
	for i, idx := range q.Indices {
		if int(idx) >= len(q.Palette) {
			return nil, fmt.Errorf("%w: pixel %d references entry %d of %d", ErrInvalidIndices,
				i, idx, len(q.Palette))
		}
	}

	img := &rawImage{
		Width:     width,
		Height:    height,
		ColorType: colorIndexed,
		BitDepth:  8,
		Pix:       q.Indices,
		Palette:   q.Palette,
	}
	filter := FilterNone
	if profile.PhotoTier {
		filter = FilterAdaptive
	}
	idat, err := deflate(filterRows(img, filter), zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return writePNG(img, idat, preserved), nil
}
