package turbopng

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DefaultIterations is the exhaustive coder's trial budget
// when Optimizer.Iterations is 0.
const DefaultIterations = 15

// A coderTrial is one DEFLATE configuration. A positive
// BlockSize splits the stream into separately coded parts.
type coderTrial struct {
	Level     int
	BlockSize int
}

// exhaustiveTrials lists the configurations tried by the
// exhaustive coder, most promising first. A budget of n
// iterations tries the first n.
var exhaustiveTrials = buildTrials()

func buildTrials() []coderTrial {
	var res []coderTrial
	for _, level := range []int{
		zlib.BestCompression, 8, 7, 6, 5, 4, 3, 2, zlib.BestSpeed, zlib.HuffmanOnly,
	} {
		res = append(res, coderTrial{Level: level})
	}
	for _, level := range []int{zlib.BestCompression, 8, 7, 6} {
		for _, size := range []int{16384, 8192, 4096, 2048, 1024} {
			res = append(res, coderTrial{Level: level, BlockSize: size})
		}
	}
	return res
}

// An Optimizer losslessly re-encodes PNG files, searching
// row filters and DEFLATE settings for the smallest
// output.
//
// Decoded pixels of the output always equal those of the
// input. Ancillary chunks are kept or dropped by Policy.
type Optimizer struct {
	Policy MetadataPolicy

	// Filters lists the strategies to try.
	// If nil, AllFilters is used.
	Filters []RowFilter

	// Exhaustive enables additional DEFLATE trials per
	// filter strategy, at most Iterations of them.
	Exhaustive bool
	Iterations int

	// Reduce allows lossless color type reductions, such
	// as dropping an alpha channel that is fully opaque.
	// Reductions never happen while a kept chunk depends
	// on the image layout.
	Reduce bool
}

// Optimize re-encodes a PNG file.
func (o *Optimizer) Optimize(data []byte) ([]byte, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	preserved, err := ParseChunks(data, o.Policy)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var raw *rawImage
	var stream []byte
	if o.Reduce && !locksLayout(preserved) {
		raw = reduceColorType(rawFromImage(img))
	} else {
		raw, stream, err = sourceImage(data, header)
		if err != nil {
			return nil, err
		}
	}

	var candidates [][]byte
	if raw.Pix == nil {
		// Interlaced passes are recompressed as they are.
		candidates = [][]byte{stream}
	} else {
		for _, filter := range o.filters() {
			candidates = append(candidates, filterRows(raw, filter))
		}
	}
	var bestIDAT []byte
	for _, filtered := range candidates {
		for _, trial := range o.trials() {
			idat, err := deflateBlocks(filtered, trial.Level, trial.BlockSize)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrEncode, err)
			}
			if bestIDAT == nil || len(idat) < len(bestIDAT) {
				bestIDAT = idat
			}
		}
	}
	out := writePNG(raw, bestIDAT, preserved)

	// Nothing would be stripped, so the input is an equally
	// valid answer.
	if len(out) >= len(data) && o.Policy.Kind == PolicyNone {
		return data, nil
	}
	return out, nil
}

func (o *Optimizer) filters() []RowFilter {
	if o.Filters == nil {
		return AllFilters
	}
	return o.Filters
}

func (o *Optimizer) trials() []coderTrial {
	if !o.Exhaustive {
		return exhaustiveTrials[:1]
	}
	n := o.Iterations
	if n == 0 {
		n = DefaultIterations
	}
	if n > len(exhaustiveTrials) {
		n = len(exhaustiveTrials)
	}
	return exhaustiveTrials[:n]
}

// sourceImage recovers the samples of data in their
// original layout, with the PLTE and tRNS contents, so
// that the file can be re-encoded with an identical IHDR.
//
// For interlaced images Pix is nil and the filtered
// stream is returned for reuse.
func sourceImage(data []byte, h *pngHeader) (*rawImage, []byte, error) {
	res := &rawImage{
		Width:     h.Width,
		Height:    h.Height,
		ColorType: h.ColorType,
		BitDepth:  h.BitDepth,
		Interlace: h.Interlace,
	}
	var plte, trns []byte
	var idat bytes.Buffer
	err := walkChunks(data, func(name [4]byte, body []byte, crc uint32) error {
		switch string(name[:]) {
		case "PLTE":
			plte = body
		case "tRNS":
			trns = body
		case "IDAT":
			idat.Write(body)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if n := len(plte) / 3; n > 0 {
		res.Palette = make([]color.NRGBA, n)
		for i := range res.Palette {
			c := color.NRGBA{R: plte[i*3], G: plte[i*3+1], B: plte[i*3+2], A: 0xff}
			if h.ColorType == colorIndexed && i < len(trns) {
				c.A = trns[i]
			}
			res.Palette[i] = c
		}
	}
	if h.ColorType != colorIndexed && len(trns) > 0 {
		res.Transparent = append([]byte{}, trns...)
	}

	r, err := zlib.NewReader(&idat)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	defer r.Close()
	stream, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	if res.Interlace != 0 {
		return res, stream, nil
	}
	res.Pix, err = unfilterRows(res, stream)
	if err != nil {
		return nil, nil, err
	}
	return res, nil, nil
}

// rawFromImage converts a decoded PNG to its serialized
// sample layout without changing any decoded pixel.
func rawFromImage(img image.Image) *rawImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	res := &rawImage{Width: w, Height: h, BitDepth: 8}
	switch img := img.(type) {
	case *image.Paletted:
		res.ColorType = colorIndexed
		res.Palette = make([]color.NRGBA, len(img.Palette))
		for i, c := range img.Palette {
			res.Palette[i] = toNRGBA(c)
		}
		res.Pix = copyRows(img.Pix, img.Stride, w, h)
	case *image.Gray:
		res.ColorType = colorGray
		res.Pix = copyRows(img.Pix, img.Stride, w, h)
	case *image.Gray16:
		res.ColorType = colorGray
		res.BitDepth = 16
		res.Pix = copyRows(img.Pix, img.Stride, w*2, h)
	case *image.NRGBA:
		res.ColorType = colorRGBA
		res.Pix = copyRows(img.Pix, img.Stride, w*4, h)
	case *image.RGBA:
		if !isOpaque8(img) {
			break
		}
		res.ColorType = colorRGB
		res.Pix = make([]byte, 0, w*h*3)
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for x := 0; x < w; x++ {
				res.Pix = append(res.Pix, row[x*4:x*4+3]...)
			}
		}
	case *image.RGBA64:
		if !img.Opaque() {
			break
		}
		res.ColorType = colorRGB
		res.BitDepth = 16
		res.Pix = make([]byte, 0, w*h*6)
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*8]
			for x := 0; x < w; x++ {
				res.Pix = append(res.Pix, row[x*8:x*8+6]...)
			}
		}
	case *image.NRGBA64:
		res.ColorType = colorRGBA
		res.BitDepth = 16
		res.Pix = copyRows(img.Pix, img.Stride, w*8, h)
	}
	if res.Pix == nil {
		// Fall back to 16-bit RGBA, which holds any color.
		res.ColorType = colorRGBA
		res.BitDepth = 16
		res.Pix = make([]byte, 0, w*h*8)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
				res.Pix = append(res.Pix, byte(c.R>>8), byte(c.R), byte(c.G>>8), byte(c.G),
					byte(c.B>>8), byte(c.B), byte(c.A>>8), byte(c.A))
			}
		}
	}
	return res
}

func copyRows(pix []byte, stride, rowBytes, height int) []byte {
	res := make([]byte, 0, rowBytes*height)
	for y := 0; y < height; y++ {
		res = append(res, pix[y*stride:y*stride+rowBytes]...)
	}
	return res
}

func isOpaque8(img *image.RGBA) bool {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if row[x*4+3] != 0xff {
				return false
			}
		}
	}
	return true
}

// locksLayout reports whether any preserved chunk is laid
// out according to the color type or bit depth, or holds
// animation frames coded like IDAT. Such chunks pin IHDR.
func locksLayout(p *PreservedChunks) bool {
	for _, list := range [][]RawChunk{p.BeforeImage, p.AfterImage} {
		for _, c := range list {
			switch string(c.Name[:]) {
			case "bKGD", "sBIT", "hIST", "acTL", "fcTL", "fdAT":
				return true
			}
		}
	}
	return false
}

// reduceColorType drops redundant channels of 8-bit
// truecolor images.
func reduceColorType(img *rawImage) *rawImage {
	if img.BitDepth != 8 || (img.ColorType != colorRGB && img.ColorType != colorRGBA) {
		return img
	}
	channels := img.channels()
	opaque, gray := true, true
	for i := 0; i < len(img.Pix); i += channels {
		p := img.Pix[i : i+channels]
		if p[0] != p[1] || p[1] != p[2] {
			gray = false
		}
		if channels == 4 && p[3] != 0xff {
			opaque = false
		}
		if !gray && !opaque {
			return img
		}
	}
	hasAlpha := channels == 4 && !opaque
	res := &rawImage{Width: img.Width, Height: img.Height, BitDepth: 8}
	switch {
	case gray && hasAlpha:
		res.ColorType = colorGrayAlpha
	case gray:
		res.ColorType = colorGray
	case channels == 4:
		res.ColorType = colorRGB
	default:
		return img
	}
	keep := res.channels()
	res.Pix = make([]byte, 0, img.Width*img.Height*keep)
	for i := 0; i < len(img.Pix); i += channels {
		p := img.Pix[i : i+channels]
		switch res.ColorType {
		case colorGrayAlpha:
			res.Pix = append(res.Pix, p[0], p[3])
		case colorGray:
			res.Pix = append(res.Pix, p[0])
		default:
			res.Pix = append(res.Pix, p[0], p[1], p[2])
		}
	}
	return res
}
