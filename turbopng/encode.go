package turbopng

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/color"

	"github.com/klauspost/compress/zlib"
)

// PNG color types.
const (
	colorGray      = 0
	colorRGB       = 2
	colorIndexed   = 3
	colorGrayAlpha = 4
	colorRGBA      = 6
)

// A RowFilter is a scanline filter strategy.
type RowFilter int

const (
	FilterNone RowFilter = iota
	FilterSub
	FilterUp
	FilterAverage
	FilterPaeth

	// FilterAdaptive picks, for each row, the filter that
	// minimizes the sum of absolute filtered values.
	FilterAdaptive
)

// AllFilters lists every filter strategy.
var AllFilters = []RowFilter{
	FilterNone, FilterSub, FilterUp, FilterAverage, FilterPaeth, FilterAdaptive,
}

func (r RowFilter) String() string {
	switch r {
	case FilterNone:
		return "none"
	case FilterSub:
		return "sub"
	case FilterUp:
		return "up"
	case FilterAverage:
		return "average"
	case FilterPaeth:
		return "paeth"
	case FilterAdaptive:
		return "adaptive"
	}
	return fmt.Sprintf("RowFilter(%d)", int(r))
}

// rawImage is an unfiltered PNG image in its serialized
// sample layout.
type rawImage struct {
	Width     int
	Height    int
	ColorType byte
	BitDepth  byte
	Interlace byte
	Pix       []byte

	// Palette is written as PLTE. For colorIndexed it also
	// supplies tRNS; other color types may carry it as a
	// suggested palette.
	Palette []color.NRGBA

	// Transparent is the tRNS payload of a gray or
	// truecolor image.
	Transparent []byte
}

func (r *rawImage) channels() int {
	switch r.ColorType {
	case colorGray, colorIndexed:
		return 1
	case colorGrayAlpha:
		return 2
	case colorRGB:
		return 3
	default:
		return 4
	}
}

// pixelBytes is the filter distance, i.e. bytes per
// complete pixel.
func (r *rawImage) pixelBytes() int {
	if n := r.channels() * int(r.BitDepth) / 8; n > 0 {
		return n
	}
	return 1
}

func (r *rawImage) stride() int {
	return (r.Width*r.channels()*int(r.BitDepth) + 7) / 8
}

// filterRows produces the filtered scanlines of img, each
// prefixed by its filter type byte.
func filterRows(img *rawImage, strategy RowFilter) []byte {
	stride := img.stride()
	bpp := img.pixelBytes()
	out := make([]byte, 0, (stride+1)*img.Height)
	prev := make([]byte, stride)
	candidates := make([][]byte, 5)
	for i := range candidates {
		candidates[i] = make([]byte, stride)
	}
	for y := 0; y < img.Height; y++ {
		row := img.Pix[y*stride : (y+1)*stride]
		if strategy == FilterAdaptive {
			best, bestSum := 0, -1
			for f := range candidates {
				applyFilter(RowFilter(f), candidates[f], row, prev, bpp)
				if sum := absSum(candidates[f]); bestSum < 0 || sum < bestSum {
					best, bestSum = f, sum
				}
			}
			out = append(out, byte(best))
			out = append(out, candidates[best]...)
		} else {
			applyFilter(strategy, candidates[0], row, prev, bpp)
			out = append(out, byte(strategy))
			out = append(out, candidates[0]...)
		}
		prev = row
	}
	return out
}

func applyFilter(f RowFilter, dst, row, prev []byte, bpp int) {
	switch f {
	case FilterNone:
		copy(dst, row)
	case FilterSub:
		for i := range row {
			var left byte
			if i >= bpp {
				left = row[i-bpp]
			}
			dst[i] = row[i] - left
		}
	case FilterUp:
		for i := range row {
			dst[i] = row[i] - prev[i]
		}
	case FilterAverage:
		for i := range row {
			var left int
			if i >= bpp {
				left = int(row[i-bpp])
			}
			dst[i] = row[i] - byte((left+int(prev[i]))/2)
		}
	case FilterPaeth:
		for i := range row {
			var left, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prev[i-bpp]
			}
			dst[i] = row[i] - paeth(left, prev[i], upLeft)
		}
	default:
		panic(fmt.Sprintf("cannot apply filter %v to a single row", f))
	}
}

// unfilterRows reverses filterRows, returning the
// unfiltered samples of a non-interlaced image.
func unfilterRows(img *rawImage, filtered []byte) ([]byte, error) {
	stride := img.stride()
	bpp := img.pixelBytes()
	if want := (stride + 1) * img.Height; len(filtered) < want {
		return nil, fmt.Errorf("%w: image data is %d bytes, want %d", ErrMalformedFile,
			len(filtered), want)
	}
	pix := make([]byte, stride*img.Height)
	prev := make([]byte, stride)
	for y := 0; y < img.Height; y++ {
		in := filtered[y*(stride+1) : (y+1)*(stride+1)]
		row := pix[y*stride : (y+1)*stride]
		copy(row, in[1:])
		switch RowFilter(in[0]) {
		case FilterNone:
		case FilterSub:
			for i := bpp; i < stride; i++ {
				row[i] += row[i-bpp]
			}
		case FilterUp:
			for i := range row {
				row[i] += prev[i]
			}
		case FilterAverage:
			for i := range row {
				var left int
				if i >= bpp {
					left = int(row[i-bpp])
				}
				row[i] += byte((left + int(prev[i])) / 2)
			}
		case FilterPaeth:
			for i := range row {
				var left, upLeft byte
				if i >= bpp {
					left = row[i-bpp]
					upLeft = prev[i-bpp]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("%w: row %d has filter type %d", ErrMalformedFile, y, in[0])
		}
		prev = row
	}
	return pix, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func absSum(row []byte) int {
	var sum int
	for _, x := range row {
		sum += abs(int(int8(x)))
	}
	return sum
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// deflate compresses filtered scanlines into a zlib stream.
func deflate(data []byte, level int) ([]byte, error) {
	return deflateBlocks(data, level, 0)
}

// deflateBlocks is like deflate, but if blockSize is
// positive the stream is flushed after every blockSize
// input bytes, so that each part is coded with its own
// Huffman tables.
func deflateBlocks(data []byte, level, blockSize int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		blockSize = len(data)
	}
	for len(data) > 0 {
		n := min(blockSize, len(data))
		if _, err := w.Write(data[:n]); err != nil {
			return nil, err
		}
		data = data[n:]
		if len(data) > 0 {
			if err := w.Flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writePNG serializes img with an already-compressed IDAT
// payload, placing the preserved chunks around the image
// data in their original order.
func writePNG(img *rawImage, idat []byte, preserved *PreservedChunks) []byte {
	var buf bytes.Buffer
	buf.WriteString(pngSignature)

	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:], uint32(img.Width))
	binary.BigEndian.PutUint32(ihdr[4:], uint32(img.Height))
	ihdr[8] = img.BitDepth
	ihdr[9] = img.ColorType
	ihdr[12] = img.Interlace
	writeChunk(&buf, "IHDR", ihdr[:])

	if len(img.Palette) > 0 {
		plte, trns := paletteChunks(img.Palette)
		writeChunk(&buf, "PLTE", plte)
		if img.ColorType == colorIndexed && len(trns) > 0 {
			writeChunk(&buf, "tRNS", trns)
		}
	}
	if img.ColorType != colorIndexed && len(img.Transparent) > 0 {
		writeChunk(&buf, "tRNS", img.Transparent)
	}

	if preserved != nil {
		for _, c := range preserved.BeforeImage {
			writeChunk(&buf, string(c.Name[:]), c.Data)
		}
	}
	writeChunk(&buf, "IDAT", idat)
	if preserved != nil {
		for _, c := range preserved.AfterImage {
			writeChunk(&buf, string(c.Name[:]), c.Data)
		}
	}
	writeChunk(&buf, "IEND", nil)
	return buf.Bytes()
}

// paletteChunks builds PLTE and tRNS payloads. The tRNS
// payload is empty when every entry is opaque, and
// otherwise omits trailing opaque entries.
func paletteChunks(palette []color.NRGBA) (plte, trns []byte) {
	plte = make([]byte, 0, len(palette)*3)
	trns = make([]byte, 0, len(palette))
	for _, c := range palette {
		plte = append(plte, c.R, c.G, c.B)
		trns = append(trns, c.A)
	}
	for len(trns) > 0 && trns[len(trns)-1] == 0xff {
		trns = trns[:len(trns)-1]
	}
	return plte, trns
}

func writeChunk(buf *bytes.Buffer, name string, data []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], name)
	buf.Write(header[:])
	buf.Write(data)
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], chunkCRC(chunkName(name), data))
	buf.Write(crc[:])
}
