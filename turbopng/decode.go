package turbopng

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// A DecodedImage holds 8-bit non-premultiplied RGBA
// pixels, four bytes per pixel in row-major order.
type DecodedImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// NRGBA wraps the pixels as an image without copying.
func (d *DecodedImage) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    d.Pix,
		Stride: d.Width * 4,
		Rect:   image.Rect(0, 0, d.Width, d.Height),
	}
}

type pngHeader struct {
	Width     int
	Height    int
	BitDepth  byte
	ColorType byte
	Interlace byte
}

// readHeader decodes the IHDR chunk, which must be the
// first chunk of the file.
func readHeader(data []byte) (*pngHeader, error) {
	const ihdrEnd = len(pngSignature) + 8 + 13
	if len(data) < len(pngSignature) || !bytes.Equal(data[:len(pngSignature)], []byte(pngSignature)) {
		return nil, ErrMalformedFile
	}
	if len(data) < ihdrEnd {
		return nil, fmt.Errorf("%w: missing IHDR", ErrTruncatedChunk)
	}
	body := data[len(pngSignature):]
	if binary.BigEndian.Uint32(body) != 13 || string(body[4:8]) != "IHDR" {
		return nil, fmt.Errorf("%w: first chunk is not a 13-byte IHDR", ErrMalformedFile)
	}
	body = body[8:]
	return &pngHeader{
		Width:     int(binary.BigEndian.Uint32(body[0:])),
		Height:    int(binary.BigEndian.Uint32(body[4:])),
		BitDepth:  body[8],
		ColorType: body[9],
		Interlace: body[12],
	}, nil
}

// DecodeRGBA decodes a color PNG into 8-bit RGBA.
//
// Palette images are expanded and 16-bit samples are
// truncated to 8 bits. Grayscale images are rejected with
// ErrUnsupportedPixelFormat.
func DecodeRGBA(data []byte) (*DecodedImage, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	switch header.ColorType {
	case colorRGB, colorRGBA, colorIndexed:
	default:
		return nil, fmt.Errorf("%w: color type %d", ErrUnsupportedPixelFormat, header.ColorType)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &DecodedImage{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    nrgbaPixels(img),
	}, nil
}

// nrgbaPixels flattens img into 8-bit non-premultiplied
// RGBA without a premultiplication round trip.
func nrgbaPixels(img image.Image) []uint8 {
	b := img.Bounds()
	res := make([]uint8, 0, b.Dx()*b.Dy()*4)
	switch img := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := img.PixOffset(b.Min.X, y)
			res = append(res, img.Pix[off:off+b.Dx()*4]...)
		}
	case *image.Paletted:
		palette := make([]color.NRGBA, len(img.Palette))
		for i, c := range img.Palette {
			palette[i] = toNRGBA(c)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := palette[img.ColorIndexAt(x, y)]
				res = append(res, c.R, c.G, c.B, c.A)
			}
		}
	case *image.NRGBA64:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := img.NRGBA64At(x, y)
				res = append(res, uint8(c.R>>8), uint8(c.G>>8), uint8(c.B>>8), uint8(c.A>>8))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := toNRGBA(img.At(x, y))
				res = append(res, c.R, c.G, c.B, c.A)
			}
		}
	}
	return res
}

func toNRGBA(c color.Color) color.NRGBA {
	switch c := c.(type) {
	case color.NRGBA:
		return c
	case color.RGBA:
		if c.A == 0xff {
			return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
		}
	case color.RGBA64:
		if c.A == 0xffff {
			return color.NRGBA{R: uint8(c.R >> 8), G: uint8(c.G >> 8), B: uint8(c.B >> 8), A: 0xff}
		}
	}
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}
