package turbopng

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
)

var physData = []byte{0, 0, 0x03, 0xe8, 0, 0, 0x03, 0xe8, 1}

func testChunk(name string, data []byte) RawChunk {
	return RawChunk{Name: chunkName(name), Data: data}
}

// storedPNG encodes pixels with no filtering and no
// compression, giving a valid but deliberately large file.
func storedPNG(t testing.TB, img *rawImage, preserved *PreservedChunks) []byte {
	idat, err := deflate(filterRows(img, FilterNone), zlib.NoCompression)
	if err != nil {
		t.Fatal(err)
	}
	return writePNG(img, idat, preserved)
}

func rgbaImage(width, height int, pix []byte) *rawImage {
	return &rawImage{Width: width, Height: height, ColorType: colorRGBA, BitDepth: 8, Pix: pix}
}

// noisyPixels is a deterministic RGBA gradient with little
// repetition along rows.
func noisyPixels(width, height int) []byte {
	res := make([]byte, 0, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			base := byte((x*37 + y*19) % 256)
			res = append(res, base, base+53, base+101, 0xff)
		}
	}
	return res
}

// blockPixels is a 16x16 image of 4x4 blocks in four
// colors.
func blockPixels() []byte {
	colors := [][4]byte{
		{255, 0, 0, 255},
		{0, 255, 0, 255},
		{0, 0, 255, 255},
		{255, 255, 0, 255},
	}
	res := make([]byte, 0, 16*16*4)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			c := colors[(x/4+y/4)%len(colors)]
			res = append(res, c[:]...)
		}
	}
	return res
}

// metadataPNG is a 1x1 red pixel carrying a pHYs chunk
// and a tEXt comment before its image data.
func metadataPNG(t testing.TB) []byte {
	return storedPNG(t, rgbaImage(1, 1, []byte{255, 0, 0, 255}), &PreservedChunks{
		BeforeImage: []RawChunk{
			testChunk("pHYs", physData),
			testChunk("tEXt", []byte("Comment\x00licensed")),
		},
	})
}

func writeTestFile(t testing.TB, dir, name string, data []byte) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func decodePixels(t testing.TB, data []byte) []byte {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return nrgbaPixels(img)
}

func uniqueColors(pix []byte) int {
	colors := map[[4]byte]bool{}
	for i := 0; i < len(pix); i += 4 {
		colors[[4]byte{pix[i], pix[i+1], pix[i+2], pix[i+3]}] = true
	}
	return len(colors)
}

func maxChannelDiff(a, b []byte) int {
	var res int
	for i := range a {
		if d := abs(int(a[i]) - int(b[i])); d > res {
			res = d
		}
	}
	return res
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func findChunk(t testing.TB, data []byte, name string) ([]byte, bool) {
	var res []byte
	var found bool
	err := walkChunks(data, func(n [4]byte, body []byte, crc uint32) error {
		if !found && string(n[:]) == name {
			res, found = body, true
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return res, found
}

func listChunks(t testing.TB, data []byte) []string {
	names, err := ListChunks(data)
	if err != nil {
		t.Fatal(err)
	}
	return names
}

// animatedPNG is a two-frame opaque RGBA APNG of the given
// size whose second frame is stored in fdAT.
func animatedPNG(t testing.TB, size int) []byte {
	first := noisyPixels(size, size)
	second := append([]byte{}, first...)
	for i := range second {
		if i%4 != 3 {
			second[i]++
		}
	}
	frame, err := deflate(filterRows(rgbaImage(size, size, second), FilterNone), zlib.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	fdat := binary.BigEndian.AppendUint32(nil, 2)
	fdat = append(fdat, frame...)

	actl := binary.BigEndian.AppendUint32(nil, 2)
	actl = binary.BigEndian.AppendUint32(actl, 0)
	return storedPNG(t, rgbaImage(size, size, first), &PreservedChunks{
		BeforeImage: []RawChunk{testChunk("acTL", actl), testChunk("fcTL", frameControl(0, size))},
		AfterImage:  []RawChunk{testChunk("fcTL", frameControl(1, size)), testChunk("fdAT", fdat)},
	})
}

func frameControl(seq uint32, size int) []byte {
	res := binary.BigEndian.AppendUint32(nil, seq)
	res = binary.BigEndian.AppendUint32(res, uint32(size))
	res = binary.BigEndian.AppendUint32(res, uint32(size))
	res = append(res, make([]byte, 8)...)
	res = binary.BigEndian.AppendUint16(res, 1)
	res = binary.BigEndian.AppendUint16(res, 10)
	return append(res, 0, 0)
}

// checkLayout fails the test if a chunk whose layout
// depends on IHDR does not match it. Frames are assumed to
// cover the whole image.
func checkLayout(t *testing.T, data []byte) {
	t.Helper()
	h, err := readHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	img := &rawImage{Width: h.Width, Height: h.Height, ColorType: h.ColorType, BitDepth: h.BitDepth}
	bkgdLen := map[byte]int{colorGray: 2, colorGrayAlpha: 2, colorRGB: 6, colorRGBA: 6, colorIndexed: 1}
	sbitLen := map[byte]int{colorGray: 1, colorGrayAlpha: 2, colorRGB: 3, colorRGBA: 4, colorIndexed: 3}
	trnsLen := map[byte]int{colorGray: 2, colorRGB: 6}
	var paletteSize int
	err = walkChunks(data, func(name [4]byte, body []byte, crc uint32) error {
		switch string(name[:]) {
		case "PLTE":
			paletteSize = len(body) / 3
		case "bKGD":
			if len(body) != bkgdLen[h.ColorType] {
				t.Errorf("bKGD has %d bytes for color type %d", len(body), h.ColorType)
			}
		case "sBIT":
			if len(body) != sbitLen[h.ColorType] {
				t.Errorf("sBIT has %d bytes for color type %d", len(body), h.ColorType)
			}
		case "hIST":
			if len(body) != 2*paletteSize {
				t.Errorf("hIST has %d bytes for %d palette entries", len(body), paletteSize)
			}
		case "tRNS":
			if h.ColorType == colorIndexed {
				if len(body) > paletteSize {
					t.Errorf("tRNS has %d entries for %d palette entries", len(body), paletteSize)
				}
			} else if len(body) != trnsLen[h.ColorType] {
				t.Errorf("tRNS has %d bytes for color type %d", len(body), h.ColorType)
			}
		case "fdAT":
			r, err := zlib.NewReader(bytes.NewReader(body[4:]))
			if err != nil {
				return err
			}
			frame, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			if want := (img.stride() + 1) * img.Height; len(frame) != want {
				t.Errorf("fdAT frame has %d bytes, IHDR implies %d", len(frame), want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// decodeWide decodes every pixel at 16 bits per channel.
func decodeWide(t testing.TB, data []byte) []color.NRGBA64 {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	var res []color.NRGBA64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			res = append(res, color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64))
		}
	}
	return res
}
