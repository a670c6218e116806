package turbopng

import (
	"image/color"
	"math"
)

// A ColorSpace determines where palette colors are
// clustered.
type ColorSpace int

const (
	// RGB clusters raw sRGB components.
	RGB ColorSpace = iota

	// CIELAB clusters perceptual Lab components, which is
	// more accurate than RGB for the same palette size.
	CIELAB
)

// alphaScale weighs alpha against the color components so
// that a fully transparent pixel is as far from an opaque
// one as black is from white.
var alphaScale = [...]float32{RGB: 1, CIELAB: 100}

// colorVector is a point in a ColorSpace, with alpha as
// the fourth component.
type colorVector [4]float32

func (c colorVector) Add(c1 colorVector) colorVector {
	return colorVector{c[0] + c1[0], c[1] + c1[1], c[2] + c1[2], c[3] + c1[3]}
}

func (c colorVector) Scale(s float32) colorVector {
	return colorVector{c[0] * s, c[1] * s, c[2] * s, c[3] * s}
}

func (c colorVector) DistSquared(c1 colorVector) float32 {
	var res float32
	for i, x := range c {
		d := x - c1[i]
		res += d * d
	}
	return res
}

func (c ColorSpace) toVector(co color.NRGBA) colorVector {
	rgb := [3]float32{float32(co.R) / 255, float32(co.G) / 255, float32(co.B) / 255}
	if c == CIELAB {
		rgb = convertXYZToLab(convertLinearRGBToXYZ(convertSRGBToLinearRGB(rgb)))
	}
	return colorVector{rgb[0], rgb[1], rgb[2], float32(co.A) / 255 * alphaScale[c]}
}

func (c ColorSpace) toColor(v colorVector) color.NRGBA {
	rgb := [3]float32{v[0], v[1], v[2]}
	if c == CIELAB {
		rgb = convertLinearRGBToSRGB(convertXYZToLinearRGB(convertLabToXYZ(rgb)))
	}
	return color.NRGBA{
		R: unitToByte(rgb[0]),
		G: unitToByte(rgb[1]),
		B: unitToByte(rgb[2]),
		A: unitToByte(v[3] / alphaScale[c]),
	}
}

func unitToByte(x float32) uint8 {
	if x <= 0 {
		return 0
	} else if x >= 1 {
		return 0xff
	}
	return uint8(math.Round(float64(x) * 255))
}

// D65 reference white.
var labWhite = [3]float64{0.95047, 1.0, 1.08883}

const labDelta = 6.0 / 29.0

func convertXYZToLab(xyz [3]float32) [3]float32 {
	f := func(t float64) float64 {
		if t > labDelta*labDelta*labDelta {
			return math.Cbrt(t)
		}
		return t/(3*labDelta*labDelta) + 4.0/29.0
	}
	fx := f(float64(xyz[0]) / labWhite[0])
	fy := f(float64(xyz[1]) / labWhite[1])
	fz := f(float64(xyz[2]) / labWhite[2])
	return [3]float32{
		float32(116*fy - 16),
		float32(500 * (fx - fy)),
		float32(200 * (fy - fz)),
	}
}

func convertLabToXYZ(lab [3]float32) [3]float32 {
	finv := func(t float64) float64 {
		if t > labDelta {
			return t * t * t
		}
		return 3 * labDelta * labDelta * (t - 4.0/29.0)
	}
	fy := (float64(lab[0]) + 16) / 116
	fx := fy + float64(lab[1])/500
	fz := fy - float64(lab[2])/200
	return [3]float32{
		float32(labWhite[0] * finv(fx)),
		float32(labWhite[1] * finv(fy)),
		float32(labWhite[2] * finv(fz)),
	}
}

func convertLinearRGBToXYZ(rgb [3]float32) [3]float32 {
	return [3]float32{
		0.41239080*rgb[0] + 0.35758434*rgb[1] + 0.18048079*rgb[2],
		0.21263901*rgb[0] + 0.71516868*rgb[1] + 0.07219232*rgb[2],
		0.01933082*rgb[0] + 0.11919478*rgb[1] + 0.95053215*rgb[2],
	}
}

func convertXYZToLinearRGB(xyz [3]float32) [3]float32 {
	return [3]float32{
		3.24096994*xyz[0] - 1.53738318*xyz[1] - 0.49861076*xyz[2],
		-0.96924364*xyz[0] + 1.8759675*xyz[1] + 0.04155506*xyz[2],
		0.05563008*xyz[0] - 0.20397696*xyz[1] + 1.05697151*xyz[2],
	}
}

func convertSRGBToLinearRGB(srgb [3]float32) [3]float32 {
	res := [3]float32{}
	for i, x := range srgb {
		res[i] = gammaExpand(x)
	}
	return res
}

func convertLinearRGBToSRGB(rgb [3]float32) [3]float32 {
	res := [3]float32{}
	for i, x := range rgb {
		res[i] = gammaCompress(x)
	}
	return res
}

func gammaCompress(u float32) float32 {
	if u <= 0.0031308 {
		return 12.92 * u
	} else {
		return 1.055*float32(math.Pow(float64(u), 1/2.4)) - 0.055
	}
}

func gammaExpand(u float32) float32 {
	if u <= 0.04045 {
		return u / 12.92
	} else {
		return float32(math.Pow((float64(u)+0.055)/1.055, 2.4))
	}
}
