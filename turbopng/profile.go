package turbopng

const (
	MinQuality     = 1
	MaxQuality     = 100
	DefaultQuality = 90
)

// A QualityProfile bundles every knob derived from the
// quality setting.
type QualityProfile struct {
	// QuantMin and QuantMax bound the quantizer's
	// acceptable error, as qualities in [0, 100].
	// Clustering stops once QuantMax is reached, and a
	// result that misses QuantMin is flagged.
	QuantMin int
	QuantMax int

	// PaletteCap is the maximum number of palette entries.
	PaletteCap int

	// Speed trades quantizer effort for time. Quantizers
	// accept 1 (slowest, best) to 10 (fastest); the tiers
	// use 1, 3, 5, 7 and 9.
	Speed int

	// Dither is the error-diffusion strength in [0, 1].
	Dither float32

	// PhotoTier enables row-filter search, both in the
	// indexed encoder and in the final re-encode.
	PhotoTier bool

	// CoderIterations caps the DEFLATE trials of the
	// exhaustive coder.
	CoderIterations int
}

// SelectProfile maps a quality in [1, 100] to its
// profile. Out-of-range qualities are clamped.
//
// The tier boundaries and values are fixed constants and
// must not drift; output sizes depend on them.
func SelectProfile(quality int) QualityProfile {
	q := clampQuality(quality)
	lo, hi := quantWindow(q)
	return QualityProfile{
		QuantMin:        lo,
		QuantMax:        hi,
		PaletteCap:      paletteCap(q),
		Speed:           quantSpeed(q),
		Dither:          ditherLevel(q),
		PhotoTier:       q >= 98,
		CoderIterations: coderIterations(q),
	}
}

func clampQuality(q int) int {
	if q < MinQuality {
		return MinQuality
	} else if q > MaxQuality {
		return MaxQuality
	}
	return q
}

func quantWindow(q int) (int, int) {
	switch {
	case q >= 98:
		return 85, 99
	case q >= 95:
		return 80, 96
	case q >= 85:
		return 70, 92
	case q >= 70:
		return 60, 88
	case q >= 55:
		return 45, 82
	case q >= 40:
		return 35, 76
	default:
		return 25, 68
	}
}

func paletteCap(q int) int {
	switch {
	case q >= 98:
		return 96
	case q >= 95:
		return 48
	case q >= 85:
		return 32
	case q >= 70:
		return 24
	case q >= 55:
		return 20
	case q >= 40:
		return 16
	default:
		return 12
	}
}

func quantSpeed(q int) int {
	switch {
	case q >= 90:
		return 1
	case q >= 75:
		return 3
	case q >= 50:
		return 5
	case q >= 30:
		return 7
	default:
		return 9
	}
}

func ditherLevel(q int) float32 {
	switch {
	case q >= 90:
		return 1.0
	case q >= 75:
		return 0.8
	case q >= 50:
		return 0.6
	case q >= 30:
		return 0.4
	default:
		return 0.3
	}
}

func coderIterations(q int) int {
	switch {
	case q >= 95:
		return 25
	case q >= 80:
		return 20
	case q >= 60:
		return 15
	case q >= 40:
		return 12
	default:
		return 10
	}
}
