package turbopng

import (
	"fmt"
	"image/color"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// DefaultMaxClusterPixels is the default maximum number of
// pixels used as data points for clustering.
const DefaultMaxClusterPixels = 100000

// A QuantizedImage is a palette plus one palette index per
// pixel, in row-major order.
type QuantizedImage struct {
	Palette []color.NRGBA
	Indices []uint8

	// BelowMinimum is set when the clustering error stayed
	// above the profile's QuantMin target.
	BelowMinimum bool
}

// A Quantizer reduces an image to a bounded palette.
//
// Implementations must return between 1 and
// profile.PaletteCap colors and exactly one index per
// pixel.
type Quantizer interface {
	Quantize(img *DecodedImage, profile QualityProfile) (*QuantizedImage, error)
}

// KMeansQuantizer creates palettes with k-means clustering
// and remaps pixels with Floyd-Steinberg dithering.
type KMeansQuantizer struct {
	// ColorSpace is the space colors are clustered in.
	ColorSpace ColorSpace

	// MaxClusterPixels limits the clustering data points.
	// If 0, DefaultMaxClusterPixels is used.
	MaxClusterPixels int

	// Seed makes clustering reproducible.
	Seed int64
}

// NewKMeansQuantizer creates a quantizer clustering in
// CIELAB.
func NewKMeansQuantizer() *KMeansQuantizer {
	return &KMeansQuantizer{ColorSpace: CIELAB}
}

// Quantize creates a palette of at most profile.PaletteCap
// colors.
//
// The speed knob bounds the number of k-means iterations.
// Iteration stops early once the error falls within
// profile.QuantMax, and the result is flagged when it
// never reaches profile.QuantMin. Images with no more
// unique colors than the cap are reproduced exactly.
func (k *KMeansQuantizer) Quantize(img *DecodedImage, profile QualityProfile) (*QuantizedImage, error) {
	numPixels := img.Width * img.Height
	if numPixels == 0 || len(img.Pix) != numPixels*4 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d pixels", ErrInvalidIndices,
			len(img.Pix), img.Width, img.Height)
	}
	numColors := profile.PaletteCap
	if numColors < 1 || numColors > 256 {
		return nil, fmt.Errorf("%w: cap of %d colors", ErrInvalidPalette, numColors)
	}
	rng := rand.New(rand.NewSource(k.Seed))

	pixels := make([]color.NRGBA, numPixels)
	for i := range pixels {
		p := img.Pix[i*4 : i*4+4]
		pixels[i] = color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
	}

	palette := uniquePalette(pixels, numColors)
	var loss float64
	if palette == nil {
		palette, loss = k.clusterPalette(pixels, profile, rng)
	}
	sortPalette(palette)

	minTarget := qualityToMSE(profile.QuantMin) * float64(clusterScale(k.ColorSpace))
	return &QuantizedImage{
		Palette:      palette,
		Indices:      remap(pixels, img.Width, palette, profile.Dither),
		BelowMinimum: loss > minTarget,
	}, nil
}

func (k *KMeansQuantizer) clusterPalette(pixels []color.NRGBA, profile QualityProfile,
	rng *rand.Rand) ([]color.NRGBA, float64) {
	cs := k.ColorSpace
	maxPixels := k.MaxClusterPixels
	if maxPixels == 0 {
		maxPixels = DefaultMaxClusterPixels
	}
	colors := make([]colorVector, len(pixels))
	for i, p := range pixels {
		colors[i] = cs.toVector(p)
	}
	colors = subsampleClusterPixels(colors, maxPixels, rng)

	clusters := &colorClusters{
		Centers:   kmeansPlusPlusInit(colors, profile.PaletteCap, rng),
		AllColors: colors,
	}
	target := qualityToMSE(profile.QuantMax) * float64(clusterScale(cs))
	loss := clusters.Iterate()
	for i := 0; i < maxIterations(profile.Speed) && loss > target; i++ {
		newLoss := clusters.Iterate()
		if newLoss >= loss {
			break
		}
		loss = newLoss
	}

	seen := map[color.NRGBA]bool{}
	palette := make([]color.NRGBA, 0, len(clusters.Centers))
	for i, center := range clusters.Centers {
		if clusters.Counts[i] == 0 {
			continue
		}
		c := cs.toColor(center)
		if !seen[c] {
			seen[c] = true
			palette = append(palette, c)
		}
	}
	return palette, loss
}

// maxIterations maps a speed in [1, 10] to a k-means
// iteration budget. SelectProfile only uses odd speeds
// from 1 to 9.
func maxIterations(speed int) int {
	if speed < 1 {
		speed = 1
	}
	return 2 * (11 - speed)
}

// qualityToMSE converts a quality in [0, 100] into a mean
// squared error over unit-range channels, using the same
// curve as libimagequant.
func qualityToMSE(quality int) float64 {
	if quality <= 0 {
		return math.MaxFloat64
	}
	if quality >= 100 {
		return 0
	}
	q := float64(quality)
	return 2.5 / math.Pow(210+q, 1.2) * (100.1 - q) / 100
}

// clusterScale is the squared size of a unit channel in
// the cluster space.
func clusterScale(cs ColorSpace) float32 {
	return alphaScale[cs] * alphaScale[cs]
}

// uniquePalette returns the distinct colors of pixels if
// there are at most maxColors of them.
func uniquePalette(pixels []color.NRGBA, maxColors int) []color.NRGBA {
	unique := map[color.NRGBA]struct{}{}
	for _, p := range pixels {
		unique[p] = struct{}{}
		if len(unique) > maxColors {
			return nil
		}
	}
	res := make([]color.NRGBA, 0, len(unique))
	for c := range unique {
		res = append(res, c)
	}
	return res
}

// sortPalette orders entries by ascending alpha so that
// opaque entries trail and can be omitted from tRNS.
func sortPalette(palette []color.NRGBA) {
	sort.Slice(palette, func(i, j int) bool {
		a, b := palette[i], palette[j]
		if a.A != b.A {
			return a.A < b.A
		}
		if a.R != b.R {
			return a.R < b.R
		}
		if a.G != b.G {
			return a.G < b.G
		}
		return a.B < b.B
	})
}

// remap assigns each pixel its nearest palette entry,
// diffusing the quantization error to neighbors scaled by
// dither.
func remap(pixels []color.NRGBA, width int, palette []color.NRGBA, dither float32) []uint8 {
	indices := make([]uint8, len(pixels))
	exact := make(map[color.NRGBA]uint8, len(palette))
	for i, c := range palette {
		exact[c] = uint8(i)
	}

	// Error rows for the current and next scanline, with a
	// one-pixel margin on each side.
	cur := make([][4]float32, width+2)
	next := make([][4]float32, width+2)
	for i, p := range pixels {
		x := i % width
		if x == 0 && i > 0 {
			cur, next = next, cur
			for j := range next {
				next[j] = [4]float32{}
			}
		}
		e := cur[x+1]
		want := [4]float32{
			float32(p.R) + e[0], float32(p.G) + e[1], float32(p.B) + e[2], float32(p.A) + e[3],
		}
		var idx uint8
		if match, ok := exact[p]; ok && e == [4]float32{} {
			idx = match
		} else {
			idx = nearestEntry(palette, want)
		}
		indices[i] = idx
		if dither == 0 {
			continue
		}
		c := palette[idx]
		got := [4]float32{float32(c.R), float32(c.G), float32(c.B), float32(c.A)}
		for ch := range want {
			diff := (want[ch] - got[ch]) * dither
			cur[x+2][ch] += diff * 7 / 16
			next[x][ch] += diff * 3 / 16
			next[x+1][ch] += diff * 5 / 16
			next[x+2][ch] += diff * 1 / 16
		}
	}
	return indices
}

func nearestEntry(palette []color.NRGBA, want [4]float32) uint8 {
	var best uint8
	bestDist := float32(math.Inf(1))
	for i, c := range palette {
		d0 := want[0] - float32(c.R)
		d1 := want[1] - float32(c.G)
		d2 := want[2] - float32(c.B)
		d3 := want[3] - float32(c.A)
		if d := d0*d0 + d1*d1 + d2*d2 + d3*d3; d < bestDist {
			bestDist = d
			best = uint8(i)
		}
	}
	return best
}

func subsampleClusterPixels(colors []colorVector, maxPixels int, rng *rand.Rand) []colorVector {
	if len(colors) <= maxPixels {
		return colors
	}
	for i := 0; i < maxPixels; i++ {
		j := i + rng.Intn(len(colors)-i)
		colors[i], colors[j] = colors[j], colors[i]
	}
	return colors[:maxPixels]
}

type colorClusters struct {
	Centers   []colorVector
	Counts    []int
	AllColors []colorVector
}

// Iterate performs a step of k-means and returns the
// current MSE loss.
// If the MSE loss does not decrease, then the process has
// converged.
func (c *colorClusters) Iterate() float64 {
	centerSum := make([]colorVector, len(c.Centers))
	centerCount := make([]int, len(c.Centers))
	totalError := 0.0

	numProcs := runtime.GOMAXPROCS(0)
	var resultLock sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < numProcs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			localCenterSum := make([]colorVector, len(c.Centers))
			localCenterCount := make([]int, len(c.Centers))
			localTotalError := 0.0
			for i := idx; i < len(c.AllColors); i += numProcs {
				co := c.AllColors[i]
				closestDist := 0.0
				closestIdx := 0
				for i, center := range c.Centers {
					d := float64(co.DistSquared(center))
					if d < closestDist || i == 0 {
						closestDist = d
						closestIdx = i
					}
				}
				localCenterSum[closestIdx] = localCenterSum[closestIdx].Add(co)
				localCenterCount[closestIdx]++
				localTotalError += closestDist
			}
			resultLock.Lock()
			defer resultLock.Unlock()
			for i, c := range localCenterCount {
				centerCount[i] += c
			}
			for i, s := range localCenterSum {
				centerSum[i] = centerSum[i].Add(s)
			}
			totalError += localTotalError
		}(i)
	}
	wg.Wait()

	for i, newCenter := range centerSum {
		count := centerCount[i]
		if count > 0 {
			c.Centers[i] = newCenter.Scale(1 / float32(count))
		}
	}
	c.Counts = centerCount

	// Loss per channel, comparable with qualityToMSE.
	return totalError / float64(len(c.AllColors)*len(colorVector{}))
}

func kmeansPlusPlusInit(allColors []colorVector, numCenters int, rng *rand.Rand) []colorVector {
	centers := make([]colorVector, numCenters)
	centers[0] = allColors[rng.Intn(len(allColors))]
	dists := newCenterDistances(allColors, centers[0])
	for i := 1; i < numCenters; i++ {
		sampleIdx := dists.Sample(rng)
		centers[i] = allColors[sampleIdx]
		dists.Update(centers[i])
	}
	return centers
}

type centerDistances struct {
	AllColors   []colorVector
	Distances   []float64
	DistanceSum float64
}

func newCenterDistances(allColors []colorVector, center colorVector) *centerDistances {
	dists := make([]float64, len(allColors))
	sum := 0.0
	for i, c := range allColors {
		dists[i] = float64(c.DistSquared(center))
		sum += dists[i]
	}
	return &centerDistances{
		AllColors:   allColors,
		Distances:   dists,
		DistanceSum: sum,
	}
}

func (c *centerDistances) Update(newCenter colorVector) {
	c.DistanceSum = 0
	for i, co := range c.AllColors {
		d := float64(co.DistSquared(newCenter))
		if d < c.Distances[i] {
			c.Distances[i] = d
		}
		c.DistanceSum += c.Distances[i]
	}
}

func (c *centerDistances) Sample(rng *rand.Rand) int {
	sample := rng.Float64() * c.DistanceSum
	idx := len(c.AllColors) - 1
	for i, dist := range c.Distances {
		sample -= dist
		if sample < 0 {
			idx = i
			break
		}
	}
	return idx
}
