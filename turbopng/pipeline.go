package turbopng

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// A Mode selects what happens to each file.
type Mode int

const (
	// ModeOptimize losslessly re-encodes files.
	ModeOptimize Mode = iota

	// ModeCompress reduces files to a quantized palette.
	ModeCompress
)

// ParseMode parses "optimize" or "compress".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "optimize":
		return ModeOptimize, nil
	case "compress":
		return ModeCompress, nil
	}
	return 0, fmt.Errorf("unknown mode %q (expected optimize or compress)", s)
}

func (m Mode) String() string {
	if m == ModeCompress {
		return "compress"
	}
	return "optimize"
}

func (m Mode) suffix() string {
	if m == ModeCompress {
		return "_compressed.png"
	}
	return "_optimized.png"
}

// optimizeIterations is the exhaustive coder's budget in
// optimize mode, where there is no quality setting.
const optimizeIterations = 15

// Config is the run configuration shared by every file.
// It must not be modified once processing starts.
type Config struct {
	Mode Mode

	// KeepMetadata keeps every ancillary chunk. Otherwise
	// only SafeChunks are kept.
	KeepMetadata bool

	// Policy, if non-nil, overrides KeepMetadata.
	Policy *MetadataPolicy

	Overwrite bool
	DryRun    bool

	// Quality is used in compress mode. If 0,
	// DefaultQuality is used.
	Quality int

	// Exhaustive spends more DEFLATE trials per filter in
	// optimize mode. Compress mode always uses it.
	Exhaustive bool

	// Threads limits concurrent files. If 0, GOMAXPROCS is
	// used.
	Threads int

	// Quantizer is used in compress mode. If nil, a
	// KMeansQuantizer is used.
	Quantizer Quantizer
}

// MetadataPolicy returns the effective policy.
func (c *Config) MetadataPolicy() MetadataPolicy {
	if c.Policy != nil {
		return *c.Policy
	}
	return PolicyFor(c.KeepMetadata)
}

// Profile returns the quality profile for compress mode.
func (c *Config) Profile() QualityProfile {
	if c.Quality == 0 {
		return SelectProfile(DefaultQuality)
	}
	return SelectProfile(c.Quality)
}

func (c *Config) quantizer() Quantizer {
	if c.Quantizer == nil {
		return NewKMeansQuantizer()
	}
	return c.Quantizer
}

// A FileOutcome describes a successfully processed file.
type FileOutcome struct {
	Path         string
	OutputPath   string
	OriginalSize int64
	OutputSize   int64
	Elapsed      time.Duration
	Notes        []string

	// InputChunks and OutputChunks list chunk tags in
	// file order.
	InputChunks  []string
	OutputChunks []string
}

// OutputPath derives the output file for an input, which
// lives beside the input.
func OutputPath(input string, mode Mode) (string, error) {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("input file %q lacks a valid stem", input)
	}
	return filepath.Join(filepath.Dir(input), stem+mode.suffix()), nil
}

// ProcessFile runs the pipeline for one file.
//
// Failures are returned as *FileError. Nothing is written
// in dry-run mode, and a failed file never leaves a
// partial output behind.
func ProcessFile(path string, c *Config) (*FileOutcome, error) {
	start := time.Now()

	outPath, err := OutputPath(path, c.Mode)
	if err != nil {
		return nil, fileError(path, StageOutputPath, err)
	}
	if !c.Overwrite {
		if _, err := os.Lstat(outPath); err == nil {
			return nil, fileError(path, StageOutputPath,
				fmt.Errorf("%w: %s (use -overwrite to replace)", ErrOutputExists, outPath))
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fileError(path, StageOutputPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError(path, StageRead, err)
	}

	outcome := &FileOutcome{
		Path:         path,
		OutputPath:   outPath,
		OriginalSize: int64(len(data)),
	}
	if names, err := ListChunks(data); err == nil {
		outcome.InputChunks = names
	}

	var output []byte
	if c.Mode == ModeCompress {
		var notes []string
		output, notes, err = compressBytes(path, data, c)
		if err != nil {
			return nil, err
		}
		outcome.Notes = append(outcome.Notes, notes...)
	} else {
		opt := &Optimizer{
			Policy:     c.MetadataPolicy(),
			Exhaustive: c.Exhaustive,
			Iterations: optimizeIterations,
			Reduce:     true,
		}
		output, err = opt.Optimize(data)
		if err != nil {
			return nil, fileError(path, StageOptimize, err)
		}
	}
	outcome.OutputSize = int64(len(output))
	if names, err := ListChunks(output); err == nil {
		outcome.OutputChunks = names
	}

	if c.DryRun {
		outcome.Notes = append([]string{"dry run"}, outcome.Notes...)
	} else if err := WriteAtomic(outPath, output, c.Overwrite); err != nil {
		return nil, fileError(path, StageWrite, err)
	}
	outcome.Elapsed = time.Since(start)
	return outcome, nil
}

// compressBytes quantizes a PNG and returns the optimized
// indexed encoding along with notes for the report.
//
// Only the default image is quantized, so animation chunks
// are always dropped.
func compressBytes(path string, data []byte, c *Config) ([]byte, []string, error) {
	policy := c.MetadataPolicy()
	profile := c.Profile()

	preserved, err := ParseChunks(data, policy)
	if err != nil {
		return nil, nil, fileError(path, StageParse, err)
	}
	var notes []string
	if preserved.dropAnimation() {
		notes = append(notes, "animation dropped")
	}
	decoded, err := DecodeRGBA(data)
	if err != nil {
		return nil, nil, fileError(path, StageDecode, err)
	}
	quantized, err := c.quantizer().Quantize(decoded, profile)
	if err != nil {
		return nil, nil, fileError(path, StageQuantize, err)
	}
	if n := len(quantized.Palette); n == 0 || n > profile.PaletteCap {
		return nil, nil, fileError(path, StageQuantize,
			fmt.Errorf("%w: %d colors, want 1 to %d", ErrInvalidPalette, n, profile.PaletteCap))
	}
	indexed, err := AssembleIndexed(quantized, decoded.Width, decoded.Height, preserved, profile)
	if err != nil {
		return nil, nil, fileError(path, StageAssemble, err)
	}

	filters := []RowFilter{FilterNone}
	if profile.PhotoTier {
		filters = AllFilters
	}
	opt := &Optimizer{
		Policy:     policy,
		Filters:    filters,
		Exhaustive: true,
		Iterations: profile.CoderIterations,
	}
	output, err := opt.Optimize(indexed)
	if err != nil {
		return nil, nil, fileError(path, StageOptimize, err)
	}
	notes = append([]string{fmt.Sprintf("%d colors", len(quantized.Palette))}, notes...)
	if quantized.BelowMinimum {
		notes = append(notes, fmt.Sprintf("below quality %d", profile.QuantMin))
	}
	return output, notes, nil
}
