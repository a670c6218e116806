package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/turbopng/turbopng"
)

type options struct {
	Config     turbopng.Config
	Inputs     []string
	NoProgress bool
	ShowChunks bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	essentials.Must(err)

	paths, err := resolveInputs(opts.Inputs)
	essentials.Must(err)
	if len(paths) == 0 {
		essentials.Die("no PNG files found in the provided inputs")
	}

	var rep turbopng.Reporter = turbopng.QuietReporter{}
	if !opts.NoProgress {
		rep = &turbopng.LineReporter{
			Out:        os.Stdout,
			Err:        os.Stderr,
			Total:      len(paths),
			ShowChunks: opts.ShowChunks,
		}
	}
	if err := turbopng.RunBatch(paths, &opts.Config, rep); err != nil {
		essentials.Die(err)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var opts options
	var mode, strip string

	fs := flag.NewFlagSet("turbopng", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&mode, "mode", "optimize",
		"processing mode: optimize (lossless) or compress (palette quantization)")
	fs.BoolVar(&opts.Config.KeepMetadata, "keep-metadata", false,
		"retain all ancillary metadata chunks instead of stripping them")
	fs.StringVar(&strip, "strip", "",
		"explicit metadata policy: none, safe, all, keep:NAMES or strip:NAMES (overrides -keep-metadata)")
	fs.BoolVar(&opts.Config.Overwrite, "overwrite", false, "allow replacing existing output files")
	fs.IntVar(&opts.Config.Threads, "threads", 0,
		"maximum number of files processed at once (0 means one per logical CPU)")
	fs.BoolVar(&opts.NoProgress, "no-progress", false, "do not print per-file results")
	fs.BoolVar(&opts.Config.DryRun, "dry-run", false, "report results without writing any files")
	fs.IntVar(&opts.Config.Quality, "quality", turbopng.DefaultQuality,
		"compression quality from 1 to 100 (compress mode only)")
	fs.BoolVar(&opts.Config.Exhaustive, "zopfli", false,
		"spend more DEFLATE trials per filter strategy in optimize mode")
	fs.BoolVar(&opts.ShowChunks, "show-chunks", false,
		"print a diff of each file's chunk list before and after processing")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: turbopng [flags] <path> [path ...]")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
		fmt.Fprintln(stderr)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.Inputs = fs.Args()
	if len(opts.Inputs) == 0 {
		fs.Usage()
		return nil, errors.New("at least one PNG path must be provided")
	}

	m, err := turbopng.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	opts.Config.Mode = m

	if strip != "" {
		policy, err := turbopng.ParsePolicy(strip)
		if err != nil {
			return nil, err
		}
		opts.Config.Policy = &policy
	}

	q := opts.Config.Quality
	if q < turbopng.MinQuality || q > turbopng.MaxQuality {
		return nil, fmt.Errorf("quality %d is outside [%d, %d]", q, turbopng.MinQuality,
			turbopng.MaxQuality)
	}
	if opts.Config.Threads < 0 {
		return nil, fmt.Errorf("invalid thread count: %d", opts.Config.Threads)
	}
	return &opts, nil
}
