package turbopng

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pmezard/go-difflib/difflib"
)

// A Reporter receives per-file progress from RunBatch.
//
// Methods may be called from multiple goroutines at once.
type Reporter interface {
	FileStarted(path string)
	FileFinished(outcome *FileOutcome)
	FileFailed(err *FileError)
	Done()
}

// QuietReporter discards everything.
type QuietReporter struct{}

func (QuietReporter) FileStarted(path string)           {}
func (QuietReporter) FileFinished(outcome *FileOutcome) {}
func (QuietReporter) FileFailed(err *FileError)         {}
func (QuietReporter) Done()                             {}

// LineReporter prints one line per finished file.
type LineReporter struct {
	Out io.Writer
	Err io.Writer

	// Total is the number of files in the batch, used for
	// the running count.
	Total int

	// ShowChunks prints a unified diff of the input and
	// output chunk lists after each successful file.
	ShowChunks bool

	lock      sync.Mutex
	processed int
}

func (l *LineReporter) FileStarted(path string) {}

func (l *LineReporter) FileFinished(outcome *FileOutcome) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.processed++
	fmt.Fprintf(l.Out, "%s %s\n", l.counter(), FormatOutcome(outcome))
	if l.ShowChunks {
		io.WriteString(l.Out, ChunkDiff(outcome))
	}
}

func (l *LineReporter) FileFailed(err *FileError) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.processed++
	fmt.Fprintf(l.Err, "%s ✗ %v\n", l.counter(), err)
}

func (l *LineReporter) Done() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.Total > 1 {
		fmt.Fprintf(l.Out, "%d/%d files processed\n", l.processed, l.Total)
	}
}

func (l *LineReporter) counter() string {
	if l.Total == 0 {
		return fmt.Sprintf("[%d]", l.processed)
	}
	return fmt.Sprintf("[%d/%d]", l.processed, l.Total)
}

// FormatOutcome renders a successful file as
// "in -> out (sizes, savings, time, notes)".
func FormatOutcome(o *FileOutcome) string {
	parts := []string{
		fmt.Sprintf("%s -> %s", humanize.Bytes(uint64(o.OriginalSize)),
			humanize.Bytes(uint64(o.OutputSize))),
		formatSavings(o.OriginalSize, o.OutputSize),
		formatDuration(o.Elapsed),
	}
	parts = append(parts, o.Notes...)
	return fmt.Sprintf("✓ %s -> %s (%s)", o.Path, o.OutputPath, strings.Join(parts, ", "))
}

func formatSavings(original, output int64) string {
	if original == 0 || output >= original {
		return "+" + humanize.Bytes(uint64(output-original))
	}
	saved := original - output
	return fmt.Sprintf("-%s, %.1f%% reduction", humanize.Bytes(uint64(saved)),
		100*float64(saved)/float64(original))
}

func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%d ms", d.Milliseconds())
}

// ChunkDiff renders a unified diff of the chunk tags of a
// file before and after processing. It is empty when the
// lists are identical.
func ChunkDiff(o *FileOutcome) string {
	diff := difflib.UnifiedDiff{
		A:        chunkLines(o.InputChunks),
		B:        chunkLines(o.OutputChunks),
		FromFile: o.Path,
		ToFile:   o.OutputPath,
		Context:  1,
	}
	s, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return s
}

func chunkLines(names []string) []string {
	res := make([]string, len(names))
	for i, n := range names {
		res[i] = n + "\n"
	}
	return res
}
