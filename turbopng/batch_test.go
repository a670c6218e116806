package turbopng

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

type recordingReporter struct {
	lock     sync.Mutex
	started  []string
	finished []string
	failed   []string
	done     int
}

func (r *recordingReporter) FileStarted(path string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.started = append(r.started, path)
}

func (r *recordingReporter) FileFinished(outcome *FileOutcome) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.finished = append(r.finished, outcome.Path)
}

func (r *recordingReporter) FileFailed(err *FileError) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.failed = append(r.failed, err.Path)
}

func (r *recordingReporter) Done() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.done++
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	good1 := writeTestFile(t, dir, "one.png", metadataPNG(t))
	bad := writeTestFile(t, dir, "bad.png", []byte("garbage"))
	good2 := writeTestFile(t, dir, "two.png", storedPNG(t, rgbaImage(8, 8, noisyPixels(8, 8)), nil))
	missing := filepath.Join(dir, "missing.png")
	paths := []string{good1, bad, good2, missing}

	for _, threads := range []int{0, 1, 3} {
		rep := &recordingReporter{}
		err := RunBatch(paths, &Config{Mode: ModeOptimize, Overwrite: true, Threads: threads}, rep)

		var batchErr *BatchError
		if !errors.As(err, &batchErr) {
			t.Fatalf("threads=%d: expected a BatchError, got %v", threads, err)
		}
		if len(batchErr.Failures) != 2 ||
			batchErr.Failures[0].Path != bad || batchErr.Failures[1].Path != missing {
			t.Fatalf("threads=%d: unexpected failures %v", threads, batchErr.Failures)
		}

		sort.Strings(rep.started)
		sort.Strings(rep.finished)
		sort.Strings(rep.failed)
		all := append([]string{}, paths...)
		sort.Strings(all)
		if strings.Join(rep.started, ",") != strings.Join(all, ",") {
			t.Errorf("threads=%d: started %v", threads, rep.started)
		}
		terminal := append(append([]string{}, rep.finished...), rep.failed...)
		sort.Strings(terminal)
		if strings.Join(terminal, ",") != strings.Join(all, ",") {
			t.Errorf("threads=%d: terminal events %v", threads, terminal)
		}
		if len(rep.finished) != 2 || rep.done != 1 {
			t.Errorf("threads=%d: %d finished, %d done calls", threads, len(rep.finished), rep.done)
		}
	}
}

func TestRunBatchSuccess(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "one.png", metadataPNG(t))
	if err := RunBatch([]string{path}, &Config{Mode: ModeCompress}, nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "one_compressed.png"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := readHeader(data); err != nil {
		t.Error(err)
	}
}

func TestBatchErrorMessage(t *testing.T) {
	err := &BatchError{
		Mode: ModeCompress,
		Failures: []*FileError{
			fileError("a.png", StageDecode, ErrUnsupportedPixelFormat),
			fileError("b.png", StageRead, errors.New("boom")),
		},
	}
	expected := "one or more files failed during compression:\n" +
		" • a.png [decode]: unsupported pixel format\n" +
		" • b.png [read]: boom\n"
	if err.Error() != expected {
		t.Errorf("got %q", err.Error())
	}
	err.Mode = ModeOptimize
	if !strings.HasPrefix(err.Error(), "one or more files failed during optimization:\n") {
		t.Errorf("got %q", err.Error())
	}
}
