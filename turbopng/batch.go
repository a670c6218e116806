package turbopng

import (
	"errors"

	"github.com/unixpickle/essentials"
)

// RunBatch processes every path with ProcessFile, running
// up to c.Threads files at once.
//
// Each file produces exactly one call to rep.FileFinished
// or rep.FileFailed, in completion order. A failed file
// never stops the others; if any failed, the result is a
// *BatchError listing all failures in input order.
func RunBatch(paths []string, c *Config, rep Reporter) error {
	if rep == nil {
		rep = QuietReporter{}
	}
	failures := make([]*FileError, len(paths))
	essentials.ConcurrentMap(c.Threads, len(paths), func(i int) {
		path := paths[i]
		rep.FileStarted(path)
		outcome, err := ProcessFile(path, c)
		if err != nil {
			var fileErr *FileError
			if !errors.As(err, &fileErr) {
				fileErr = fileError(path, StageRead, err)
			}
			failures[i] = fileErr
			rep.FileFailed(fileErr)
			return
		}
		rep.FileFinished(outcome)
	})

	batchErr := &BatchError{Mode: c.Mode}
	for _, f := range failures {
		if f != nil {
			batchErr.Failures = append(batchErr.Failures, f)
		}
	}
	rep.Done()
	if len(batchErr.Failures) > 0 {
		return batchErr
	}
	return nil
}
