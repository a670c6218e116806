package turbopng

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPathNotFound           = errors.New("path not found")
	ErrMalformedFile          = errors.New("file is not a valid PNG")
	ErrTruncatedChunk         = errors.New("truncated PNG chunk")
	ErrChecksumMismatch       = errors.New("PNG chunk checksum mismatch")
	ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")
	ErrInvalidPalette         = errors.New("invalid palette")
	ErrInvalidIndices         = errors.New("invalid palette indices")
	ErrOutputExists           = errors.New("output file already exists")
	ErrEncode                 = errors.New("encoding failed")
)

// Stages of the per-file pipeline, used to annotate a
// FileError.
const (
	StageOutputPath = "output-path"
	StageRead       = "read"
	StageParse      = "parse"
	StageDecode     = "decode"
	StageQuantize   = "quantize"
	StageAssemble   = "assemble"
	StageOptimize   = "optimize"
	StageWrite      = "write"
)

// A FileError is a failure of one file's pipeline.
type FileError struct {
	Path  string
	Stage string
	Err   error
}

func (f *FileError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", f.Path, f.Stage, f.Err)
}

func (f *FileError) Unwrap() error {
	return f.Err
}

// A BatchError collects every failed file of a batch.
type BatchError struct {
	Mode     Mode
	Failures []*FileError
}

func (b *BatchError) Error() string {
	var sb strings.Builder
	sb.WriteString("one or more files failed during ")
	if b.Mode == ModeCompress {
		sb.WriteString("compression:\n")
	} else {
		sb.WriteString("optimization:\n")
	}
	for _, f := range b.Failures {
		sb.WriteString(" • ")
		sb.WriteString(f.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func fileError(path, stage string, err error) *FileError {
	return &FileError{Path: path, Stage: stage, Err: err}
}
