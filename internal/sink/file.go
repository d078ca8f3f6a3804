package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/szibis/tsloadgen/internal/gen"
)

// File writes documents as newline-delimited JSON, optionally
// compressed. It backs dry runs that want an inspectable artifact
// instead of a database write.
type File struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	comp   io.WriteCloser
	buf    []byte
	closed bool
}

// NewFile creates the output file, truncating any existing one. A
// ".gz" or ".zst" path suffix selects the compression codec.
func NewFile(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	s := &File{file: f}
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		s.comp = gz
		s.w = bufio.NewWriterSize(gz, 256<<10)
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		s.comp = zw
		s.w = bufio.NewWriterSize(zw, 256<<10)
	default:
		s.w = bufio.NewWriterSize(f, 256<<10)
	}
	return s, nil
}

// Insert writes each document as one NDJSON line. File errors are
// fatal: retrying a broken local write never helps.
func (s *File) Insert(ctx context.Context, docs []gen.Document) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, Fatal(os.ErrClosed)
	}
	for i := range docs {
		s.buf = docs[i].AppendJSON(s.buf[:0])
		s.buf = append(s.buf, '\n')
		if _, err := s.w.Write(s.buf); err != nil {
			return Result{Acknowledged: i}, Fatal(err)
		}
	}
	return Result{Acknowledged: len(docs)}, nil
}

// Close flushes buffered output and closes the file.
func (s *File) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Flush(); err != nil {
		_ = s.file.Close()
		return err
	}
	if s.comp != nil {
		if err := s.comp.Close(); err != nil {
			_ = s.file.Close()
			return err
		}
	}
	return s.file.Close()
}
