package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/szibis/tsloadgen/internal/gen"
)

func testDocs(t *testing.T, n int) []gen.Document {
	t.Helper()
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	hosts := gen.NewHostCatalog(n, 42)
	meas := gen.CatalogSubset([]string{"cpu"})
	syn := gen.NewSynthesizer(42, start, time.Minute)
	b := gen.NewBuilder(syn, 0, 0, 42)
	docs := make([]gen.Document, 0, n)
	for _, h := range hosts {
		docs = append(docs, b.Build(h, meas[0], start))
	}
	return docs
}

func TestInsertErrorClassification(t *testing.T) {
	te := Transient(errors.New("socket reset"))
	if !te.IsTransient() || te.Kind != KindTransient {
		t.Error("Transient() should build a retryable error")
	}
	fe := Fatal(errors.New("bad credentials"))
	if fe.IsTransient() || fe.Kind != KindFatal {
		t.Error("Fatal() should build a non-retryable error")
	}
	if te.Error() == "" || fe.Error() == "" {
		t.Error("errors must describe themselves")
	}

	wrapped := fmt.Errorf("insert: %w", fe)
	var ie *InsertError
	if !errors.As(wrapped, &ie) || ie.Kind != KindFatal {
		t.Error("InsertError should survive wrapping")
	}
}

func TestErrorKindString(t *testing.T) {
	if KindTransient.String() != "transient" || KindFatal.String() != "fatal" {
		t.Errorf("unexpected kind strings: %s, %s", KindTransient, KindFatal)
	}
}

func TestClassifyMongoError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil-safe deadline", context.DeadlineExceeded, KindTransient},
		{"auth command error", mongo.CommandError{Code: 13, Message: "unauthorized"}, KindFatal},
		{"transient command error", mongo.CommandError{Code: 11600, Message: "interrupted"}, KindTransient},
		{
			"validation bulk error",
			mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
				{WriteError: mongo.WriteError{Code: 121, Message: "validation failed"}},
			}},
			KindFatal,
		},
		{
			"retryable bulk error",
			mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
				{WriteError: mongo.WriteError{Code: 11000, Message: "dup key"}},
			}},
			KindTransient,
		},
		{"unknown error", errors.New("weird"), KindTransient},
	}
	for _, tc := range cases {
		got := classifyMongoError(tc.err)
		if got == nil {
			t.Fatalf("%s: classified to nil", tc.name)
		}
		if got.Kind != tc.want {
			t.Errorf("%s: kind = %s, want %s", tc.name, got.Kind, tc.want)
		}
	}
	if classifyMongoError(nil) != nil {
		t.Error("nil error should classify to nil")
	}
}

func TestNoopAcknowledgesEverything(t *testing.T) {
	docs := testDocs(t, 5)
	res, err := Noop{}.Insert(context.Background(), docs)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.Acknowledged != 5 {
		t.Errorf("acknowledged = %d, want 5", res.Acknowledged)
	}
	if err := (Noop{}).Close(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestFileSinkWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	fs, err := NewFile(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	docs := testDocs(t, 4)

	res, err := fs.Insert(context.Background(), docs[:2])
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.Acknowledged != 2 {
		t.Errorf("acknowledged = %d, want 2", res.Acknowledged)
	}
	if _, err := fs.Insert(context.Background(), docs[2:]); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := fs.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		var obj map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &obj); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		for _, key := range []string{"timestamp", "metadata", "measurement", "fields"} {
			if _, ok := obj[key]; !ok {
				t.Errorf("line %d missing %q", lines, key)
			}
		}
		lines++
	}
	if lines != 4 {
		t.Errorf("wrote %d lines, want 4", lines)
	}
}

func TestFileSinkGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson.gz")
	fs, err := NewFile(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	docs := testDocs(t, 3)
	if _, err := fs.Insert(context.Background(), docs); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := fs.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	lines := 0
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		lines++
	}
	if lines != 3 {
		t.Errorf("decompressed %d lines, want 3", lines)
	}
}

func TestFileSinkRejectsAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.ndjson")
	fs, err := NewFile(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fs.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = fs.Insert(context.Background(), testDocs(t, 1))
	var ie *InsertError
	if !errors.As(err, &ie) || ie.IsTransient() {
		t.Errorf("insert after close should be a fatal InsertError, got %v", err)
	}
	if err := fs.Close(context.Background()); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
