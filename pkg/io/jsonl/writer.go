// Package jsonl writes verdicts as JSON lines.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	fgio "github.com/ShinTechz/fraud-detection-system/pkg/io"
)

// Writer writes one JSON document per verdict. It is safe for concurrent
// use.
type Writer struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewWriter writes to w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{buf: buf, enc: json.NewEncoder(buf)}
}

// Create truncates or creates filename and writes to it.
func Create(filename string) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

var _ fgio.Writer = (*Writer)(nil)

// Write outputs a single verdict.
func (w *Writer) Write(v ensemble.Verdict) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("encode verdict %s: %w", v.TransactionID, err)
	}
	return nil
}

// WriteAll outputs multiple verdicts.
func (w *Writer) WriteAll(vs []ensemble.Verdict) error {
	for _, v := range vs {
		if err := w.Write(v); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes buffered output and closes the file if Create opened it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush verdicts: %w", err)
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
