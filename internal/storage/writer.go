package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/sjawhar/ghost-puppet/internal/transcribe"
)

// Writer appends final segments to one markdown file per day.
type Writer struct {
	fs  afero.Fs
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func NewWriter(fs afero.Fs, dir string) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{fs: fs, dir: dir, now: time.Now}
}

func (w *Writer) Append(seg transcribe.Segment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.PathFor(seg.Timestamp)
	f, err := w.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, seg.FormatMarkdown()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *Writer) PathFor(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02")+".md")
}

func (w *Writer) CurrentPath() string {
	return w.PathFor(w.now())
}

// Open returns the daily file at path for reading.
func (w *Writer) Open(path string) (io.ReadCloser, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fs.Open(path)
}
