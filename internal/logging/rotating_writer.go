package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes is the size at which a day's log file rolls over.
const DefaultMaxBytes int64 = 300 * 1024 * 1024

// RotatingWriter writes to files that rotate daily and when exceeding max size.
//
// Files are named <prefix>-YYYY-MM-DD[-N].log next to BasePath, and BasePath
// itself is kept as a link to the active file. Example:
//
//	logs/relayd.log -> logs/relayd-2026-10-18.log, logs/relayd-2026-10-18-2.log
//
// When MaxFiles is positive, older rotated files beyond that count are removed
// each time a new file is opened.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64
	MaxFiles int

	mu       sync.Mutex
	curDate  string
	curIndex int
	file     *os.File
	size     int64
	now      func() time.Time
}

// NewRotatingWriter creates a rotating writer using basePath as the logical log file.
// A basePath of "-" discards output.
func NewRotatingWriter(basePath string, maxBytes int64, maxFiles int) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	rw := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, MaxFiles: maxFiles, now: time.Now}
	if err := rw.rotateIfNeeded(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	if err == nil {
		w.size += int64(n)
	}
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

func (w *RotatingWriter) rotateIfNeeded(incoming int64) error {
	// UTC day boundaries
	today := w.now().UTC().Format("2006-01-02")
	if w.file == nil || w.curDate != today {
		w.curDate = today
		w.curIndex = 1
		return w.openCurrent()
	}
	if w.size > 0 && w.size+incoming > w.MaxBytes {
		w.curIndex++
		return w.openCurrent()
	}
	return nil
}

func (w *RotatingWriter) parts() (dir, base, ext string) {
	dir, name := filepath.Split(w.BasePath)
	if dir == "" {
		dir = "."
	}
	ext = filepath.Ext(name)
	base = strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	return dir, base, ext
}

func (w *RotatingWriter) openCurrent() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir, base, ext := w.parts()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	filename := fmt.Sprintf("%s-%s%s", base, w.curDate, ext)
	if w.curIndex > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", base, w.curDate, w.curIndex, ext)
	}
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	w.updatePointer(path)
	w.prune(path)
	return nil
}

// prune removes the oldest rotated files so at most MaxFiles remain.
func (w *RotatingWriter) prune(current string) {
	if w.MaxFiles <= 0 {
		return
	}
	dir, base, ext := w.parts()
	matches, err := filepath.Glob(filepath.Join(dir, base+"-*"+ext))
	if err != nil || len(matches) <= w.MaxFiles {
		return
	}
	type entry struct {
		path  string
		date  string
		index int
	}
	files := make([]entry, 0, len(matches))
	for _, m := range matches {
		if st, err := os.Lstat(m); err != nil || !st.Mode().IsRegular() {
			continue
		}
		date, index, ok := parseRotatedName(filepath.Base(m), base, ext)
		if !ok {
			continue
		}
		files = append(files, entry{path: m, date: date, index: index})
	}
	// newest first
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date > files[j].date
		}
		return files[i].index > files[j].index
	})
	kept := 0
	for _, f := range files {
		if f.path == current {
			continue
		}
		if kept < w.MaxFiles-1 {
			kept++
			continue
		}
		_ = os.Remove(f.path)
	}
}

// parseRotatedName splits "<base>-YYYY-MM-DD[-N]<ext>" into its date and index.
func parseRotatedName(name, base, ext string) (string, int, bool) {
	rest := strings.TrimSuffix(strings.TrimPrefix(name, base+"-"), ext)
	if len(rest) < 10 {
		return "", 0, false
	}
	date := rest[:10]
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", 0, false
	}
	if len(rest) == 10 {
		return date, 1, true
	}
	index, err := strconv.Atoi(strings.TrimPrefix(rest[10:], "-"))
	if err != nil || rest[10] != '-' {
		return "", 0, false
	}
	return date, index, true
}

func (w *RotatingWriter) updatePointer(target string) {
	base := strings.TrimSpace(w.BasePath)
	if base == "" || base == "-" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, derr := os.Readlink(base); derr == nil && dest == target {
				return
			}
		}
		_ = os.Remove(base)
	}
	// symlink, then hard link, then a plain pointer file
	if err := os.Symlink(target, base); err == nil {
		return
	}
	if err := os.Link(target, base); err == nil {
		return
	}
	if f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		defer f.Close()
		_, _ = fmt.Fprintf(f, "current log file: %s\n", target)
	}
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
