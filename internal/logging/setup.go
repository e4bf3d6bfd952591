package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

// Flags used by every relay logger.
const Flags = log.LstdFlags | log.Lmicroseconds

// Setup points the standard logger at stdout plus an optional rotating file.
// The returned closer must be closed on shutdown.
func Setup(path string, maxFiles int) (io.Closer, error) {
	log.SetFlags(Flags)
	if strings.TrimSpace(path) == "" {
		log.SetOutput(os.Stdout)
		return nopWriteCloser{w: io.Discard}, nil
	}
	rot, err := NewRotatingWriter(path, DefaultMaxBytes, maxFiles)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rot))
	return rot, nil
}

// Named returns a logger that shares the standard logger's output with the given prefix.
func Named(prefix string) *log.Logger {
	return log.New(log.Writer(), prefix, Flags)
}
