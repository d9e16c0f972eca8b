package environ

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSettle = 150 * time.Millisecond

// DropDirPicker selects the next file dropped into a directory.
type DropDirPicker struct {
	Dir    string
	Logger *slog.Logger
	// Settle is how long a new file must stay unchanged before it is picked.
	Settle time.Duration
}

// Pick waits until a file is created in Dir and has stopped changing, or
// until ctx ends (ErrPickCancelled).
func (p DropDirPicker) Pick(ctx context.Context) (File, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settle := p.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return File{}, fmt.Errorf("create uploads dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return File{}, fmt.Errorf("watch uploads dir: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(p.Dir); err != nil {
		return File{}, fmt.Errorf("watch uploads dir: %w", err)
	}
	logger.Info("waiting for a file", "dir", p.Dir)

	var (
		candidate string
		timer     = time.NewTimer(time.Hour)
	)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return File{}, ErrPickCancelled
		case ev, ok := <-fsw.Events:
			if !ok {
				return File{}, ErrPickCancelled
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if candidate != "" && ev.Name != candidate {
				continue
			}
			candidate = ev.Name
			timer.Reset(settle)
		case err, ok := <-fsw.Errors:
			if !ok {
				return File{}, ErrPickCancelled
			}
			logger.Warn("uploads watcher error", "error", err)
		case <-timer.C:
			f, err := describeFile(candidate)
			if err != nil {
				logger.Warn("dropped file unreadable", "path", candidate, "error", err)
				candidate = ""
				continue
			}
			return f, nil
		}
	}
}

// describeFile stats path and determines its media type from the extension,
// falling back to content sniffing.
func describeFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if !info.Mode().IsRegular() {
		return File{}, fmt.Errorf("%s is not a regular file", path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType, err = sniff(path)
		if err != nil {
			return File{}, err
		}
	}
	return File{
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}
