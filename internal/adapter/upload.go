package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"sync"
	"sync/atomic"

	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/bus"
	"github.com/basket/paintbridge/internal/environ"
	"github.com/basket/paintbridge/internal/otel"
)

// DefaultMaxUploadBytes bounds how much of a selected file is read.
const DefaultMaxUploadBytes = 10 << 20

// ErrFileTooLarge is returned for image files over the configured limit.
var ErrFileTooLarge = errors.New("file too large")

var acceptedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

// FileUpload runs file selection and publishes the outcome.
type FileUpload struct {
	picker   environ.FilePicker
	bus      *bus.Bus
	maxBytes int64
	logger   *slog.Logger
	metrics  *otel.Metrics

	pending atomic.Bool
	wg      sync.WaitGroup
}

type UploadConfig struct {
	Picker   environ.FilePicker
	Bus      *bus.Bus
	MaxBytes int64
	Logger   *slog.Logger
	Metrics  *otel.Metrics
}

func NewFileUpload(cfg UploadConfig) *FileUpload {
	u := &FileUpload{
		picker:   cfg.Picker,
		bus:      cfg.Bus,
		maxBytes: cfg.MaxBytes,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if u.maxBytes <= 0 {
		u.maxBytes = DefaultMaxUploadBytes
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	return u
}

// Open asks the picker for a file in the background and returns at once.
// While one selection is pending further calls are ignored.
func (u *FileUpload) Open(ctx context.Context) {
	if !u.pending.CompareAndSwap(false, true) {
		u.logger.Info("file selection already open")
		return
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer u.pending.Store(false)

		f, err := u.picker.Pick(ctx)
		if err != nil {
			if errors.Is(err, environ.ErrPickCancelled) {
				u.logger.Info("file selection cancelled")
			} else {
				u.logger.Warn("file selection failed", "error", err)
			}
			return
		}
		if err := u.Accept(ctx, f); err != nil {
			u.logger.Info("selected file rejected", "name", f.Name, "reason", err)
		}
	}()
}

// Accept publishes exactly one outcome for f: FileRead for a readable png
// or jpeg, FileNotImage for any other type without opening it, and
// FileReadFailed for an image that is too large or cannot be read.
func (u *FileUpload) Accept(ctx context.Context, f environ.File) error {
	mediaType, _, err := mime.ParseMediaType(f.MIMEType)
	if err != nil || !acceptedImageTypes[mediaType] {
		u.bus.DeliverTagged(ctx, bridge.FileNotImage{})
		u.metrics.FileSelected(ctx, "not_image")
		return fmt.Errorf("%q: %w", f.MIMEType, bridge.ErrUnsupportedFileType)
	}
	if f.Size > u.maxBytes {
		err := fmt.Errorf("%d bytes: %w", f.Size, ErrFileTooLarge)
		u.bus.DeliverTagged(ctx, bridge.FileReadFailed{Reason: ErrFileTooLarge.Error()})
		u.metrics.FileSelected(ctx, "too_large")
		return err
	}

	dataURL, err := u.readDataURL(f, mediaType)
	if err != nil {
		reason := "file could not be read"
		outcome := "error"
		if errors.Is(err, ErrFileTooLarge) {
			reason, outcome = ErrFileTooLarge.Error(), "too_large"
		}
		u.bus.DeliverTagged(ctx, bridge.FileReadFailed{Reason: reason})
		u.metrics.FileSelected(ctx, outcome)
		return err
	}
	u.bus.DeliverTagged(ctx, bridge.FileRead{DataURL: dataURL})
	u.metrics.FileSelected(ctx, "read")
	return nil
}

func (u *FileUpload) readDataURL(f environ.File, mediaType string) (string, error) {
	if f.Open == nil {
		return "", fmt.Errorf("file %q cannot be opened", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %q: %w", f.Name, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	buf.WriteString("data:" + mediaType + ";base64,")
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	n, err := io.Copy(enc, io.LimitReader(rc, u.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %q: %w", f.Name, err)
	}
	if n > u.maxBytes {
		return "", fmt.Errorf("%q: %w", f.Name, ErrFileTooLarge)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Wait blocks until pending selections finish.
func (u *FileUpload) Wait() {
	u.wg.Wait()
}
