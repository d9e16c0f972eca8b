// Package environ abstracts the host environment the core acts on:
// navigation, canvas capture, downloads and file selection.
package environ

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNoCanvas is returned when the surface has nothing to capture.
	ErrNoCanvas = errors.New("no canvas to capture")
	// ErrPickCancelled is returned when file selection ends without a file.
	ErrPickCancelled = errors.New("file selection cancelled")
)

// Navigator opens URLs.
type Navigator interface {
	// OpenWindow opens url alongside the current page.
	OpenWindow(ctx context.Context, url string) error
	// Navigate replaces the current page with url.
	Navigate(ctx context.Context, url string) error
}

// Canvas captures the rendered drawing as PNG bytes.
type Canvas interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Downloader hands bytes to the user under a file name.
type Downloader interface {
	SaveAs(ctx context.Context, filename string, data []byte) error
}

// FilePicker asks the user for one file.
type FilePicker interface {
	Pick(ctx context.Context) (File, error)
}

// File is a user-selected file. Open is only called for files the core
// intends to read.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// Environment bundles the providers a surface runs against.
type Environment struct {
	Navigator  Navigator
	Canvas     Canvas
	Downloader Downloader
	Picker     FilePicker
}

// WithDefaults fills unset providers with ones that fail cleanly.
func (e Environment) WithDefaults() Environment {
	if e.Navigator == nil {
		e.Navigator = unsupported{}
	}
	if e.Canvas == nil {
		e.Canvas = NoCanvas{}
	}
	if e.Downloader == nil {
		e.Downloader = unsupported{}
	}
	if e.Picker == nil {
		e.Picker = unsupported{}
	}
	return e
}

// NoCanvas is the canvas of a surface that renders nothing capturable.
type NoCanvas struct{}

func (NoCanvas) Capture(context.Context) ([]byte, error) { return nil, ErrNoCanvas }

var errUnsupported = errors.New("not supported by this environment")

type unsupported struct{}

func (unsupported) OpenWindow(context.Context, string) error      { return errUnsupported }
func (unsupported) Navigate(context.Context, string) error        { return errUnsupported }
func (unsupported) SaveAs(context.Context, string, []byte) error  { return errUnsupported }
func (unsupported) Pick(context.Context) (File, error)            { return File{}, errUnsupported }
