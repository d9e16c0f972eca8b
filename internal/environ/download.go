package environ

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DownloadDir saves downloads into a directory.
type DownloadDir struct {
	Dir string
}

// SaveAs writes data to Dir under the base name of filename. Names without an
// extension get ".png".
func (d DownloadDir) SaveAs(_ context.Context, filename string, data []byte) error {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "drawing"
	}
	if filepath.Ext(name) == "" {
		name += ".png"
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create downloads dir: %w", err)
	}
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	return nil
}
