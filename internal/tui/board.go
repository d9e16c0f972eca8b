package tui

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
)

const (
	defaultBoardWidth  = 48
	defaultBoardHeight = 16
	cellPixels         = 8
)

// board is the terminal drawing: a grid of on/off cells and a cursor. It is
// shared between the bubbletea model and Surface.Capture, so it locks.
type board struct {
	mu     sync.RWMutex
	w, h   int
	cells  []bool
	cx, cy int
	name   string
}

func newBoard(w, h int) *board {
	if w <= 0 {
		w = defaultBoardWidth
	}
	if h <= 0 {
		h = defaultBoardHeight
	}
	return &board{w: w, h: h, cells: make([]bool, w*h), name: "untitled"}
}

func (b *board) move(dx, dy int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cx = clamp(b.cx+dx, 0, b.w-1)
	b.cy = clamp(b.cy+dy, 0, b.h-1)
}

func (b *board) toggle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.cy*b.w + b.cx
	b.cells[i] = !b.cells[i]
}

func (b *board) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.cells {
		b.cells[i] = false
	}
}

func (b *board) rename(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name = strings.TrimSpace(name); name != "" {
		b.name = name
	}
}

func (b *board) title() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// rows renders the grid as strings of '#' and '.'.
func (b *board) rows() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rowsLocked()
}

func (b *board) rowsLocked() []string {
	out := make([]string, b.h)
	var sb strings.Builder
	for y := 0; y < b.h; y++ {
		sb.Reset()
		for x := 0; x < b.w; x++ {
			if b.cells[y*b.w+x] {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		out[y] = sb.String()
	}
	return out
}

func (b *board) cursor() (int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cx, b.cy
}

// png renders each cell as a cellPixels square, ink on paper.
func (b *board) png() ([]byte, error) {
	b.mu.RLock()
	img := image.NewGray(image.Rect(0, 0, b.w*cellPixels, b.h*cellPixels))
	for y := 0; y < b.h; y++ {
		for x := 0; x < b.w; x++ {
			c := color.Gray{Y: 0xff}
			if b.cells[y*b.w+x] {
				c = color.Gray{Y: 0x10}
			}
			for py := 0; py < cellPixels; py++ {
				for px := 0; px < cellPixels; px++ {
					img.SetGray(x*cellPixels+px, y*cellPixels+py, c)
				}
			}
		}
	}
	b.mu.RUnlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// boardDrawing is the JSON body of a saved terminal drawing.
type boardDrawing struct {
	Name   string   `json:"name"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Rows   []string `json:"rows"`
	Canvas string   `json:"canvas,omitempty"`
}

func (b *board) marshal() ([]byte, error) {
	pic, err := b.png()
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	d := boardDrawing{Name: b.name, Width: b.w, Height: b.h, Rows: b.rowsLocked()}
	b.mu.RUnlock()
	d.Canvas = "data:image/png;base64," + base64.StdEncoding.EncodeToString(pic)
	return json.Marshal(d)
}

// load replaces the grid with a saved drawing. Rows wider or taller than the
// board are cropped.
func (b *board) load(raw []byte) error {
	var d boardDrawing
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decode drawing: %w", err)
	}
	if len(d.Rows) == 0 {
		return errors.New("drawing has no terminal rows")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.cells {
		b.cells[i] = false
	}
	for y, row := range d.Rows {
		if y >= b.h {
			break
		}
		for x, r := range row {
			if x >= b.w {
				break
			}
			b.cells[y*b.w+x] = r == '#'
		}
	}
	if d.Name != "" {
		b.name = d.Name
	}
	b.cx, b.cy = 0, 0
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
