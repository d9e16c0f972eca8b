package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/paintbridge/internal/adapter"
	"github.com/basket/paintbridge/internal/bridge"
)

// nativeKey converts a terminal key press. Terminals report no key release,
// so every event is a key down.
func nativeKey(msg tea.KeyMsg) adapter.NativeKey {
	k := adapter.NativeKey{Direction: bridge.KeyDown, Meta: msg.Alt}
	code := msg.String()
	for {
		switch {
		case strings.HasPrefix(code, "ctrl+") && len(code) > len("ctrl+"):
			k.Ctrl = true
			code = strings.TrimPrefix(code, "ctrl+")
			continue
		case strings.HasPrefix(code, "alt+") && len(code) > len("alt+"):
			k.Meta = true
			code = strings.TrimPrefix(code, "alt+")
			continue
		case strings.HasPrefix(code, "shift+") && len(code) > len("shift+"):
			k.Shift = true
			code = strings.TrimPrefix(code, "shift+")
			continue
		}
		break
	}
	switch code {
	case " ", "space":
		code = "space"
	default:
		if r := []rune(code); len(r) == 1 && r[0] >= 'A' && r[0] <= 'Z' {
			k.Shift = true
		}
	}
	k.Code = code
	return k
}

// printable drops control characters some terminals report as runes.
func printable(in []rune) []rune {
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if r == '\t' || r >= 0x20 {
			out = append(out, r)
		}
	}
	return out
}

func renderCursor(s string, pos int) string {
	runes := []rune(s)
	if pos >= len(runes) {
		return s + "█"
	}
	return string(runes[:pos]) + "█" + string(runes[pos:])
}

func insertRunes(in []rune, cursor int, r []rune) ([]rune, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(in) {
		cursor = len(in)
	}
	out := make([]rune, 0, len(in)+len(r))
	out = append(out, in[:cursor]...)
	out = append(out, r...)
	out = append(out, in[cursor:]...)
	return out, cursor + len(r)
}

func deleteRuneLeft(in []rune, cursor int) ([]rune, int) {
	if cursor <= 0 || len(in) == 0 {
		return in, 0
	}
	if cursor > len(in) {
		cursor = len(in)
	}
	out := append([]rune(nil), in[:cursor-1]...)
	out = append(out, in[cursor:]...)
	return out, cursor - 1
}

func deleteRuneRight(in []rune, cursor int) ([]rune, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(in) {
		return in, len(in)
	}
	out := append([]rune(nil), in[:cursor]...)
	out = append(out, in[cursor+1:]...)
	return out, cursor
}

func deleteWordLeft(in []rune, cursor int) ([]rune, int) {
	if len(in) == 0 || cursor <= 0 {
		return in, 0
	}
	if cursor > len(in) {
		cursor = len(in)
	}
	i := cursor
	for i > 0 && in[i-1] == ' ' {
		i--
	}
	for i > 0 && in[i-1] != ' ' {
		i--
	}
	out := append([]rune(nil), in[:i]...)
	out = append(out, in[cursor:]...)
	return out, i
}
