// Package tui is the terminal rendering surface: a cell board drawn with the
// keyboard and a ':' command prompt that speaks the outbound message set.
package tui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/paintbridge/internal/bootstrap"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/telemetry"
)

// ErrAlreadyMounted is returned by a second Mount.
var ErrAlreadyMounted = errors.New("tui: surface already mounted")

type Options struct {
	Input  io.Reader
	Output io.Writer
	// AltScreen takes over the whole terminal while mounted.
	AltScreen     bool
	Width, Height int
	Logger        *slog.Logger
}

// Surface is the terminal surface. It also serves as the environment's
// canvas, so Download captures the board.
type Surface struct {
	opts   Options
	board  *board
	logger *slog.Logger

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

var _ bootstrap.Surface = (*Surface)(nil)

func NewSurface(opts Options) *Surface {
	return &Surface{
		opts:   opts,
		board:  newBoard(opts.Width, opts.Height),
		logger: telemetry.Component(opts.Logger, "tui"),
		done:   make(chan struct{}),
	}
}

// Capture renders the board as a PNG.
func (s *Surface) Capture(context.Context) ([]byte, error) {
	return s.board.png()
}

// Mount starts the terminal program. The outbound channel closes when the
// user quits, Close is called, or ctx ends.
func (s *Surface) Mount(ctx context.Context, flags bridge.InitialFlags, ports bootstrap.Ports) (<-chan bridge.Outbound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.program != nil {
		return nil, ErrAlreadyMounted
	}

	out := make(chan bridge.Outbound, 16)
	if flags.Manifest.Init.Type == bridge.InitDrawing && flags.Manifest.Init.Payload != "" {
		out <- bridge.LoadDrawing{ID: flags.Manifest.Init.Payload}
	}

	m := newModel(ctx, flags, ports, s.board, out, s.logger)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if s.opts.Input != nil {
		opts = append(opts, tea.WithInput(s.opts.Input))
	}
	if s.opts.Output != nil {
		opts = append(opts, tea.WithOutput(s.opts.Output))
	}
	if s.opts.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(m, opts...)
	s.program = p

	go func() {
		defer close(s.done)
		defer close(out)
		// BubbleTea restores the terminal on exit; this covers interrupts.
		defer bestEffortResetTTY()
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) && ctx.Err() == nil {
			s.logger.Error("terminal program failed", "error", err)
		}
	}()
	s.logger.Info("tui mounted", "user_state", userLabel(flags.User), "init", flags.Manifest.Init.Type)
	return out, nil
}

// Close ends the program, for example after the page navigated away.
func (s *Surface) Close() {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		p.Send(closeMsg{})
	}
}

// Done is closed once the program has exited.
func (s *Surface) Done() <-chan struct{} {
	return s.done
}
