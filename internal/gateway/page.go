package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/basket/paintbridge/internal/adapter"
	"github.com/basket/paintbridge/internal/bootstrap"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/bus"
	"github.com/basket/paintbridge/internal/environ"
	"github.com/basket/paintbridge/internal/otel"
)

const writeTimeout = 5 * time.Second

var errPageClosed = errors.New("page closed")

// page is one browser page load. It is the rendering surface and the
// environment for its bootstrap.
type page struct {
	id      string
	ws      *websocket.Conn
	logger  *slog.Logger
	metrics *otel.Metrics

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	out       chan bridge.Outbound
	wg        sync.WaitGroup

	mu      sync.Mutex
	keys    *adapter.Keyboard
	pending map[string]chan Frame
	nextID  int
}

var (
	_ bootstrap.Surface  = (*page)(nil)
	_ environ.Navigator  = (*page)(nil)
	_ environ.Canvas     = (*page)(nil)
	_ environ.Downloader = (*page)(nil)
	_ environ.FilePicker = (*page)(nil)
)

func newPage(ws *websocket.Conn, logger *slog.Logger, metrics *otel.Metrics) *page {
	id := uuid.NewString()
	return &page{
		id:      id,
		ws:      ws,
		logger:  logger.With("page_id", id),
		metrics: metrics,
		closed:  make(chan struct{}),
		out:     make(chan bridge.Outbound),
		pending: map[string]chan Frame{},
	}
}

func (p *page) environment() environ.Environment {
	return environ.Environment{Navigator: p, Canvas: p, Downloader: p, Picker: p}
}

// Mount sends the initial flags and starts streaming inbound messages.
func (p *page) Mount(ctx context.Context, flags bridge.InitialFlags, ports bootstrap.Ports) (<-chan bridge.Outbound, error) {
	if err := p.send(Frame{Kind: KindFlags, Flags: &flags}); err != nil {
		return nil, fmt.Errorf("send flags: %w", err)
	}
	p.mu.Lock()
	p.keys = ports.Keys
	p.mu.Unlock()

	if ports.Guard != nil {
		ports.Guard.OnChange(func(armed bool) {
			if err := p.send(Frame{Kind: KindEnv, Op: OpUnloadGuard, Armed: &armed}); err != nil && !errors.Is(err, errPageClosed) {
				p.logger.Warn("unload guard update failed", "error", err)
			}
		})
	}
	if ports.Inbound != nil {
		p.wg.Add(1)
		go p.forward(ports.Inbound)
	}
	return p.out, nil
}

// forward streams inbound messages until the subscription closes.
func (p *page) forward(sub *bus.Subscription) {
	defer p.wg.Done()
	for ev := range sub.Ch() {
		msg, ok := ev.Payload.(bridge.Inbound)
		if !ok {
			continue
		}
		raw, err := bridge.EncodeInbound(msg)
		if err != nil {
			p.logger.Error("encode inbound failed", "tag", msg.Tag(), "error", err)
			continue
		}
		if err := p.send(Frame{Kind: KindInbound, Message: raw}); err != nil {
			if !errors.Is(err, errPageClosed) {
				p.logger.Warn("inbound write failed", "tag", msg.Tag(), "error", err)
			}
		}
	}
}

// readLoop handles page frames until the connection fails or ctx ends.
func (p *page) readLoop(ctx context.Context) error {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, p.ws, &raw); err != nil {
			return err
		}
		f, err := decodeClientFrame(raw)
		if err != nil {
			p.logger.Warn("rejected frame", "error", err)
			p.sendError(err)
			continue
		}
		switch f.Kind {
		case KindOutbound:
			msg, err := bridge.DecodeOutbound(f.Message)
			if err != nil {
				var unrec *bridge.UnrecognizedMessageError
				if errors.As(err, &unrec) {
					p.metrics.Unrecognized(ctx)
				}
				p.logger.Warn("rejected outbound message", "error", err)
				p.sendError(err)
				continue
			}
			select {
			case p.out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case KindKey:
			p.mu.Lock()
			keys := p.keys
			p.mu.Unlock()
			if keys != nil {
				keys.HandleNative(adapter.NativeKey{
					Code:      f.Key.Code,
					Shift:     f.Key.Shift,
					Meta:      f.Key.Meta,
					Ctrl:      f.Key.Ctrl,
					Direction: f.Key.Direction,
				})
			}
		case KindResult:
			p.resolve(f)
		}
	}
}

// shutdown ends the page: pending environment requests fail and the
// outbound channel closes. Only the read loop sends on out, so it must have
// returned first.
func (p *page) shutdown() {
	p.closeOnce.Do(func() {
		close(p.closed)
		close(p.out)
	})
}

func (p *page) send(f Frame) error {
	select {
	case <-p.closed:
		return errPageClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, p.ws, f)
}

func (p *page) sendError(err error) {
	if werr := p.send(Frame{Kind: KindError, Error: err.Error()}); werr != nil && !errors.Is(werr, errPageClosed) {
		p.logger.Debug("error frame write failed", "error", werr)
	}
}

// request sends an env frame and waits for the page's result frame.
func (p *page) request(ctx context.Context, f Frame) (Frame, error) {
	ch := make(chan Frame, 1)
	p.mu.Lock()
	p.nextID++
	f.ID = strconv.Itoa(p.nextID)
	p.pending[f.ID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, f.ID)
		p.mu.Unlock()
	}()

	f.Kind = KindEnv
	if err := p.send(f); err != nil {
		return Frame{}, err
	}
	select {
	case res := <-ch:
		if res.Error != "" {
			return res, errors.New(res.Error)
		}
		return res, nil
	case <-p.closed:
		return Frame{}, errPageClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *page) resolve(f Frame) {
	p.mu.Lock()
	ch, ok := p.pending[f.ID]
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("result for unknown request", "id", f.ID)
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (p *page) OpenWindow(_ context.Context, url string) error {
	return p.send(Frame{Kind: KindEnv, Op: OpOpenWindow, URL: url})
}

func (p *page) Navigate(_ context.Context, url string) error {
	return p.send(Frame{Kind: KindEnv, Op: OpNavigate, URL: url})
}

func (p *page) SaveAs(_ context.Context, name string, data []byte) error {
	return p.send(Frame{Kind: KindEnv, Op: OpSaveAs, Name: name, MIME: "image/png", Data: data})
}

func (p *page) Capture(ctx context.Context) ([]byte, error) {
	res, err := p.request(ctx, Frame{Op: OpCapture})
	if err != nil {
		return nil, fmt.Errorf("capture canvas: %w", err)
	}
	if len(res.Data) == 0 {
		return nil, environ.ErrNoCanvas
	}
	return res.Data, nil
}

// Pick asks the page for a file. A result with error "cancelled" means the
// user closed the dialog.
func (p *page) Pick(ctx context.Context) (environ.File, error) {
	res, err := p.request(ctx, Frame{Op: OpPick})
	if err != nil {
		if res.Error == "cancelled" {
			return environ.File{}, environ.ErrPickCancelled
		}
		return environ.File{}, err
	}
	data := res.Data
	return environ.File{
		Name:     res.Name,
		MIMEType: res.MIME,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}, nil
}
