package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basket/paintbridge/internal/adapter"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/bus"
	"github.com/basket/paintbridge/internal/capability"
	"github.com/basket/paintbridge/internal/environ"
	"github.com/google/go-cmp/cmp"
)

type memStorage struct {
	mu       sync.Mutex
	drawings map[string]bridge.Drawing
	err      error
}

func (m *memStorage) CreateDrawing(_ context.Context, d bridge.Drawing) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.drawings == nil {
		m.drawings = map[string]bridge.Drawing{}
	}
	m.drawings["d-1"] = d
	return "d-1", nil
}

func (m *memStorage) GetDrawing(_ context.Context, id string) (bridge.Drawing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drawings[id]
	if !ok {
		return nil, errors.New("drawing not found")
	}
	return d, nil
}

type recordingEnv struct {
	mu        sync.Mutex
	opened    []string
	navigated []string
	saved     map[string][]byte
}

func (e *recordingEnv) OpenWindow(_ context.Context, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = append(e.opened, url)
	return nil
}

func (e *recordingEnv) Navigate(_ context.Context, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.navigated = append(e.navigated, url)
	return nil
}

func (e *recordingEnv) Capture(context.Context) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

func (e *recordingEnv) SaveAs(_ context.Context, name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saved == nil {
		e.saved = map[string][]byte{}
	}
	e.saved[name] = data
	return nil
}

type pickerFunc func(ctx context.Context) (environ.File, error)

func (f pickerFunc) Pick(ctx context.Context) (environ.File, error) { return f(ctx) }

type harness struct {
	d        *Dispatcher
	bus      *bus.Bus
	sub      *bus.Subscription
	keyboard *adapter.Keyboard
	files    *adapter.FileUpload
	guard    *adapter.UnloadGuard
	env      *recordingEnv
	storage  *memStorage
}

func newHarness(t *testing.T, auth capability.AuthClient, picker environ.FilePicker) *harness {
	t.Helper()
	storage := &memStorage{}
	reg, err := capability.NewRegistry(capability.Config{Auth: auth, Storage: storage})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return newHarnessOn(t, reg, storage, picker)
}

// newHarnessOn builds a harness over an existing registry, as a second page
// sharing the same collaborators would.
func newHarnessOn(t *testing.T, reg *capability.Registry, storage *memStorage, picker environ.FilePicker) *harness {
	t.Helper()
	if picker == nil {
		picker = pickerFunc(func(context.Context) (environ.File, error) { return environ.File{}, environ.ErrPickCancelled })
	}
	var err error
	b := bus.New()
	h := &harness{
		bus:      b,
		sub:      b.Subscribe(bus.TopicInbound),
		keyboard: adapter.NewKeyboard(b, nil, nil),
		files:    adapter.NewFileUpload(adapter.UploadConfig{Bus: b, Picker: picker}),
		guard:    adapter.NewUnloadGuard(),
		env:      &recordingEnv{},
		storage:  storage,
	}
	h.d, err = New(Config{
		Registry: reg,
		Bus:      b,
		Keyboard: h.keyboard,
		Files:    h.files,
		Guard:    h.guard,
		Env:      environ.Environment{Navigator: h.env, Canvas: h.env, Downloader: h.env},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		b.Unsubscribe(h.sub)
		h.d.Wait()
		h.files.Wait()
	})
	return h
}

func (h *harness) dispatch(t *testing.T, msg bridge.Outbound) {
	t.Helper()
	if err := h.d.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch(%T): %v", msg, err)
	}
}

func (h *harness) next(t *testing.T) bridge.Inbound {
	t.Helper()
	select {
	case ev := <-h.sub.Ch():
		return ev.Payload.(bridge.Inbound)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
		return nil
	}
}

func (h *harness) settle(t *testing.T) []bridge.Inbound {
	t.Helper()
	h.d.Wait()
	h.files.Wait()
	var out []bridge.Inbound
	for {
		select {
		case ev := <-h.sub.Ch():
			out = append(out, ev.Payload.(bridge.Inbound))
		default:
			return out
		}
	}
}

func TestDispatch_LoginSucceeded(t *testing.T) {
	auth := capability.FuncAuth{LoginFunc: func(_ context.Context, c bridge.Credentials) ([]bridge.Attribute, error) {
		if c.Username != "a" || c.Password != "b" {
			return nil, errors.New("incorrect username or password")
		}
		return []bridge.Attribute{{Name: "email", Value: "a@x.com"}}, nil
	}}
	h := newHarness(t, auth, nil)

	h.dispatch(t, bridge.AttemptLogin{Credentials: bridge.Credentials{Username: "a", Password: "b"}})

	want := bridge.LoginSucceeded{Profile: bridge.UserProfile{Attributes: map[string]string{"email": "a@x.com"}}}
	if diff := cmp.Diff(bridge.Inbound(want), h.next(t)); diff != "" {
		t.Fatalf("inbound mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(bridge.UserState(bridge.Authenticated{Profile: want.Profile}), h.d.User()); diff != "" {
		t.Fatalf("user state mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatch_LoginFailedCarriesReason(t *testing.T) {
	auth := capability.FuncAuth{LoginFunc: func(context.Context, bridge.Credentials) ([]bridge.Attribute, error) {
		return nil, errors.New("incorrect username or password")
	}}
	h := newHarness(t, auth, nil)

	h.dispatch(t, bridge.AttemptLogin{Credentials: bridge.Credentials{Username: "a", Password: "x"}})
	got, ok := h.next(t).(bridge.LoginFailed)
	if !ok || got.Reason != "incorrect username or password" {
		t.Fatalf("got %#v, want LoginFailed with collaborator reason", got)
	}
	if _, ok := h.d.User().(bridge.Unauthenticated); !ok {
		t.Fatalf("user = %v, want unchanged unauthenticated", h.d.User())
	}
}

func TestDispatch_LogoutWhenNotSignedInSucceeds(t *testing.T) {
	auth := capability.FuncAuth{LogoutFunc: func(context.Context) error {
		return errors.New("user was not signed in")
	}}
	h := newHarness(t, auth, nil)

	h.dispatch(t, bridge.Logout{})
	if _, ok := h.next(t).(bridge.LogoutSucceeded); !ok {
		t.Fatal("expected LogoutSucceeded")
	}
}

func TestDispatch_LogoutFailure(t *testing.T) {
	auth := capability.FuncAuth{LogoutFunc: func(context.Context) error {
		return errors.New("server unavailable")
	}}
	h := newHarness(t, auth, nil)

	h.dispatch(t, bridge.Logout{})
	got, ok := h.next(t).(bridge.LogoutFailed)
	if !ok || got.Reason != "server unavailable" {
		t.Fatalf("got %#v, want LogoutFailed", got)
	}
}

func TestDispatch_ConcurrentSessionMutationRejected(t *testing.T) {
	release := make(chan struct{})
	auth := capability.FuncAuth{
		LoginFunc: func(context.Context, bridge.Credentials) ([]bridge.Attribute, error) {
			<-release
			return []bridge.Attribute{{Name: "email", Value: "a@x.com"}}, nil
		},
	}
	h := newHarness(t, auth, nil)

	h.dispatch(t, bridge.AttemptLogin{Credentials: bridge.Credentials{Username: "a", Password: "b"}})
	err := h.d.Dispatch(context.Background(), bridge.Logout{})
	if !errors.Is(err, bridge.ErrConcurrentSessionMutation) {
		t.Fatalf("second mutation err = %v, want ErrConcurrentSessionMutation", err)
	}
	rejected, ok := h.next(t).(bridge.LogoutFailed)
	if !ok || rejected.Reason != bridge.ErrConcurrentSessionMutation.Error() {
		t.Fatalf("got %#v, want LogoutFailed(concurrent session mutation)", rejected)
	}

	close(release)
	if _, ok := h.next(t).(bridge.LoginSucceeded); !ok {
		t.Fatal("expected the first login to complete")
	}

	// Once the first mutation finishes, a new one is accepted.
	h.dispatch(t, bridge.Logout{})
	if _, ok := h.next(t).(bridge.LogoutSucceeded); !ok {
		t.Fatal("expected LogoutSucceeded after the login finished")
	}
	if _, ok := h.d.User().(bridge.Unauthenticated); !ok {
		t.Fatalf("user = %v, want unauthenticated", h.d.User())
	}
}

func TestDispatch_SessionMutationSerializedAcrossPages(t *testing.T) {
	release := make(chan struct{})
	var logins sync.WaitGroup
	logins.Add(1)
	auth := capability.FuncAuth{
		LoginFunc: func(_ context.Context, creds bridge.Credentials) ([]bridge.Attribute, error) {
			if creds.Username == "first" {
				logins.Done()
				<-release
			}
			return []bridge.Attribute{{Name: "username", Value: creds.Username}}, nil
		},
	}
	storage := &memStorage{}
	reg, err := capability.NewRegistry(capability.Config{Auth: auth, Storage: storage})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	pageA := newHarnessOn(t, reg, storage, nil)
	pageB := newHarnessOn(t, reg, storage, nil)

	pageA.dispatch(t, bridge.AttemptLogin{Credentials: bridge.Credentials{Username: "first", Password: "pw"}})
	logins.Wait()

	err = pageB.d.Dispatch(context.Background(), bridge.AttemptLogin{Credentials: bridge.Credentials{Username: "second", Password: "pw"}})
	if !errors.Is(err, bridge.ErrConcurrentSessionMutation) {
		t.Fatalf("second page login err = %v, want ErrConcurrentSessionMutation", err)
	}
	if got, ok := pageB.next(t).(bridge.LoginFailed); !ok || got.Reason != bridge.ErrConcurrentSessionMutation.Error() {
		t.Fatalf("second page got %#v, want LoginFailed(concurrent session mutation)", got)
	}
	if _, ok := pageB.d.User().(bridge.Unauthenticated); !ok {
		t.Fatalf("second page user = %v, want unauthenticated", pageB.d.User())
	}

	close(release)
	if _, ok := pageA.next(t).(bridge.LoginSucceeded); !ok {
		t.Fatal("expected the first page's login to complete")
	}

	pageB.dispatch(t, bridge.Logout{})
	if _, ok := pageB.next(t).(bridge.LogoutSucceeded); !ok {
		t.Fatal("second page logout rejected after the first login finished")
	}
}

func TestDispatch_LoginResultSurvivesKeyBurst(t *testing.T) {
	auth := capability.FuncAuth{
		LoginFunc: func(context.Context, bridge.Credentials) ([]bridge.Attribute, error) {
			return []bridge.Attribute{{Name: "username", Value: "ann"}}, nil
		},
	}
	h := newHarness(t, auth, nil)

	// Fill the subscription's buffer before the result arrives.
	for i := 0; i < 150; i++ {
		h.keyboard.HandleNative(adapter.NativeKey{Code: "KeyA", Direction: bridge.KeyDown})
	}
	h.dispatch(t, bridge.AttemptLogin{Credentials: bridge.Credentials{Username: "ann", Password: "pw"}})

	keys, logins := 0, 0
	deadline := time.After(2 * time.Second)
	for logins == 0 {
		select {
		case ev := <-h.sub.Ch():
			switch ev.Payload.(type) {
			case bridge.KeyEvent:
				keys++
			case bridge.LoginSucceeded:
				logins++
			}
		case <-deadline:
			t.Fatalf("login result lost after %d key events; user = %v", keys, h.d.User())
		}
	}
	if _, ok := h.d.User().(bridge.Authenticated); !ok {
		t.Fatalf("user = %v, want authenticated", h.d.User())
	}
}

func TestDispatch_FocusTogglesKeyboard(t *testing.T) {
	h := newHarness(t, capability.FuncAuth{}, nil)

	h.dispatch(t, bridge.StealFocus{})
	for i := 0; i < 5; i++ {
		h.keyboard.HandleNative(adapter.NativeKey{Code: "KeyA", Direction: bridge.KeyDown})
		h.keyboard.HandleNative(adapter.NativeKey{Code: "KeyA", Direction: bridge.KeyUp})
	}
	if got := h.settle(t); len(got) != 0 {
		t.Fatalf("got %d inbound messages while focus was stolen", len(got))
	}

	h.dispatch(t, bridge.ReturnFocus{})
	h.keyboard.HandleNative(adapter.NativeKey{Code: "KeyA"})
	if _, ok := h.next(t).(bridge.KeyEvent); !ok {
		t.Fatal("expected KeyEvent after ReturnFocus")
	}
}

func TestDispatch_RedirectDisarmsGuardPermanently(t *testing.T) {
	h := newHarness(t, capability.FuncAuth{}, nil)
	if !h.guard.BeforeUnload() {
		t.Fatal("guard should be armed at start")
	}

	h.dispatch(t, bridge.RedirectTo{URL: "https://example.com/pricing"})
	h.dispatch(t, bridge.StealFocus{})
	h.dispatch(t, bridge.ReturnFocus{})
	h.dispatch(t, bridge.Track{Event: json.RawMessage(`{}`)})
	h.settle(t)

	if h.guard.BeforeUnload() {
		t.Fatal("guard must stay disarmed after a redirect")
	}
	if diff := cmp.Diff([]string{"https://example.com/pricing"}, h.env.navigated); diff != "" {
		t.Fatalf("navigations (-want +got):\n%s", diff)
	}
}

func TestDispatch_FireAndForgetProduceNoInbound(t *testing.T) {
	h := newHarness(t, capability.FuncAuth{}, nil)

	msgs := []bridge.Outbound{
		bridge.Track{Event: json.RawMessage(`{"name":"opened"}`)},
		bridge.OpenWindow{URL: "https://example.com/help"},
		bridge.Download{Filename: "cat.png"},
		bridge.StealFocus{},
		bridge.ReturnFocus{},
		bridge.OpenFileUpload{},
		bridge.RedirectTo{URL: "https://example.com"},
	}
	for _, m := range msgs {
		if !bridge.FireAndForget(m) {
			t.Fatalf("%T should be fire-and-forget", m)
		}
		h.dispatch(t, m)
	}
	if got := h.settle(t); len(got) != 0 {
		t.Fatalf("fire-and-forget messages produced inbound: %v", got)
	}
	if string(h.env.saved["cat.png"]) != "\x89PNG" {
		t.Fatalf("download not saved: %v", h.env.saved)
	}
	if len(h.env.opened) != 1 {
		t.Fatalf("opened = %v", h.env.opened)
	}
}

func TestDispatch_SaveAndLoadSurfaceResults(t *testing.T) {
	h := newHarness(t, capability.FuncAuth{}, nil)
	body := bridge.Drawing(`{"canvas":"data:image/png;base64,AAAA"}`)

	h.dispatch(t, bridge.Save{Drawing: body})
	saved, ok := h.next(t).(bridge.DrawingSaved)
	if !ok || saved.ID != "d-1" {
		t.Fatalf("got %#v, want DrawingSaved(d-1)", saved)
	}

	h.dispatch(t, bridge.LoadDrawing{ID: "d-1"})
	loaded, ok := h.next(t).(bridge.DrawingLoaded)
	if !ok || string(loaded.Drawing) != string(body) {
		t.Fatalf("got %#v, want DrawingLoaded with saved body", loaded)
	}

	h.dispatch(t, bridge.LoadDrawing{ID: "missing"})
	failed, ok := h.next(t).(bridge.DrawingLoadFailed)
	if !ok || failed.ID != "missing" || failed.Reason != "drawing not found" {
		t.Fatalf("got %#v, want DrawingLoadFailed", failed)
	}

	h.storage.err = errors.New("quota exceeded")
	h.dispatch(t, bridge.Save{Drawing: body})
	saveFailed, ok := h.next(t).(bridge.DrawingSaveFailed)
	if !ok || saveFailed.Reason != "quota exceeded" {
		t.Fatalf("got %#v, want DrawingSaveFailed", saveFailed)
	}
}

func TestDispatch_FileUploadOutcomes(t *testing.T) {
	opened := false
	files := []environ.File{
		{Name: "anim.gif", MIMEType: "image/gif", Size: 6, Open: func() (io.ReadCloser, error) {
			opened = true
			return io.NopCloser(strings.NewReader("GIF89a")), nil
		}},
		{Name: "cat.png", MIMEType: "image/png", Size: 2, Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("hi")), nil
		}},
	}
	var mu sync.Mutex
	picker := pickerFunc(func(context.Context) (environ.File, error) {
		mu.Lock()
		defer mu.Unlock()
		f := files[0]
		files = files[1:]
		return f, nil
	})
	h := newHarness(t, capability.FuncAuth{}, picker)

	h.dispatch(t, bridge.OpenFileUpload{})
	if _, ok := h.next(t).(bridge.FileNotImage); !ok {
		t.Fatal("expected FileNotImage for gif")
	}
	h.files.Wait()
	if opened {
		t.Fatal("gif must not be read")
	}

	h.dispatch(t, bridge.OpenFileUpload{})
	read, ok := h.next(t).(bridge.FileRead)
	if !ok || read.DataURL != "data:image/png;base64,aGk=" {
		t.Fatalf("got %#v, want FileRead", read)
	}
	if got := h.settle(t); len(got) != 0 {
		t.Fatalf("expected exactly one FileRead, extra: %v", got)
	}
}

func TestDispatch_UnrecognizedIsIgnored(t *testing.T) {
	h := newHarness(t, capability.FuncAuth{}, nil)

	err := h.d.Dispatch(context.Background(), nil)
	var unrec *bridge.UnrecognizedMessageError
	if !errors.As(err, &unrec) {
		t.Fatalf("err = %v, want UnrecognizedMessageError", err)
	}
	// The dispatcher keeps working afterwards.
	h.dispatch(t, bridge.Logout{})
	if _, ok := h.next(t).(bridge.LogoutSucceeded); !ok {
		t.Fatal("expected LogoutSucceeded after an unrecognized message")
	}
}

func TestRun_ProcessesInOrderUntilClosed(t *testing.T) {
	h := newHarness(t, capability.FuncAuth{}, nil)

	ch := make(chan bridge.Outbound, 4)
	ch <- bridge.StealFocus{}
	ch <- nil
	ch <- bridge.ReturnFocus{}
	ch <- bridge.StealFocus{}
	close(ch)

	if err := h.d.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.keyboard.Attached() {
		t.Fatal("last message was StealFocus; keyboard should be detached")
	}
}

func TestRun_StopsOnContextButEffectsFinish(t *testing.T) {
	release := make(chan struct{})
	auth := capability.FuncAuth{LoginFunc: func(context.Context, bridge.Credentials) ([]bridge.Attribute, error) {
		<-release
		return nil, nil
	}}
	h := newHarness(t, auth, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan bridge.Outbound, 1)
	ch <- bridge.AttemptLogin{}
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx, ch) }()

	// Wait for the login to be dispatched, then stop the loop.
	deadline := time.After(2 * time.Second)
	for len(ch) > 0 {
		select {
		case <-deadline:
			t.Fatal("message never dispatched")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}

	close(release)
	if _, ok := h.next(t).(bridge.LoginSucceeded); !ok {
		t.Fatal("in-flight login result should still be delivered")
	}
}
