package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/capability"
	"github.com/basket/paintbridge/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultRemoteTimeout = 10 * time.Second
	maxResponseBytes     = 1 << 20
)

// Remote is a session service reached over HTTP JSON:
//
//	GET  /session  -> 200 {"attributes":[...]} | 401 {"error":"no session"}
//	POST /login    -> 200 {"attributes":[...]} | 4xx {"error":reason}
//	POST /logout   -> 204 | 401 {"error":"user was not signed in"}
type Remote struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger

	mu   sync.RWMutex
	user string
}

func NewRemote(endpoint string, timeout time.Duration, logger *slog.Logger) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(endpoint), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse auth endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("auth endpoint %q: scheme must be http or https", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		base: u,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: telemetry.Component(logger, "auth"),
	}, nil
}

type attributesResponse struct {
	Attributes []bridge.Attribute `json:"attributes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r *Remote) GetSession(ctx context.Context) ([]bridge.Attribute, error) {
	var resp attributesResponse
	if err := r.do(ctx, http.MethodGet, "/session", nil, &resp); err != nil {
		return nil, err
	}
	r.remember(resp.Attributes, "")
	return resp.Attributes, nil
}

func (r *Remote) Login(ctx context.Context, creds bridge.Credentials) ([]bridge.Attribute, error) {
	var resp attributesResponse
	if err := r.do(ctx, http.MethodPost, "/login", creds, &resp); err != nil {
		return nil, err
	}
	r.remember(resp.Attributes, creds.Username)
	return resp.Attributes, nil
}

func (r *Remote) Logout(ctx context.Context) error {
	err := r.do(ctx, http.MethodPost, "/logout", nil, nil)
	if err == nil || errors.Is(err, capability.ErrNotSignedIn) {
		r.mu.Lock()
		r.user = ""
		r.mu.Unlock()
	}
	return err
}

// CurrentUser returns the username seen on the last successful session
// lookup or login.
func (r *Remote) CurrentUser(context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.user, nil
}

func (r *Remote) remember(attrs []bridge.Attribute, fallback string) {
	user := fallback
	for _, a := range attrs {
		if a.Name == "username" || (user == "" && a.Name == "email") {
			user = a.Value
		}
	}
	r.mu.Lock()
	r.user = user
	r.mu.Unlock()
}

func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base.JoinPath(path).String(), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("auth endpoint unreachable", "path", path, "error", err)
		return fmt.Errorf("%w: %v", capability.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", capability.ErrNetworkFailure, path, err)
	}

	if resp.StatusCode >= 300 {
		return reasonError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// reasonError maps a failure response onto the capability sentinels when
// the server's reason matches one, and otherwise returns the reason as is.
func reasonError(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	reason := strings.TrimSpace(e.Error)
	for _, sentinel := range []error{capability.ErrNoSession, capability.ErrNotSignedIn, capability.ErrNetworkFailure, ErrInvalidCredentials} {
		if reason == sentinel.Error() {
			return sentinel
		}
	}
	switch {
	case reason != "":
		return errors.New(reason)
	case status == http.StatusUnauthorized:
		return capability.ErrNoSession
	case status >= 500:
		return fmt.Errorf("%w: status %d", capability.ErrNetworkFailure, status)
	default:
		return fmt.Errorf("auth endpoint status %d", status)
	}
}
