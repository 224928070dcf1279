package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"llmbridge/internal/bridge"
	"llmbridge/internal/events"
	"llmbridge/pkg/types"
)

// Remote is a Gateway speaking to an llmbridge server over HTTP, with events
// arriving over the /v1/events websocket and fanned out locally.
type Remote struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	log    zerolog.Logger
	bus    *events.Bus

	mu     sync.Mutex
	conn   *websocket.Conn
	reader chan struct{}
}

var _ bridge.Gateway = (*Remote)(nil)

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the HTTP client used for operations.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.http = c }
}

// WithRemoteLogger sets the Remote logger.
func WithRemoteLogger(l *zerolog.Logger) RemoteOption {
	return func(r *Remote) {
		if l != nil {
			r.log = l.With().Str("component", "remote").Logger()
		}
	}
}

// NewRemote returns a Remote for baseURL, e.g. http://127.0.0.1:8080.
func NewRemote(baseURL string, opts ...RemoteOption) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", baseURL)
	}
	r := &Remote{
		base:   u,
		http:   &http.Client{},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    zerolog.Nop(),
		bus:    events.NewBus(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Connect opens the event stream. Events published by the server before
// Connect returns are not delivered.
func (r *Remote) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}
	ws := *r.base
	ws.Scheme = "ws"
	if r.base.Scheme == "https" {
		ws.Scheme = "wss"
	}
	ws.Path += "/v1/events"
	conn, resp, err := r.dialer.DialContext(ctx, ws.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect events (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("connect events: %w", err)
	}
	r.conn = conn
	r.reader = make(chan struct{})
	go r.readLoop(conn, r.reader)
	return nil
}

func (r *Remote) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var e events.Event
		if err := conn.ReadJSON(&e); err != nil {
			r.log.Debug().Err(err).Msg("event stream ended")
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			return
		}
		r.bus.Publish(e)
	}
}

// Close closes the event stream.
func (r *Remote) Close() error {
	r.mu.Lock()
	conn, done := r.conn, r.reader
	r.conn = nil
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	return err
}

// Subscribe registers fn for events from the stream. Call Connect first.
func (r *Remote) Subscribe(fn events.Listener) func() { return r.bus.Subscribe(fn) }

// errAbandoned marks a response meaning the call will never settle.
var errAbandoned = errors.New("superseded by a newer request")

// do sends a JSON request and decodes a JSON response into out.
func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeRemoteError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeRemoteError rebuilds the bridge error taxonomy from an error body.
func decodeRemoteError(resp *http.Response) error {
	var er types.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("remote: unexpected status %d", resp.StatusCode)
	}
	if er.Kind != "" {
		return &types.Error{Kind: er.Kind, Message: er.Error}
	}
	if resp.StatusCode == http.StatusConflict {
		return errAbandoned
	}
	return fmt.Errorf("remote: %s (status %d)", er.Error, resp.StatusCode)
}

func runCall[T any](fn func(ctx context.Context) (T, error)) *bridge.Call[T] {
	c := bridge.NewCall[T]()
	go func() {
		v, err := fn(context.Background())
		if errors.Is(err, errAbandoned) {
			c.Abandon()
			return
		}
		if err != nil {
			c.Reject(err)
			return
		}
		c.Resolve(v)
	}()
	return c
}

func (r *Remote) create(path string, req types.CreateModelRequest) *bridge.Call[types.Handle] {
	return runCall(func(ctx context.Context) (types.Handle, error) {
		var out types.CreateModelResponse
		err := r.do(ctx, http.MethodPost, path, req, &out)
		return out.Handle, err
	})
}

// CreateModel creates a model from a path or asset config. A config without
// a source is rejected without a round trip.
func (r *Remote) CreateModel(cfg types.ModelConfig) *bridge.Call[types.Handle] {
	if err := cfg.Source.Validate(); err != nil {
		return bridge.Rejected[types.Handle](types.NewError(types.KindModelLoad, 0, "invalid model config", err))
	}
	if _, ok := cfg.Source.Asset(); ok {
		return r.create("/v1/models/asset", types.NewCreateModelRequest(cfg))
	}
	return r.create("/v1/models", types.NewCreateModelRequest(cfg))
}

// CreateModelFromAsset creates a model from a bundled asset.
func (r *Remote) CreateModelFromAsset(asset string, params types.GenerationParams) *bridge.Call[types.Handle] {
	return r.create("/v1/models/asset", types.NewCreateModelRequest(types.NewAssetConfig(asset, params)))
}

// ReleaseModel releases h on the server.
func (r *Remote) ReleaseModel(h types.Handle) *bridge.Call[bool] {
	return runCall(func(ctx context.Context) (bool, error) {
		var out types.ReleaseModelResponse
		err := r.do(ctx, http.MethodDelete, "/v1/models/"+strconv.FormatInt(int64(h), 10), nil, &out)
		return out.Released, err
	})
}

// streamSettle bounds how long a finished generation waits for its trailing
// events to arrive over the websocket.
var streamSettle = 5 * time.Second

// streamTail tracks the events of one request seen on the stream.
type streamTail struct {
	mu      sync.Mutex
	last    string
	failed  bool
	changed chan struct{}
}

func (t *streamTail) observe(e events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Kind {
	case events.KindPartial:
		t.last = e.Response
	case events.KindError:
		t.failed = true
	default:
		return
	}
	close(t.changed)
	t.changed = make(chan struct{})
}

// wait blocks until done reports true or the settle window passes.
func (t *streamTail) wait(done func(last string, failed bool) bool) {
	timer := time.NewTimer(streamSettle)
	defer timer.Stop()
	for {
		t.mu.Lock()
		ok := done(t.last, t.failed)
		ch := t.changed
		t.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-ch:
		case <-timer.C:
			return
		}
	}
}

func (r *Remote) connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// generate settles only after the stream has delivered the request's last
// partial (or its error event), so subscribers see every event before the
// call resolves.
func (r *Remote) generate(h types.Handle, req types.GenerateRequest) *bridge.Call[string] {
	tail := &streamTail{changed: make(chan struct{})}
	unsubscribe := r.bus.Subscribe(func(e events.Event) {
		if e.Handle == h && e.RequestID == req.RequestID {
			tail.observe(e)
		}
	})
	return runCall(func(ctx context.Context) (string, error) {
		defer unsubscribe()
		var out types.GenerateResponse
		err := r.do(ctx, http.MethodPost, "/v1/models/"+strconv.FormatInt(int64(h), 10)+"/generate", req, &out)
		if !r.connected() {
			return out.Response, err
		}
		switch {
		case err == nil && out.Response != "":
			tail.wait(func(last string, _ bool) bool { return last == out.Response })
		case types.IsInference(err):
			tail.wait(func(_ string, failed bool) bool { return failed })
		}
		return out.Response, err
	})
}

// GenerateResponse runs a text generation on the server.
func (r *Remote) GenerateResponse(h types.Handle, id types.RequestID, prompt string) *bridge.Call[string] {
	return r.generate(h, types.GenerateRequest{RequestID: id, Prompt: prompt})
}

// GenerateResponseWithImage runs an image generation on the server.
func (r *Remote) GenerateResponseWithImage(h types.Handle, id types.RequestID, prompt, image string) *bridge.Call[string] {
	return r.generate(h, types.GenerateRequest{RequestID: id, Prompt: prompt, Image: &image})
}

// GetMemoryStats fetches the server memory snapshot.
func (r *Remote) GetMemoryStats() *bridge.Call[types.MemoryStats] {
	return runCall(func(ctx context.Context) (types.MemoryStats, error) {
		var out types.MemoryStats
		err := r.do(ctx, http.MethodGet, "/v1/memory", nil, &out)
		return out, err
	})
}

// Assets lists the server's bundled assets.
func (r *Remote) Assets(ctx context.Context) ([]types.Asset, error) {
	var out types.AssetsResponse
	if err := r.do(ctx, http.MethodGet, "/v1/assets", nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

// Status fetches the server registry status.
func (r *Remote) Status(ctx context.Context) (types.StatusResponse, error) {
	var out types.StatusResponse
	err := r.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}
