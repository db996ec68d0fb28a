// Package devtools implements the DevTools protocol client the session
// pool drives browsers through: target enumeration and creation over the
// endpoint's JSON API, and connected sessions over the WebSocket protocol
// with the page, DOM, runtime and network domains enabled.
package devtools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	cdpnetwork "github.com/chromedp/cdproto/network"

	"github.com/SkeLLLa/chrome-pool/pkg/pool"
)

// ErrClientClosed reports use of a client after Close.
var ErrClientClosed = errors.New("devtools client is closed")

const (
	defaultHTTPTimeout    = 10 * time.Second
	defaultConnectTimeout = 15 * time.Second
)

// TargetInfo describes one live target of a debugging endpoint.
type TargetInfo struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// VersionInfo identifies the browser behind a debugging endpoint.
type VersionInfo struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
	UserAgent       string `json:"User-Agent"`
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// HTTPTimeout bounds each JSON endpoint request. Defaults to 10s.
	HTTPTimeout time.Duration

	// ConnectTimeout bounds attaching to a target and enabling its
	// capability domains. Defaults to 15s.
	ConnectTimeout time.Duration
}

// Client speaks the DevTools surfaces of browsers addressed by debugging
// port. It satisfies the pool's protocol interface; one client may serve
// several pools on different ports.
type Client struct {
	httpc          *http.Client
	connectTimeout time.Duration

	mu     sync.Mutex
	allocs map[int]*allocator
	closed bool
}

// allocator is one cached chromedp remote allocator per endpoint port.
type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient returns a Client with the given options.
func NewClient(opts ClientOptions) *Client {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = defaultHTTPTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return &Client{
		httpc:          &http.Client{Timeout: opts.HTTPTimeout},
		connectTimeout: opts.ConnectTimeout,
		allocs:         make(map[int]*allocator),
	}
}

// Targets lists every live target of the endpoint.
func (c *Client) Targets(ctx context.Context, port int) ([]TargetInfo, error) {
	var list []TargetInfo
	if err := c.doJSON(ctx, http.MethodGet, port, "/json/list", &list); err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return list, nil
}

// Version reports the browser identity behind the endpoint.
func (c *Client) Version(ctx context.Context, port int) (VersionInfo, error) {
	var v VersionInfo
	if err := c.doJSON(ctx, http.MethodGet, port, "/json/version", &v); err != nil {
		return VersionInfo{}, fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

// ListTargets implements the pool's protocol interface.
func (c *Client) ListTargets(ctx context.Context, port int) ([]pool.Target, error) {
	infos, err := c.Targets(ctx, port)
	if err != nil {
		return nil, err
	}
	out := make([]pool.Target, 0, len(infos))
	for _, ti := range infos {
		out = append(out, pool.Target{ID: ti.ID, Type: ti.Type})
	}
	return out, nil
}

// NewTarget opens a fresh blank tab and returns its target descriptor.
// Browsers require PUT on this endpoint since version 111.
func (c *Client) NewTarget(ctx context.Context, port int) (pool.Target, error) {
	var info TargetInfo
	if err := c.doJSON(ctx, http.MethodPut, port, "/json/new?"+pool.BlankURL, &info); err != nil {
		return pool.Target{}, fmt.Errorf("open target: %w", err)
	}
	return pool.Target{ID: info.ID, Type: info.Type}, nil
}

// CloseTarget asks the browser to close a target.
func (c *Client) CloseTarget(ctx context.Context, port int, targetID string) error {
	if err := c.doJSON(ctx, http.MethodGet, port, "/json/close/"+targetID, nil); err != nil {
		return fmt.Errorf("close target %s: %w", targetID, err)
	}
	return nil
}

// Connect attaches to the named target and enables the four capability
// domains. The session is usable only once every enable has succeeded.
func (c *Client) Connect(ctx context.Context, port int, targetID string) (*Session, error) {
	alloc, err := c.allocatorFor(port)
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(alloc.ctx, chromedp.WithTargetID(target.ID(targetID)))

	runCtx, cancelRun := context.WithTimeout(tabCtx, c.connectTimeout)
	defer cancelRun()
	stop := context.AfterFunc(ctx, cancelRun)
	defer stop()

	err = chromedp.Run(runCtx,
		page.Enable(),
		dom.Enable(),
		runtime.Enable(),
		cdpnetwork.Enable(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("enable capability domains on target %s: %w", targetID, err)
	}
	return newSession(targetID, tabCtx, cancel), nil
}

// Close cancels every cached allocator, detaching all sessions connected
// through this client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, a := range c.allocs {
		a.cancel()
	}
	c.allocs = nil
	return nil
}

func (c *Client) allocatorFor(port int) (*allocator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if a, ok := c.allocs[port]; ok {
		return a, nil
	}
	// The allocator resolves the browser's WebSocket URL from the HTTP
	// endpoint on first use and is shared by every session on this port.
	actx, cancel := chromedp.NewRemoteAllocator(context.Background(), c.base(port))
	a := &allocator{ctx: actx, cancel: cancel}
	c.allocs[port] = a
	return a, nil
}

func (c *Client) base(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func (c *Client) doJSON(ctx context.Context, method string, port int, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base(port)+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
