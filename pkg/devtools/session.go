package devtools

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	cdpnetwork "github.com/chromedp/cdproto/network"
)

// Session is one connected tab with its four capability clients. Sessions
// come from Client.Connect; the zero value is not usable.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	// The capability surface, grouped by protocol domain.
	Page    PageClient
	DOM     DOMClient
	Runtime RuntimeClient
	Network NetworkClient
}

func newSession(id string, ctx context.Context, cancel context.CancelFunc) *Session {
	s := &Session{id: id, ctx: ctx, cancel: cancel}
	s.Page = PageClient{s: s}
	s.DOM = DOMClient{s: s}
	s.Runtime = RuntimeClient{s: s}
	s.Network = NetworkClient{s: s}
	return s
}

// ID returns the target id the session is attached to.
func (s *Session) ID() string {
	return s.id
}

// Navigate loads url in the tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.Page.Navigate(ctx, url)
}

// Close detaches from the target. The tab itself stays open in the browser
// and is reclaimed when the pool kills the process.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

// run executes actions against the tab, honoring the caller's context for
// cancellation and deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// PageClient covers page lifecycle: navigation, reload, screenshots.
type PageClient struct {
	s *Session
}

// Navigate loads url and waits for the load event.
func (c PageClient) Navigate(ctx context.Context, url string) error {
	return c.s.run(ctx, chromedp.Navigate(url))
}

// Reload reloads the current page.
func (c PageClient) Reload(ctx context.Context) error {
	return c.s.run(ctx, chromedp.Reload())
}

// StopLoading aborts an in-flight navigation.
func (c PageClient) StopLoading(ctx context.Context) error {
	return c.s.run(ctx, page.StopLoading())
}

// CaptureScreenshot returns a PNG of the current viewport.
func (c PageClient) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// DOMClient covers DOM inspection.
type DOMClient struct {
	s *Session
}

// WaitVisible blocks until the first element matching the query selector
// is visible.
func (c DOMClient) WaitVisible(ctx context.Context, selector string) error {
	return c.s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// OuterHTML returns the outer HTML of the first element matching the
// query selector.
func (c DOMClient) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := c.s.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Text returns the visible text of the first element matching the query
// selector.
func (c DOMClient) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := c.s.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

// RuntimeClient covers script execution in the page.
type RuntimeClient struct {
	s *Session
}

// Evaluate runs a JavaScript expression and unmarshals its result into
// out. A nil out discards the result.
func (c RuntimeClient) Evaluate(ctx context.Context, expression string, out any) error {
	return c.s.run(ctx, chromedp.Evaluate(expression, out))
}

// NetworkClient covers network-level controls for the tab.
type NetworkClient struct {
	s *Session
}

// SetExtraHeaders attaches additional HTTP headers to every request the
// tab issues.
func (c NetworkClient) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(cdpnetwork.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return c.s.run(ctx, cdpnetwork.SetExtraHTTPHeaders(h))
}

// SetCacheDisabled toggles the browser cache for the tab.
func (c NetworkClient) SetCacheDisabled(ctx context.Context, disabled bool) error {
	return c.s.run(ctx, cdpnetwork.SetCacheDisabled(disabled))
}

// BlockURLs prevents the tab from loading URLs matching the given
// wildcard patterns.
func (c NetworkClient) BlockURLs(ctx context.Context, patterns []string) error {
	return c.s.run(ctx, cdpnetwork.SetBlockedURLs(patterns))
}

// ClearCookies removes all browser cookies.
func (c NetworkClient) ClearCookies(ctx context.Context) error {
	return c.s.run(ctx, storage.ClearCookies())
}
