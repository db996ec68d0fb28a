package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/SkeLLLa/chrome-pool/pkg/devtools"
)

const documentSelector = "html"

var (
	errMissingURL        = errors.New("missing url")
	errUnsupportedScheme = errors.New("unsupported url scheme")
	errNegativeWait      = errors.New("wait_ms must not be negative")
)

// renderRequest is the JSON body accepted by POST /render.
type renderRequest struct {
	URL      string `json:"url"`
	Selector string `json:"selector,omitempty"`
	WaitMS   int    `json:"wait_ms,omitempty"`
}

func (r *renderRequest) validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return errMissingURL
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", r.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", errUnsupportedScheme, u.Scheme)
	}
	if r.WaitMS < 0 {
		return errNegativeWait
	}

	r.Selector = strings.TrimSpace(r.Selector)

	return nil
}

// renderFunc drives one session through a render request and returns the HTML.
type renderFunc func(ctx context.Context, sess *devtools.Session, req renderRequest) (string, error)

// renderPage navigates the session, optionally waits for a selector and a
// settle period, then captures the serialized document.
func renderPage(ctx context.Context, sess *devtools.Session, req renderRequest) (string, error) {
	if err := sess.Page.Navigate(ctx, req.URL); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", req.URL, err)
	}

	if req.Selector != "" {
		if err := sess.DOM.WaitVisible(ctx, req.Selector); err != nil {
			return "", fmt.Errorf("wait for selector %q: %w", req.Selector, err)
		}
	}

	if req.WaitMS > 0 {
		timer := time.NewTimer(time.Duration(req.WaitMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	html, err := sess.DOM.OuterHTML(ctx, documentSelector)
	if err != nil {
		return "", fmt.Errorf("capture document: %w", err)
	}

	return html, nil
}
