// Package render provides the one-shot page rendering command.
package render

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SkeLLLa/chrome-pool/internal/config"
	"github.com/SkeLLLa/chrome-pool/pkg/devtools"
)

var (
	selector   string
	wait       time.Duration
	timeout    time.Duration
	outFile    string
	screenshot string
)

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [url]",
		Short: "Render a single page and print its HTML",
		Long: `Launch a browser, navigate one tab to the given URL, wait for the page
to settle, and print the rendered HTML to stdout or a file.`,
		Args: cobra.ExactArgs(1),
		RunE: runRender,
	}

	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector to wait for before capturing")
	cmd.Flags().DurationVar(&wait, "wait", 0, "extra settle time after navigation")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall render timeout")
	cmd.Flags().StringVar(&outFile, "out", "", "write HTML to file instead of stdout")
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "also capture a PNG screenshot to file")

	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	// Disable logging for CLI commands.
	log.Logger = log.Logger.Level(zerolog.Disabled)

	pageURL := args[0]
	cfg := config.Get()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	// A single tab is enough for a one-shot render.
	browserPool, err := devtools.NewPool(ctx, devtools.PoolOptions{
		Capacity:   1,
		Browser:    cfg.Browser.Path,
		ExtraFlags: cfg.Browser.Flags,
		Windowed:   !cfg.Browser.Headless,
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		_ = browserPool.Destroy()
	}()

	tab, err := browserPool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire session: %w", err)
	}
	sess := tab.Session

	if err := sess.Page.Navigate(ctx, pageURL); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}

	if selector != "" {
		if err := sess.DOM.WaitVisible(ctx, selector); err != nil {
			return fmt.Errorf("failed to wait for selector %q: %w", selector, err)
		}
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	html, err := sess.DOM.OuterHTML(ctx, "html")
	if err != nil {
		return fmt.Errorf("failed to capture document: %w", err)
	}

	if screenshot != "" {
		png, err := sess.Page.CaptureScreenshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to capture screenshot: %w", err)
		}
		if err := os.WriteFile(screenshot, png, 0o644); err != nil {
			return fmt.Errorf("failed to write screenshot: %w", err)
		}
	}

	if outFile != "" {
		if err := os.WriteFile(outFile, []byte(html), 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), html)

	return nil
}
