// Package server provides server-related CLI commands.
package server

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SkeLLLa/chrome-pool/internal/config"
	"github.com/SkeLLLa/chrome-pool/internal/logging"
	"github.com/SkeLLLa/chrome-pool/internal/server"
	"github.com/SkeLLLa/chrome-pool/pkg/devtools"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the render server",
		Long: `Start the render server. It launches one headless browser, maintains a
pool of reusable tabs, and serves page rendering over HTTP.`,
		RunE: runServe,
	}

	// Add serve command specific flags that can override config.
	cmd.Flags().String("host", "127.0.0.1", "Server host")
	cmd.Flags().Int("port", 8600, "Server port")
	cmd.Flags().Int("capacity", 4, "Maximum number of pooled tabs (0 = unbounded)")
	cmd.Flags().Int("endpoint", 0, "Browser debugging port (0 = pick a free port)")
	cmd.Flags().String("browser", "", "Path to the browser executable")

	// Bind serve command flags to viper.
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("pool.capacity", cmd.Flags().Lookup("capacity"))
	viper.BindPFlag("pool.endpoint", cmd.Flags().Lookup("endpoint"))
	viper.BindPFlag("browser.path", cmd.Flags().Lookup("browser"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Get configuration.
	cfg := config.Get()

	// Normalize log level and format from viper/config.
	logLevel := viper.GetString("log.level")
	logFormat := viper.GetString("log.format")
	logLevel = strings.TrimSpace(strings.ToLower(logLevel))
	logFormat = strings.TrimSpace(strings.ToLower(logFormat))

	// Initialize logger using config values (with CLI flags overriding config via viper).
	logging.InitLogger(
		logLevel == "debug",
		logFormat == "human",
	)

	// Launch the browser and build the session pool.
	browserPool, err := devtools.NewPool(cmd.Context(), devtools.PoolOptions{
		Capacity:   cfg.Pool.Capacity,
		Port:       cfg.Pool.Endpoint,
		Browser:    cfg.Browser.Path,
		ExtraFlags: cfg.Browser.Flags,
		Windowed:   !cfg.Browser.Headless,
		Logger:     &log.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session pool: %v", err)
	}

	// Initialize the server with configured host and port.
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv, err := server.New(serverAddr, browserPool, server.Options{
		RenderTimeout: cfg.Server.RenderTimeout,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		if derr := browserPool.Destroy(); derr != nil {
			log.Error().Err(derr).Msg("error during pool shutdown")
		}

		return fmt.Errorf("failed to initialize server: %v", err)
	}

	// Dump pool statistics on SIGHUP.
	statsChan := make(chan os.Signal, 1)
	signal.Notify(statsChan, syscall.SIGHUP)
	go func() {
		for range statsChan {
			st := browserPool.Stats()
			log.Info().
				Str("event", "pool_stats").
				Int("capacity", st.Capacity).
				Int("sessions", st.Sessions).
				Int("busy", st.Busy).
				Int("free", st.Free).
				Int("waiting", st.Waiting).
				Msg("session pool statistics")
		}
	}()

	defer signal.Stop(statsChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if derr := browserPool.Destroy(); derr != nil {
			log.Error().Err(derr).Msg("error during pool shutdown")
		}
		if err != nil {
			return fmt.Errorf("failed to start server: %v", err)
		}

		return nil
	case <-stopChan:
		log.Info().Msg("shutting down server...")
	}

	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Kill the browser after the server drained in-flight requests.
	if err := browserPool.Destroy(); err != nil {
		log.Error().Err(err).Msg("error during pool shutdown")
	}

	return nil
}
