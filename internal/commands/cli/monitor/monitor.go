// Package monitor provides a terminal UI for watching pool statistics.
package monitor

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	addr     string
	interval time.Duration
)

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch render server statistics in a terminal UI",
		Long: `Poll the /stats endpoint of a running render server and display session
pool occupancy in a live terminal view.`,
		RunE: runMonitor,
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8600", "render server address")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "refresh interval")

	return cmd
}

func runMonitor(_ *cobra.Command, _ []string) error {
	// Disable logging for CLI commands.
	log.Logger = log.Logger.Level(zerolog.Disabled)

	p := tea.NewProgram(newMonitorModel(addr, interval))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run monitor: %w", err)
	}

	return nil
}
