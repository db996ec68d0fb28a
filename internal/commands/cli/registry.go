// Package cli provides centralized command registration.
package cli

import (
	"github.com/SkeLLLa/chrome-pool/internal/commands/cli/monitor"
	"github.com/SkeLLLa/chrome-pool/internal/commands/cli/render"
	"github.com/SkeLLLa/chrome-pool/internal/commands/cli/server"
	"github.com/SkeLLLa/chrome-pool/internal/commands/cli/targets"
	"github.com/spf13/cobra"
)

// RegisterCommands registers all root commands.
func RegisterCommands(root *cobra.Command) error {
	// Root commands.
	root.AddCommand(server.NewServeCommand())
	root.AddCommand(render.NewRenderCommand())
	root.AddCommand(targets.NewTargetsCommand())
	root.AddCommand(monitor.NewMonitorCommand())

	return nil
}
