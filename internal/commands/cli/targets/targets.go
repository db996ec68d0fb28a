// Package targets provides commands for inspecting a running browser.
package targets

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SkeLLLa/chrome-pool/pkg/devtools"
)

var (
	endpoint int
	closeID  string
)

// NewTargetsCommand creates the targets command.
func NewTargetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List debugging targets of a running browser",
		Long: `Query the DevTools HTTP endpoint of an already running browser and list
its targets. Useful for inspecting what a pool instance has open.`,
		RunE: runTargets,
	}

	cmd.Flags().IntVar(&endpoint, "endpoint", 9222, "remote debugging port to query")
	cmd.Flags().StringVar(&closeID, "close", "", "close the target with the given id instead of listing")

	return cmd
}

func runTargets(cmd *cobra.Command, _ []string) error {
	// Disable logging for CLI commands.
	log.Logger = log.Logger.Level(zerolog.Disabled)

	ctx := cmd.Context()

	client := devtools.NewClient(devtools.ClientOptions{})
	defer func() {
		_ = client.Close()
	}()

	if closeID != "" {
		if err := client.CloseTarget(ctx, endpoint, closeID); err != nil {
			return fmt.Errorf("failed to close target: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "closed target %s\n", closeID)

		return nil
	}

	version, err := client.Version(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to query browser version: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (protocol %s)\n\n",
		version.Browser,
		version.ProtocolVersion)

	targets, err := client.Targets(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}

	// Create tabwriter for aligned output.
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tType\tURL\tTitle")
	_, _ = fmt.Fprintln(w, "--\t----\t---\t-----")

	for _, t := range targets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.ID,
			t.Type,
			t.URL,
			t.Title)
	}

	return w.Flush()
}
