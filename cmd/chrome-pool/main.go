package main

import (
	"fmt"
	"os"

	"github.com/SkeLLLa/chrome-pool/internal/commands/cli"
)

// main builds the command tree and dispatches to the selected command.
func main() {
	rootCmd, err := cli.NewRootCommand()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
