package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z".
var Version = "0.0.0-dev"

var rootCmd = &cobra.Command{
	Use:   "glance",
	Short: "Screen-aware guidance relay",
	Long: `glance relays screen frames and chat from a client to a vision model
and streams short guidance back over a websocket.

Commands:
  serve          Run the HTTP + websocket server
  diff a b       Compare two images the way the frame gate does`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDiffCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
