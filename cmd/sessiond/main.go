// Command sessiond runs the session multiplexer daemon: an HTTP/WebSocket
// API in front of sandboxed, interactive shell sessions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "sessiond",
		Short: "Session multiplexer daemon",
		Long:  "sessiond exposes sandboxed, interactive shell sessions over HTTP and WebSocket.",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// version is set at build time via -ldflags, mirroring the teacher's
// build-stamped version string.
var version = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sessiond version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
