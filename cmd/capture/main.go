// Package main implements the capture client: it uploads artifacts to the
// recall server and keeps them in a local durable buffer while the server is
// unreachable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture client for the recall server",
	Long: "capture uploads screenshots, video and audio to the recall ingest endpoint, " +
		"buffering them on disk while the server is offline and draining the buffer once it is back.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Optional dotenv file loaded before configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
