package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local buffer size and the server's queue and workers",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	buffered, err := s.client.Buffered(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "buffered: %d\n", buffered); err != nil {
		return err
	}

	status, err := s.client.Status(cmd.Context())
	if err != nil {
		_, werr := fmt.Fprintf(out, "server: unreachable (%v)\n", err)
		return werr
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
