package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Upload buffered captures, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runDrain,
}

func init() {
	rootCmd.AddCommand(drainCmd)
}

func runDrain(cmd *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	stats, err := s.client.Drain(cmd.Context())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d, duplicate %d, rejected %d, remaining %d\n",
		stats.Uploaded, stats.Duplicate, stats.Rejected, stats.Remaining)
	return err
}
