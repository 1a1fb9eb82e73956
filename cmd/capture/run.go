package main

import (
	"os/signal"
	"syscall"

	"github.com/phrazzld/recall/internal/uploader"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the inbox, drain the buffer and send heartbeats until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

var (
	runInbox string
	runApp   string
)

func init() {
	runCmd.Flags().StringVar(&runInbox, "inbox", "", "Directory polled for new artifacts; overrides client.inbox_dir")
	runCmd.Flags().StringVar(&runApp, "app", "", "Application name recorded for inbox captures")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	inbox := runInbox
	if inbox == "" {
		inbox = s.config.Client.InboxDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.client.Run(ctx, uploader.RunOptions{
		InboxDir:          inbox,
		AppName:           runApp,
		DrainInterval:     s.config.Client.DrainInterval,
		HeartbeatInterval: s.config.Client.HeartbeatInterval,
	})
}
