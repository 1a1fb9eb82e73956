package main

import (
	"fmt"
	"os"
	"time"

	"github.com/phrazzld/recall/internal/api"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/uploader"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Upload one artifact, buffering it if the server is unreachable",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

var (
	sendKind       string
	sendCapturedAt string
	sendApp        string
	sendWindow     string
)

func init() {
	sendCmd.Flags().StringVarP(&sendKind, "kind", "k", "", "Artifact kind (screenshot, video, audio); inferred from the extension when empty")
	sendCmd.Flags().StringVar(&sendCapturedAt, "captured-at", "", "Capture time as unix milliseconds or RFC 3339; defaults to the file's modification time")
	sendCmd.Flags().StringVar(&sendApp, "app", "", "Foreground application name")
	sendCmd.Flags().StringVar(&sendWindow, "window", "", "Foreground window title")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	capture, err := buildCapture(args[0], sendKind, sendCapturedAt, sendApp, sendWindow)
	if err != nil {
		return err
	}

	s, err := newSession()
	if err != nil {
		return err
	}

	res, err := s.client.Send(cmd.Context(), capture)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch res.Outcome {
	case uploader.OutcomeAccepted:
		_, err = fmt.Fprintf(out, "accepted task %d\n", res.TaskID)
	case uploader.OutcomeDuplicate:
		_, err = fmt.Fprintf(out, "duplicate of task %d\n", res.TaskID)
	default:
		_, err = fmt.Fprintf(out, "server unavailable, buffered as %s\n", res.BufferID)
	}
	return err
}

// buildCapture resolves the send flags against the file on disk.
func buildCapture(path, kind, capturedAt, app, window string) (uploader.Capture, error) {
	info, err := os.Stat(path)
	if err != nil {
		return uploader.Capture{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return uploader.Capture{}, fmt.Errorf("%s is a directory", path)
	}

	var k domain.ArtifactKind
	if kind != "" {
		k, err = domain.ParseArtifactKind(kind)
	} else {
		k, err = uploader.KindForFile(path)
	}
	if err != nil {
		return uploader.Capture{}, err
	}

	at := info.ModTime()
	if capturedAt != "" {
		if at, err = api.ParseCaptureTime(capturedAt); err != nil {
			return uploader.Capture{}, err
		}
	}

	return uploader.Capture{
		Kind:        k,
		CapturedAt:  at.UTC().Truncate(time.Millisecond),
		AppName:     app,
		WindowTitle: window,
		Path:        path,
	}, nil
}
