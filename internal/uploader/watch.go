package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"golang.org/x/sync/errgroup"
)

const inboxRejectedDir = "rejected"

// inboxKinds maps artifact file extensions to their kind.
var inboxKinds = map[string]domain.ArtifactKind{
	".png":  domain.KindScreenshot,
	".jpg":  domain.KindScreenshot,
	".jpeg": domain.KindScreenshot,
	".webp": domain.KindScreenshot,
	".mp4":  domain.KindVideo,
	".mov":  domain.KindVideo,
	".webm": domain.KindVideo,
	".wav":  domain.KindAudio,
	".mp3":  domain.KindAudio,
	".m4a":  domain.KindAudio,
	".flac": domain.KindAudio,
}

// KindForFile infers the artifact kind from a file name.
func KindForFile(name string) (domain.ArtifactKind, error) {
	kind, ok := inboxKinds[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return "", fmt.Errorf("%w: no kind for %q", domain.ErrInvalidKind, filepath.Base(name))
	}
	return kind, nil
}

// RunOptions configures Run.
type RunOptions struct {
	// InboxDir is polled for new artifacts when set. Files are removed once
	// uploaded or buffered.
	InboxDir          string
	AppName           string
	PollInterval      time.Duration
	DrainInterval     time.Duration
	HeartbeatInterval time.Duration
}

// Run drains the buffer and sends heartbeats on their intervals, and
// ingests the inbox when one is configured, until ctx is cancelled.
func (c *Client) Run(ctx context.Context, opts RunOptions) error {
	if opts.DrainInterval <= 0 || opts.HeartbeatInterval <= 0 {
		return errors.New("drain and heartbeat intervals must be positive")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	c.logger.Info("capture client running",
		"inbox", opts.InboxDir,
		"drain_interval", opts.DrainInterval,
		"heartbeat_interval", opts.HeartbeatInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return every(gctx, opts.DrainInterval, func(ctx context.Context) {
			if _, err := c.Drain(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("drain failed", "error", err)
			}
		})
	})

	g.Go(func() error {
		return every(gctx, opts.HeartbeatInterval, func(ctx context.Context) {
			if err := c.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				c.logger.Debug("heartbeat failed", "error", err)
			}
		})
	})

	if opts.InboxDir != "" {
		g.Go(func() error {
			return every(gctx, opts.PollInterval, func(ctx context.Context) {
				if _, err := c.ScanInbox(ctx, opts.InboxDir, opts.AppName); err != nil && ctx.Err() == nil {
					c.logger.Warn("inbox scan failed", "error", err)
				}
			})
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ScanInbox sends every artifact in dir, oldest first, and returns how many
// were handed off. Rejected files are moved to dir/rejected.
func (c *Client) ScanInbox(ctx context.Context, dir, appName string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read inbox: %w", err)
	}

	type candidate struct {
		path    string
		kind    domain.ArtifactKind
		modTime time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		kind, err := KindForFile(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{path: filepath.Join(dir, e.Name()), kind: kind, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	handed := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return handed, ctx.Err()
		}
		res, err := c.Send(ctx, Capture{
			Kind:       f.kind,
			CapturedAt: f.modTime,
			AppName:    appName,
			Path:       f.path,
		})
		switch {
		case errors.Is(err, ErrRejected):
			c.logger.Warn("capture rejected", "path", filepath.Base(f.path), "reason", res.Detail)
			if err := moveAside(dir, f.path); err != nil {
				return handed, err
			}
		case err != nil:
			return handed, err
		default:
			if err := os.Remove(f.path); err != nil {
				return handed, fmt.Errorf("failed to remove sent capture: %w", err)
			}
			handed++
		}
	}
	return handed, nil
}

func moveAside(dir, path string) error {
	rejected := filepath.Join(dir, inboxRejectedDir)
	if err := os.MkdirAll(rejected, 0o755); err != nil {
		return fmt.Errorf("failed to create rejected directory: %w", err)
	}
	return os.Rename(path, filepath.Join(rejected, filepath.Base(path)))
}

// every runs fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
