package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/phrazzld/recall/internal/buffer"
	"github.com/phrazzld/recall/internal/config"
	"github.com/phrazzld/recall/internal/platform/logger"
	"github.com/phrazzld/recall/internal/service/auth"
	"github.com/phrazzld/recall/internal/uploader"
)

// session bundles what every subcommand needs.
type session struct {
	config *config.Config
	logger *slog.Logger
	client *uploader.Client
}

// newSession loads the env file and client configuration and opens the
// buffer.
func newSession() (*session, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(logger.LoggerConfig{Level: cfg.Client.LogLevel, Output: os.Stderr})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	buf, err := buffer.Open(cfg.Client.BufferDir, l)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	client, err := uploader.New(uploader.Config{
		ServerURL:        cfg.Client.ServerURL,
		DeviceID:         cfg.Client.DeviceID,
		BatchSize:        cfg.Client.BatchSize,
		UploadsPerSecond: cfg.Client.UploadsPerSecond,
		RequestTimeout:   cfg.Client.RequestTimeout,
	}, buf, tokens, l)
	if err != nil {
		return nil, err
	}

	return &session{config: cfg, logger: l, client: client}, nil
}
