package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/casualjim/mqtt4w/config"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

// setupLogging replaces the default logger as configured. The returned
// function closes the log file, if any.
func setupLogging(cfg config.Logging) (func(), error) {
	var out io.Writer = os.Stderr
	closeLog := func() {}
	if cfg.Filename != "" {
		f, err := os.OpenFile(cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeLog = func() { _ = f.Close() }
	}

	slog.SetDefault(slog.New(
		zeroslog.NewHandler(newZerolog(out, cfg), &zeroslog.HandlerOptions{Level: level(cfg.Level)}),
	))
	return closeLog, nil
}

func newZerolog(out io.Writer, cfg config.Logging) zerolog.Logger {
	if cfg.Format == "json" {
		return zerolog.New(out).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Stamp, NoColor: cfg.Filename != ""}
	return zerolog.New(output).With().Timestamp().Logger()
}

func level(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
