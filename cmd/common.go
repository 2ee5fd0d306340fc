// Package cmd holds the sub-commands of the clientmail CLI.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/clientmail/config"
	"github.com/dhcgn/clientmail/directory"
	"github.com/dhcgn/clientmail/store"
)

// LoggerFactory builds the command logger from the logging flags.
type LoggerFactory func(config.Logging) (*slog.Logger, func() error, error)

// OpenBook opens the client book at path.
func OpenBook(ctx context.Context, path string) (*directory.Book, func() error, error) {
	s, closeFn, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open client directory %s: %w", path, err)
	}
	book, err := directory.OpenBook(ctx, s)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return book, closeFn, nil
}

func commandLogger(cmd *cobra.Command, newLogger LoggerFactory) (*slog.Logger, func() error, error) {
	logging, err := config.LoadLogging(cmd)
	if err != nil {
		return nil, nil, err
	}
	if newLogger == nil {
		return slog.New(slog.DiscardHandler), func() error { return nil }, nil
	}
	return newLogger(logging)
}
