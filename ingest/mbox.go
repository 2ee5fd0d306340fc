// Package ingest turns mail sources (JSON exports and mbox archives) into
// model.RawMessage values for correlation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/clientmail/model"
)

var ErrEmptyPath = errors.New("mail source path is empty")

// ReadMbox parses every message of an mbox stream and passes it to fn.
// Messages that cannot be read or parsed are logged and skipped; an error
// returned by fn stops the scan.
func ReadMbox(ctx context.Context, r io.Reader, logger *slog.Logger, fn func(model.RawMessage) error) error {
	reader := mboxlib.NewReader(r)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if logger != nil {
				logger.Warn("mbox message unreadable", "index", idx, "err", err)
			}
			continue
		}

		msg, err := ParseMIME(raw)
		if err != nil {
			if logger != nil {
				logger.Warn("mbox message skipped", "index", idx, "err", err)
			}
			continue
		}

		if err := fn(msg); err != nil {
			return err
		}
	}
}

// LoadMbox reads all messages of the mbox file at path.
func LoadMbox(ctx context.Context, path string, logger *slog.Logger) ([]model.RawMessage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	var out []model.RawMessage
	err = ReadMbox(ctx, file, logger, func(m model.RawMessage) error {
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read mbox %s: %w", path, err)
	}
	return out, nil
}

// LoadFile reads a message file. Files ending in .json are decoded as JSON,
// anything else is read as mbox.
func LoadFile(ctx context.Context, path string, logger *slog.Logger) ([]model.RawMessage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		msgs, err := LoadMbox(ctx, path, logger)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info("mbox loaded", "path", path, "messages", len(msgs))
		}
		return msgs, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open messages: %w", err)
	}
	defer file.Close()

	msgs, err := DecodeJSON(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if logger != nil {
		logger.Info("messages loaded", "path", path, "messages", len(msgs))
	}
	return msgs, nil
}
