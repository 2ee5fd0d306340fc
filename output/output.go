// Package output writes finished client packages as JSON documents.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/dhcgn/clientmail/dedup"
	"github.com/dhcgn/clientmail/model"
	"github.com/dhcgn/clientmail/stats"
)

// Document is the per-client file handed to downstream consumers.
type Document struct {
	GeneratedAt       time.Time            `json:"generatedAt"`
	Package           *model.ClientPackage `json:"package"`
	Correspondence    []*model.Message     `json:"correspondence"`
	DuplicatesRemoved int                  `json:"duplicatesRemoved,omitempty"`
}

// Correspondence merges both directions of p newest first. With dedupe set,
// near-identical copies are removed and returned separately.
func Correspondence(p *model.ClientPackage, dedupe bool) ([]*model.Message, []dedup.Duplicate) {
	all := p.All()
	slices.SortStableFunc(all, func(x, y *model.Message) int {
		return y.Timestamp().Compare(x.Timestamp())
	})
	if !dedupe {
		return all, nil
	}
	return dedup.Deduplicate(all), dedup.Duplicates(all)
}

type Options struct {
	// Dir receives one file per client; empty writes a single array to the
	// writer given to NewWriter.
	Dir   string
	Dedup bool
}

type Writer struct {
	opts     Options
	out      io.Writer
	recorder stats.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewWriter(opts Options, out io.Writer, recorder stats.Recorder, logger *slog.Logger) *Writer {
	if recorder == nil {
		recorder = stats.Discard
	}
	if out == nil {
		out = os.Stdout
	}
	return &Writer{opts: opts, out: out, recorder: recorder, logger: logger, now: time.Now}
}

// Write renders every package.
func (w *Writer) Write(packages []*model.ClientPackage) error {
	docs := make([]Document, 0, len(packages))
	generated := w.now().UTC()
	for _, p := range packages {
		messages, duplicates := Correspondence(p, w.opts.Dedup)
		for _, d := range duplicates {
			w.recorder.Record(stats.Event{
				Stage:     stats.StageDedup,
				Type:      stats.EventTypeDuplicate,
				MessageID: d.Message.ID,
				ClientUID: p.ClientUID,
				Detail:    "kept " + d.Kept.ID,
			})
		}
		docs = append(docs, Document{
			GeneratedAt:       generated,
			Package:           p,
			Correspondence:    messages,
			DuplicatesRemoved: len(duplicates),
		})
	}

	if w.opts.Dir == "" {
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(docs); err != nil {
			return fmt.Errorf("encode packages: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, doc := range docs {
		path := filepath.Join(w.opts.Dir, FileName(doc.Package.ClientUID))
		if err := writeJSON(path, doc); err != nil {
			return err
		}
		if w.logger != nil {
			w.logger.Debug("package written", "client", doc.Package.ClientUID, "path", path, "messages", len(doc.Correspondence))
		}
	}
	if w.logger != nil {
		w.logger.Info("packages written", "dir", w.opts.Dir, "packages", len(docs))
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName maps a client uid to a safe file name.
func FileName(uid string) string {
	name := unsafeName.ReplaceAllString(uid, "_")
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return name + ".json"
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".package-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
