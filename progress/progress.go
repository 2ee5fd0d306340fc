package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/clientmail/stats"
)

// Bar tracks finished shards of a correlation run.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
}

// New creates a new progress bar if logLevel is "info".
func New(totalShards, inbound, outbound, clients int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{
		total:   totalShards,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(totalShards).
			WithTitle("Correlating shards").
			Start()

		bar.pb = pb

		pterm.Info.Printf("Inbound messages: %d\n", inbound)
		pterm.Info.Printf("Outbound messages: %d\n", outbound)
		pterm.Info.Printf("Clients in directory: %d\n", clients)
		pterm.Println()
	}

	return bar
}

// Update advances the bar on finished shards and prints errors above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeShardDone:
		b.done++
		b.pb.Increment()
		if evt.Detail != "" {
			b.pb.UpdateTitle("Shard " + evt.Detail)
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	if b.done == b.total {
		pterm.Success.Println("Correlation complete!")
	} else {
		pterm.Warning.Printf("Correlation stopped after %d of %d shards\n", b.done, b.total)
	}
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter wraps the stats Reporter with progress bar functionality.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter creates a new progress reporter with optional progress bar.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

// Summary returns what the reporter has collected so far.
func (pr *ProgressReporter) Summary() stats.Summary {
	return pr.collector.Snapshot()
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	if pr.logger != nil {
		pterm.Println()
		pterm.DefaultSection.Println("Summary Statistics")
		pterm.Info.Printf("Duration: %v\n", duration)
		pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
		pterm.Info.Printf("Matched: %d\n", summary.Matched)
		pterm.Info.Printf("Related matches: %d\n", summary.Related)
		pterm.Info.Printf("Ambiguous: %d\n", summary.Ambiguous)
		pterm.Info.Printf("Unmatched (dropped): %d\n", summary.Unmatched)
		pterm.Info.Printf("Skipped (no address): %d\n", summary.Skipped)
		pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
		pterm.Info.Printf("Errors: %d\n", summary.Errors)
		if summary.LastError != nil {
			pterm.Error.Printf("Last error: %v\n", summary.LastError)
		}
	}

	return nil
}
