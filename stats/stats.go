package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageIngest    Stage = "ingest"
	StageCorrelate Stage = "correlate"
	StageAssemble  Stage = "assemble"
	StageDedup     Stage = "dedup"
	StageShard     Stage = "shard"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeMatched   EventType = "matched"
	EventTypeRelated   EventType = "related_match"
	EventTypeAmbiguous EventType = "ambiguous"
	EventTypeUnmatched EventType = "unmatched"
	EventTypeSkipped   EventType = "skipped"
	EventTypeFiltered  EventType = "filtered"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeShardDone EventType = "shard_done"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	ClientUID string
	Address   string
	Err       error
	Detail    string
}

// Recorder receives events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(evt Event) { f(evt) }

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(Event) {})

type Summary struct {
	Scanned    int
	Matched    int
	Related    int
	Ambiguous  int
	Unmatched  int
	Skipped    int
	Filtered   int
	Duplicates int
	Shards     int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"matched", s.Matched,
		"related", s.Related,
		"ambiguous", s.Ambiguous,
		"unmatched", s.Unmatched,
		"skipped", s.Skipped,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"shards", s.Shards,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Record applies evt directly; the collector doubles as a synchronous Recorder.
func (c *Collector) Record(evt Event) {
	c.apply(evt)
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeMatched:
		c.summary.Matched++
	case EventTypeRelated:
		c.summary.Related++
	case EventTypeAmbiguous:
		c.summary.Ambiguous++
	case EventTypeUnmatched:
		c.summary.Unmatched++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeShardDone:
		c.summary.Shards++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop writes the top N most frequent items in a map to w.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
