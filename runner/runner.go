// Package runner splits one correlation run into shards and executes them on
// a bounded worker pool.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/clientmail/bundle"
	"github.com/dhcgn/clientmail/correlate"
	"github.com/dhcgn/clientmail/directory"
	"github.com/dhcgn/clientmail/model"
	"github.com/dhcgn/clientmail/stats"
)

var ErrAlreadyRun = errors.New("runner already used")

type Options struct {
	// Shards is the number of chunks each message list is cut into.
	Shards int
	// Workers bounds the shards processed at the same time.
	Workers int
}

// Runner executes a single correlation run. Stats subscribers receive every
// event of the run and are drained before Run returns.
type Runner struct {
	opts   Options
	logger *slog.Logger
	engine *correlate.Engine

	ctx    context.Context
	cancel context.CancelFunc

	subMu       sync.Mutex
	subscribers []chan stats.Event
	statsWG     sync.WaitGroup

	errMu sync.Mutex
	err   error

	runOnce         sync.Once
	closeEventsOnce sync.Once
}

// New builds the runner and its engine. The engine reports to the runner.
func New(opts Options, engineOpts correlate.Options, logger *slog.Logger) (*Runner, error) {
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if engineOpts.Recorder != nil {
		cancel()
		return nil, fmt.Errorf("engine recorder is owned by the runner; subscribe to stats instead")
	}
	engineOpts.Recorder = r
	engine, err := correlate.New(engineOpts, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("correlation engine: %w", err)
	}
	r.engine = engine
	return r, nil
}

// Shards returns the effective shard count.
func (r *Runner) Shards() int {
	return r.opts.Shards
}

// Record implements stats.Recorder by broadcasting evt to every subscriber.
func (r *Runner) Record(evt stats.Event) {
	r.EmitEvent(evt)
}

func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.Lock()
	subscribers := r.subscribers
	r.subMu.Unlock()
	for _, ch := range subscribers {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats starts fn on its own event channel. Subscribers must be
// registered before Run.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// Run correlates inbound and outbound against dir. Cancelling ctx stops new
// shards from being scheduled; shards already running complete.
func (r *Runner) Run(ctx context.Context, inbound, outbound []model.RawMessage, dir *directory.Snapshot) ([]*model.ClientPackage, error) {
	var (
		packages []*model.ClientPackage
		err      = ErrAlreadyRun
	)
	r.runOnce.Do(func() {
		started := time.Now()
		packages, err = r.run(ctx, inbound, outbound, dir)
		r.finish()

		if err == nil {
			err = r.failure()
		}
		duration := time.Since(started)
		if err != nil {
			r.logger.Error("correlation run failed", "duration", duration, "err", err)
			packages = nil
			return
		}
		r.logger.Info("correlation run completed", "duration", duration, "packages", len(packages), "shards", r.opts.Shards)
	})
	return packages, err
}

func (r *Runner) run(ctx context.Context, inbound, outbound []model.RawMessage, dir *directory.Snapshot) ([]*model.ClientPackage, error) {
	pass, err := r.engine.Prepare(dir)
	if err != nil {
		return nil, err
	}

	shards := r.opts.Shards
	assemblers := make([]*bundle.Assembler, shards)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i := 0; i < shards; i++ {
		if gctx.Err() != nil {
			break
		}
		in := chunk(inbound, shards, i)
		out := chunk(outbound, shards, i)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			asm := pass.NewAssembler()
			if err := pass.Collect(asm, in, out); err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageShard, Type: stats.EventTypeError, Err: err})
				return fmt.Errorf("shard %d: %w", i, err)
			}
			assemblers[i] = asm
			r.EmitEvent(stats.Event{Stage: stats.StageShard, Type: stats.EventTypeShardDone, Detail: fmt.Sprintf("%d/%d", i+1, shards)})
			r.logger.Debug("shard done", "shard", i, "inbound", len(in), "outbound", len(out))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := pass.NewAssembler()
	for _, asm := range assemblers {
		if err := merged.Merge(asm); err != nil {
			return nil, err
		}
	}
	return merged.Finalize(), nil
}

// chunk returns the i-th of n contiguous, nearly equal parts of msgs.
func chunk(msgs []model.RawMessage, n, i int) []model.RawMessage {
	lo := len(msgs) * i / n
	hi := len(msgs) * (i + 1) / n
	return msgs[lo:hi]
}

func (r *Runner) finish() {
	r.closeEventsOnce.Do(func() {
		r.subMu.Lock()
		for _, ch := range r.subscribers {
			close(ch)
		}
		r.subMu.Unlock()
	})
	r.statsWG.Wait()
	r.cancel()
}

func (r *Runner) failure() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
