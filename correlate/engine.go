// Package correlate assigns inbound and outbound mail to the clients of a
// directory snapshot and hands the matches to a bundle.Assembler.
package correlate

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dhcgn/clientmail/bundle"
	"github.com/dhcgn/clientmail/directory"
	"github.com/dhcgn/clientmail/filter"
	"github.com/dhcgn/clientmail/model"
	"github.com/dhcgn/clientmail/normalize"
	"github.com/dhcgn/clientmail/stats"
)

var (
	ErrNilDirectory = errors.New("client directory is nil")
	ErrNilAssembler = errors.New("assembler is nil")
)

// Options configures an Engine.
type Options struct {
	Policy        Policy
	EagerPackages bool
	Filter        *filter.Filter
	Recorder      stats.Recorder
	// NewID generates ids for messages that arrive without one.
	NewID func() string
}

// Engine runs correlation passes. One Engine may run any number of
// independent passes, also concurrently.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and returns an Engine.
func New(opts Options, logger *slog.Logger) (*Engine, error) {
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	if opts.Recorder == nil {
		opts.Recorder = stats.Discard
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{opts: opts, logger: logger}, nil
}

// CorrelateAndBundle correlates with the default options: exact matching, lazy
// packages and no filter.
func CorrelateAndBundle(inbound, outbound []model.RawMessage, dir *directory.Snapshot) ([]*model.ClientPackage, error) {
	engine, err := New(Options{}, nil)
	if err != nil {
		return nil, err
	}
	return engine.Correlate(inbound, outbound, dir)
}

// Correlate runs one complete pass and returns the finalized packages.
func (e *Engine) Correlate(inbound, outbound []model.RawMessage, dir *directory.Snapshot) ([]*model.ClientPackage, error) {
	pass, err := e.Prepare(dir)
	if err != nil {
		return nil, err
	}
	asm := pass.NewAssembler()
	if err := pass.Collect(asm, inbound, outbound); err != nil {
		return nil, err
	}
	packages := asm.Finalize()
	e.logger.Info("correlation finished",
		"inbound", len(inbound),
		"outbound", len(outbound),
		"clients", dir.Len(),
		"packages", len(packages),
		"policy", string(e.opts.Policy))
	return packages, nil
}

// Pass is the read-only state shared by every shard of one run: the
// directory snapshot and the matcher built from it.
type Pass struct {
	engine  *Engine
	dir     *directory.Snapshot
	matcher *Matcher
}

// Prepare indexes dir. Addresses owned by several clients are recorded as
// ambiguous events.
func (e *Engine) Prepare(dir *directory.Snapshot) (*Pass, error) {
	if dir == nil {
		return nil, ErrNilDirectory
	}
	index := directory.BuildIndex(dir, e.logger)
	for _, conflict := range index.Conflicts() {
		e.opts.Recorder.Record(stats.Event{
			Stage:     stats.StageCorrelate,
			Type:      stats.EventTypeAmbiguous,
			ClientUID: conflict.OwnerUID,
			Address:   conflict.Address,
			Detail:    "address also listed for " + conflict.OtherUID,
		})
	}
	e.logger.Debug("address index built", "addresses", index.Len(), "conflicts", len(index.Conflicts()))
	return &Pass{
		engine:  e,
		dir:     dir,
		matcher: NewMatcher(dir, index, e.opts.Policy),
	}, nil
}

// NewAssembler returns an assembler over the pass's snapshot.
func (p *Pass) NewAssembler() *bundle.Assembler {
	return bundle.NewAssembler(p.dir, p.engine.opts.EagerPackages)
}

// Collect matches every message and inserts the matches into asm. Data
// defects are recorded and skipped; only a broken precondition returns an
// error.
func (p *Pass) Collect(asm *bundle.Assembler, inbound, outbound []model.RawMessage) error {
	if asm == nil {
		return ErrNilAssembler
	}
	for i := range inbound {
		if err := p.collectInbound(asm, &inbound[i]); err != nil {
			return err
		}
	}
	for i := range outbound {
		if err := p.collectOutbound(asm, &outbound[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pass) collectInbound(asm *bundle.Assembler, raw *model.RawMessage) error {
	e := p.engine
	e.record(stats.EventTypeScanned, raw.ID, "", "", "inbound")

	sender := raw.SenderAddress()
	if sender == "" {
		e.record(stats.EventTypeSkipped, raw.ID, "", "", "missing sender")
		e.logger.Debug("inbound message skipped", "id", raw.ID, "reason", "missing sender")
		return nil
	}

	match := p.matcher.Match(sender)
	if match.Kind == NoMatch {
		e.record(stats.EventTypeUnmatched, raw.ID, "", sender, "inbound")
		return nil
	}

	msg := e.buildMessage(raw, model.Inbound)
	if !e.opts.Filter.Allows(msg.Subject, msg.Text) {
		e.record(stats.EventTypeFiltered, msg.ID, match.UID, sender, "inbound")
		return nil
	}
	if err := asm.Insert(match.UID, model.Inbound, msg); err != nil {
		return fmt.Errorf("collect inbound %s: %w", msg.ID, err)
	}
	e.recordMatch(msg.ID, sender, match)
	return nil
}

func (p *Pass) collectOutbound(asm *bundle.Assembler, raw *model.RawMessage) error {
	e := p.engine
	e.record(stats.EventTypeScanned, raw.ID, "", "", "outbound")

	var (
		matches   []Match
		addresses []string
		owners    = make(map[string]struct{})
		anyRcpt   bool
	)
	for _, rcpt := range raw.To {
		address := strings.TrimSpace(rcpt.Address)
		if address == "" {
			continue
		}
		anyRcpt = true
		match := p.matcher.Match(address)
		if match.Kind == NoMatch {
			continue
		}
		if _, dup := owners[match.UID]; dup {
			continue
		}
		owners[match.UID] = struct{}{}
		matches = append(matches, match)
		addresses = append(addresses, address)
	}

	if !anyRcpt {
		e.record(stats.EventTypeSkipped, raw.ID, "", "", "missing recipients")
		e.logger.Debug("outbound message skipped", "id", raw.ID, "reason", "missing recipients")
		return nil
	}
	if len(matches) == 0 {
		e.record(stats.EventTypeUnmatched, raw.ID, "", "", "outbound")
		return nil
	}

	msg := e.buildMessage(raw, model.Outbound)
	if !e.opts.Filter.Allows(msg.Subject, msg.Text) {
		e.record(stats.EventTypeFiltered, msg.ID, matches[0].UID, addresses[0], "outbound")
		return nil
	}
	for i, match := range matches {
		if err := asm.Insert(match.UID, model.Outbound, msg); err != nil {
			return fmt.Errorf("collect outbound %s: %w", msg.ID, err)
		}
		e.recordMatch(msg.ID, addresses[i], match)
	}
	return nil
}

// buildMessage converts raw once it is known to be needed.
func (e *Engine) buildMessage(raw *model.RawMessage, direction model.Direction) *model.Message {
	msg := &model.Message{
		ID:        strings.TrimSpace(raw.ID),
		Direction: direction,
		Subject:   strings.TrimSpace(raw.Subject),
		BodyRaw:   raw.Body.Content,
	}
	if msg.ID == "" {
		msg.ID = e.opts.NewID()
	}
	if msg.Subject == "" {
		msg.Subject = model.NoSubject
	}
	if raw.From != nil {
		msg.SenderAddress = strings.TrimSpace(raw.From.Address)
		msg.SenderName = strings.TrimSpace(raw.From.Name)
	}
	msg.Recipients = make([]model.Address, 0, len(raw.To))
	for _, rcpt := range raw.To {
		address := strings.TrimSpace(rcpt.Address)
		if address == "" {
			continue
		}
		msg.Recipients = append(msg.Recipients, model.Address{Address: address, Name: strings.TrimSpace(rcpt.Name)})
	}
	msg.Text = normalize.Normalize(msg.BodyRaw)
	if t, ok := model.ParseTimestamp(raw.SentAt); ok {
		msg.SentAt = t
	}
	if t, ok := model.ParseTimestamp(raw.ReceivedAt); ok {
		msg.ReceivedAt = t
	}
	return msg
}

func (e *Engine) recordMatch(id, address string, match Match) {
	typ := stats.EventTypeMatched
	if match.Kind == RelatedMatch {
		typ = stats.EventTypeRelated
	}
	e.record(typ, id, match.UID, address, "")
	e.logger.Debug("message matched", "id", id, "address", address, "client", match.UID, "match", match.Kind.String())

	if len(match.Others) > 0 {
		e.record(stats.EventTypeAmbiguous, id, match.UID, address, "also related to "+strings.Join(match.Others, ","))
		e.logger.Debug("ambiguous related match", "id", id, "address", address, "client", match.UID, "others", match.Others)
	}
}

func (e *Engine) record(typ stats.EventType, id, uid, address, detail string) {
	e.opts.Recorder.Record(stats.Event{
		Stage:     stats.StageCorrelate,
		Type:      typ,
		MessageID: id,
		ClientUID: uid,
		Address:   address,
		Detail:    detail,
	})
}
