// Package bundle owns the per-client package collection of one correlation run.
package bundle

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dhcgn/clientmail/directory"
	"github.com/dhcgn/clientmail/model"
)

// ErrUnknownClient is returned when a message is inserted for a uid that is not
// part of the directory snapshot.
var ErrUnknownClient = errors.New("unknown client")

// ErrSnapshotMismatch is returned when merging assemblers built over different
// directory snapshots.
var ErrSnapshotMismatch = errors.New("assemblers use different directory snapshots")

// Assembler collects correlated messages per client. It is not safe for
// concurrent use; the runner gives every shard its own Assembler and merges
// them afterwards.
type Assembler struct {
	dir      *directory.Snapshot
	packages []*model.ClientPackage // indexed like dir
	seen     []map[seenKey]struct{}
}

type seenKey struct {
	direction model.Direction
	id        string
}

// NewAssembler prepares an assembler for dir. With eager set every client gets
// an empty package up front; otherwise packages appear on first insert.
func NewAssembler(dir *directory.Snapshot, eager bool) *Assembler {
	n := dir.Len()
	a := &Assembler{
		dir:      dir,
		packages: make([]*model.ClientPackage, n),
		seen:     make([]map[seenKey]struct{}, n),
	}
	if eager {
		for i := 0; i < n; i++ {
			a.ensure(i)
		}
	}
	return a
}

// Insert appends msg to the package of uid under direction. A message id that
// was already inserted for the same client and direction is ignored.
func (a *Assembler) Insert(uid string, direction model.Direction, msg *model.Message) error {
	if msg == nil {
		return fmt.Errorf("insert into %s: nil message", uid)
	}
	i := a.dir.Index(uid)
	if i < 0 {
		return fmt.Errorf("insert into %s: %w", uid, ErrUnknownClient)
	}
	pkg := a.ensure(i)

	if msg.ID != "" {
		key := seenKey{direction: direction, id: msg.ID}
		if _, dup := a.seen[i][key]; dup {
			return nil
		}
		a.seen[i][key] = struct{}{}
	}

	switch direction {
	case model.Inbound:
		pkg.Inbound = append(pkg.Inbound, msg)
	case model.Outbound:
		pkg.Outbound = append(pkg.Outbound, msg)
	default:
		return fmt.Errorf("insert into %s: unknown direction %q", uid, direction)
	}
	return nil
}

// Merge appends everything other collected, in other's order. Both assemblers
// must be built over the same snapshot.
func (a *Assembler) Merge(other *Assembler) error {
	if other == nil {
		return nil
	}
	if other.dir != a.dir {
		return fmt.Errorf("merge: %w", ErrSnapshotMismatch)
	}
	for i, pkg := range other.packages {
		if pkg == nil {
			continue
		}
		uid := pkg.ClientUID
		a.ensure(i)
		for _, msg := range pkg.Inbound {
			if err := a.Insert(uid, model.Inbound, msg); err != nil {
				return fmt.Errorf("merge: %w", err)
			}
		}
		for _, msg := range pkg.Outbound {
			if err := a.Insert(uid, model.Outbound, msg); err != nil {
				return fmt.Errorf("merge: %w", err)
			}
		}
	}
	return nil
}

// Finalize sorts both directions of every package newest first (stable, so
// ties keep insertion order) and returns the non-empty packages in directory
// order.
func (a *Assembler) Finalize() []*model.ClientPackage {
	out := make([]*model.ClientPackage, 0, len(a.packages))
	for _, pkg := range a.packages {
		if pkg == nil || pkg.Empty() {
			continue
		}
		sortNewestFirst(pkg.Inbound)
		sortNewestFirst(pkg.Outbound)
		out = append(out, pkg)
	}
	return out
}

func (a *Assembler) ensure(i int) *model.ClientPackage {
	if a.packages[i] == nil {
		a.packages[i] = model.NewClientPackage(a.dir.At(i))
		a.seen[i] = make(map[seenKey]struct{})
	}
	return a.packages[i]
}

func sortNewestFirst(msgs []*model.Message) {
	slices.SortStableFunc(msgs, func(x, y *model.Message) int {
		return y.Timestamp().Compare(x.Timestamp())
	})
}
