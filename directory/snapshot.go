// Package directory holds the client directory: the read-only snapshot used by
// one correlation run, the address index built from it and the editable book
// it is taken from.
package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dhcgn/clientmail/model"
)

var (
	ErrMissingUID   = errors.New("client record missing uid")
	ErrDuplicateUID = errors.New("duplicate client uid")
)

// Snapshot is an immutable copy of the client directory.
type Snapshot struct {
	clients []model.ClientRecord
	byUID   map[string]int
}

// NewSnapshot validates records and copies them. Records keep their order.
func NewSnapshot(records []model.ClientRecord) (*Snapshot, error) {
	s := &Snapshot{
		clients: make([]model.ClientRecord, 0, len(records)),
		byUID:   make(map[string]int, len(records)),
	}
	for i, record := range records {
		uid := strings.TrimSpace(record.UID)
		if uid == "" {
			return nil, fmt.Errorf("client %d (%q): %w", i, record.FileAs, ErrMissingUID)
		}
		if _, exists := s.byUID[uid]; exists {
			return nil, fmt.Errorf("client %d: %w: %s", i, ErrDuplicateUID, uid)
		}
		clone := record.Clone()
		clone.UID = uid
		s.byUID[uid] = len(s.clients)
		s.clients = append(s.clients, clone)
	}
	return s, nil
}

// Len returns the number of clients.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.clients)
}

// At returns the i-th client in directory order.
func (s *Snapshot) At(i int) model.ClientRecord {
	return s.clients[i]
}

// Lookup returns the client with uid.
func (s *Snapshot) Lookup(uid string) (model.ClientRecord, bool) {
	i, ok := s.byUID[uid]
	if !ok {
		return model.ClientRecord{}, false
	}
	return s.clients[i], true
}

// Index returns the directory position of uid, or -1.
func (s *Snapshot) Index(uid string) int {
	if s == nil {
		return -1
	}
	i, ok := s.byUID[uid]
	if !ok {
		return -1
	}
	return i
}

// Clients returns a deep copy of all records.
func (s *Snapshot) Clients() []model.ClientRecord {
	out := make([]model.ClientRecord, len(s.clients))
	for i, c := range s.clients {
		out[i] = c.Clone()
	}
	return out
}

// NormalizeAddress lowercases and trims an address for comparison.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
