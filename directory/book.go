package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/dhcgn/clientmail/model"
)

var ErrClientNotFound = errors.New("client not found")

// Store persists the client book.
type Store interface {
	Load(ctx context.Context) ([]model.ClientRecord, error)
	Save(ctx context.Context, clients []model.ClientRecord) error
}

// Book is the editable client directory. It is not safe for concurrent use;
// correlation runs work on a Snapshot taken from it.
type Book struct {
	clients []model.ClientRecord
	store   Store
	now     func() time.Time
	newUID  func() string
}

// NewBook wraps records without a backing store.
func NewBook(records []model.ClientRecord) *Book {
	b := &Book{
		now:    time.Now,
		newUID: func() string { return uuid.NewString() },
	}
	for _, r := range records {
		b.clients = append(b.clients, r.Clone())
	}
	return b
}

// OpenBook loads the book from store.
func OpenBook(ctx context.Context, store Store) (*Book, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load client book: %w", err)
	}
	b := NewBook(records)
	b.store = store
	return b, nil
}

// Add assigns a fresh uid, stamps the record and keeps the book sorted by FileAs.
func (b *Book) Add(ctx context.Context, record model.ClientRecord) (model.ClientRecord, error) {
	record = record.Clone()
	record.UID = b.uniqueUID()
	if strings.TrimSpace(record.FileAs) == "" {
		record.FileAs = record.Name
	}
	now := b.now()
	record.CreatedAt = now
	record.UpdatedAt = now

	b.clients = append(b.clients, record)
	b.sort()
	if err := b.save(ctx); err != nil {
		return model.ClientRecord{}, err
	}
	return record.Clone(), nil
}

// Update replaces the record with the same uid.
func (b *Book) Update(ctx context.Context, record model.ClientRecord) error {
	for i := range b.clients {
		if b.clients[i].UID != record.UID {
			continue
		}
		record = record.Clone()
		record.CreatedAt = b.clients[i].CreatedAt
		record.UpdatedAt = b.now()
		b.clients[i] = record
		b.sort()
		return b.save(ctx)
	}
	return fmt.Errorf("update %s: %w", record.UID, ErrClientNotFound)
}

// Import merges records into the book in one save. Records whose uid is
// already present replace the existing entry; records without a uid get a
// fresh one. Timestamps are kept when set.
func (b *Book) Import(ctx context.Context, records []model.ClientRecord) (added, updated int, err error) {
	now := b.now()
	for _, record := range records {
		record = record.Clone()
		record.UID = strings.TrimSpace(record.UID)
		if strings.TrimSpace(record.FileAs) == "" {
			record.FileAs = record.Name
		}
		if record.UpdatedAt.IsZero() {
			record.UpdatedAt = now
		}

		if i := b.position(record.UID); i >= 0 {
			if record.CreatedAt.IsZero() {
				record.CreatedAt = b.clients[i].CreatedAt
			}
			b.clients[i] = record
			updated++
			continue
		}
		if record.UID == "" {
			record.UID = b.uniqueUID()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		b.clients = append(b.clients, record)
		added++
	}
	b.sort()
	if err := b.save(ctx); err != nil {
		return 0, 0, err
	}
	return added, updated, nil
}

// SetPrimaryAddress makes address the principal address of uid.
func (b *Book) SetPrimaryAddress(ctx context.Context, uid, address string) error {
	i := b.position(uid)
	if i < 0 {
		return fmt.Errorf("set primary address of %s: %w", uid, ErrClientNotFound)
	}
	b.clients[i].SetPrimaryAddress(address)
	b.clients[i].UpdatedAt = b.now()
	return b.save(ctx)
}

// Get returns the client with uid.
func (b *Book) Get(uid string) (model.ClientRecord, bool) {
	for _, c := range b.clients {
		if c.UID == uid {
			return c.Clone(), true
		}
	}
	return model.ClientRecord{}, false
}

// Clients returns a copy of all records in book order.
func (b *Book) Clients() []model.ClientRecord {
	out := make([]model.ClientRecord, len(b.clients))
	for i, c := range b.clients {
		out[i] = c.Clone()
	}
	return out
}

// Snapshot freezes the current state for a correlation run.
func (b *Book) Snapshot() (*Snapshot, error) {
	return NewSnapshot(b.clients)
}

func (b *Book) position(uid string) int {
	if uid == "" {
		return -1
	}
	for i := range b.clients {
		if b.clients[i].UID == uid {
			return i
		}
	}
	return -1
}

func (b *Book) uniqueUID() string {
	for {
		uid := b.newUID()
		if _, taken := b.Get(uid); !taken {
			return uid
		}
	}
}

func (b *Book) sort() {
	c := collate.New(language.English, collate.IgnoreCase)
	sort.SliceStable(b.clients, func(i, j int) bool {
		return c.CompareString(b.clients[i].FileAs, b.clients[j].FileAs) < 0
	})
}

func (b *Book) save(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.Save(ctx, b.clients); err != nil {
		return fmt.Errorf("save client book: %w", err)
	}
	return nil
}
