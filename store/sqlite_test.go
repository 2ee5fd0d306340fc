package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dhcgn/clientmail/directory"
	"github.com/dhcgn/clientmail/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "clients.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)
	clients := []model.ClientRecord{
		{UID: "b", Name: "Beta LLC", FileAs: "Beta", EmailAddresses: []string{"ceo@beta.com", "ops@beta.com"}, CreatedAt: created},
		{UID: "a", Name: "Alpha", FileAs: "Alpha", Status: "active"},
	}
	if err := s.Save(ctx, clients); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(loaded))
	}
	if loaded[0].UID != "b" || loaded[1].UID != "a" {
		t.Errorf("order not preserved: %s, %s", loaded[0].UID, loaded[1].UID)
	}
	if !reflect.DeepEqual(loaded[0].EmailAddresses, []string{"ceo@beta.com", "ops@beta.com"}) {
		t.Errorf("emails = %v", loaded[0].EmailAddresses)
	}
	if !loaded[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", loaded[0].CreatedAt, created)
	}
	if loaded[1].EmailAddresses != nil {
		t.Errorf("client without emails loaded %v", loaded[1].EmailAddresses)
	}

	// Saving again replaces the previous book.
	if err := s.Save(ctx, clients[1:]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].UID != "a" {
		t.Errorf("after replace got %+v", loaded)
	}
}

func TestBookOverSQLite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	book, err := directory.OpenBook(ctx, s)
	if err != nil {
		t.Fatalf("OpenBook: %v", err)
	}
	added, err := book.Add(ctx, model.ClientRecord{Name: "Gamma", EmailAddresses: []string{"g@gamma.io"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := directory.OpenBook(ctx, s)
	if err != nil {
		t.Fatalf("OpenBook: %v", err)
	}
	got, ok := reopened.Get(added.UID)
	if !ok || got.PrincipalAddress() != "g@gamma.io" {
		t.Errorf("Get(%s) = %+v, %v", added.UID, got, ok)
	}
}

func TestOpen_PicksStoreByExtension(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		want string
	}{
		{"sqlite", "clients.db", "*store.SQLiteStore"},
		{"sqlite3 upper", "clients.SQLITE3", "*store.SQLiteStore"},
		{"yaml", "clients.yaml", "*directory.FileStore"},
		{"no extension", "clients", "*directory.FileStore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, closeFn, err := Open(filepath.Join(dir, tt.file))
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer closeFn()
			if got := reflect.TypeOf(s).String(); got != tt.want {
				t.Errorf("Open() type = %s, want %s", got, tt.want)
			}
		})
	}
}
