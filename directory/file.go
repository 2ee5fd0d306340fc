package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dhcgn/clientmail/model"
)

// FileStore keeps the client book in a YAML file.
type FileStore struct {
	path string
}

type fileDocument struct {
	Clients []model.ClientRecord `yaml:"clients"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the book. A missing file is an empty book.
func (f *FileStore) Load(_ context.Context) ([]model.ClientRecord, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read client file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse client file %s: %w", f.path, err)
	}
	return doc.Clients, nil
}

// Save writes the book through a temp file and rename.
func (f *FileStore) Save(_ context.Context, clients []model.ClientRecord) error {
	data, err := yaml.Marshal(fileDocument{Clients: clients})
	if err != nil {
		return fmt.Errorf("encode client file: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create client file directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".clients-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp client file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write client file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close client file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace client file: %w", err)
	}
	return nil
}
