package cartstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/norun9/storefront-cart/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FileCartStore persists every slot into a single JSON document on local disk,
// the headless counterpart of browser local storage.
type FileCartStore struct {
	mu   sync.Mutex
	path string
	log  logrus.FieldLogger
}

// NewFileCartStore returns a store writing to path.
func NewFileCartStore(path string, log logrus.FieldLogger) *FileCartStore {
	return &FileCartStore{path: path, log: log}
}

// Initialize creates the parent directory of the store file.
func (f *FileCartStore) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrap(err, "create storage directory")
	}
	f.log.WithField("path", f.path).Info("FileCartStore initialized")
	return nil
}

// GetCart returns the cart stored under key.
func (f *FileCartStore) GetCart(ctx context.Context, key string) ([]model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slots, err := f.readSlots()
	if err != nil {
		return nil, err
	}
	return Unmarshal(slots[key])
}

// SaveCart overwrites the cart stored under key.
func (f *FileCartStore) SaveCart(ctx context.Context, key string, lines []model.Product) error {
	data, err := Marshal(lines)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	slots, err := f.slotsForWrite()
	if err != nil {
		return err
	}
	slots[key] = data
	return f.writeSlots(slots)
}

// EmptyCart removes key from the document.
func (f *FileCartStore) EmptyCart(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	slots, err := f.slotsForWrite()
	if err != nil {
		return err
	}
	delete(slots, key)
	return f.writeSlots(slots)
}

// Ping reports whether the store directory is reachable.
func (f *FileCartStore) Ping(ctx context.Context) bool {
	_, err := os.Stat(filepath.Dir(f.path))
	return err == nil
}

func (f *FileCartStore) readSlots() (map[string]json.RawMessage, error) {
	slots := map[string]json.RawMessage{}
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return slots, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read storage file")
	}
	if len(data) == 0 {
		return slots, nil
	}
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%v", err)
	}
	return slots, nil
}

// slotsForWrite reads the document for a rewrite. An unreadable document is
// moved aside to path+".corrupt" so writes can start over from an empty one.
func (f *FileCartStore) slotsForWrite() (map[string]json.RawMessage, error) {
	slots, err := f.readSlots()
	if !errors.Is(err, ErrCorrupt) {
		return slots, err
	}
	aside := f.path + ".corrupt"
	if rerr := os.Rename(f.path, aside); rerr != nil {
		return nil, errors.Wrap(rerr, "move corrupt storage file aside")
	}
	f.log.WithError(err).WithField("moved_to", aside).Warn("FileCartStore: discarded unreadable storage file")
	return map[string]json.RawMessage{}, nil
}

// writeSlots replaces the document atomically via rename.
func (f *FileCartStore) writeSlots(slots map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(slots, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal storage file")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "replace storage file")
	}
	return nil
}
