package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"main/pkg/kv"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
)

// ErrFileNotFound is returned for an unknown file record id.
var ErrFileNotFound = errors.New("store: file not found")

const nsFiles = "files"

// FileRecord describes one uploaded file.
type FileRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path,omitempty"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Files is the uploaded-files state container.
type Files struct {
	store kv.Store

	mu    sync.Mutex
	items map[string]*FileRecord
}

// NewFiles loads persisted file records.
func NewFiles(ctx context.Context, store kv.Store) (*Files, error) {
	f := &Files{store: store, items: make(map[string]*FileRecord)}
	keys, err := store.Keys(ctx, nsFiles)
	if err != nil {
		return nil, errors.Wrap(err, "list files")
	}
	for _, key := range keys {
		var record FileRecord
		if err := kv.GetJSON(ctx, store, nsFiles, key, &record); err != nil {
			return nil, errors.Wrapf(err, "load file %s", key)
		}
		f.items[record.ID] = &record
	}
	return f, nil
}

// Add records an uploaded file.
func (f *Files) Add(ctx context.Context, name, path string, size int64) (FileRecord, error) {
	record := &FileRecord{
		ID:         uuid.NewString(),
		Name:       name,
		Path:       path,
		Size:       size,
		UploadedAt: time.Now(),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[record.ID] = record
	if err := kv.SetJSON(ctx, f.store, nsFiles, record.ID, record); err != nil {
		delete(f.items, record.ID)
		return FileRecord{}, errors.Wrap(err, "persist file record")
	}
	return *record, nil
}

// Remove deletes a file record.
func (f *Files) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return ErrFileNotFound
	}
	delete(f.items, id)
	if err := f.store.Remove(ctx, nsFiles, id); err != nil {
		return errors.Wrapf(err, "remove file %s", id)
	}
	return nil
}

// Clear drops all file records.
func (f *Files) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.store.Clear(ctx, nsFiles); err != nil {
		return errors.Wrap(err, "clear files")
	}
	f.items = make(map[string]*FileRecord)
	return nil
}

// List returns file records, newest first.
func (f *Files) List() []FileRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]FileRecord, 0, len(f.items))
	for _, record := range f.items {
		list = append(list, *record)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})
	return list
}
