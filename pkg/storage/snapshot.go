package storage

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// SnapshotBackend rewrites the whole shard segment as a JSON array on every
// mutation. Slower than the sqlite backend under write load, but the segment
// stays a single human-readable file.
type SnapshotBackend struct {
	path string
	mu   sync.Mutex

	docs  map[string][]byte
	order []string
}

type snapshotEntry struct {
	Key string          `json:"key"`
	Doc json.RawMessage `json:"doc"`
}

func NewSnapshotBackend(path string) (*SnapshotBackend, error) {
	b := &SnapshotBackend{
		path: path,
		docs: make(map[string][]byte),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt segment yields an empty shard, not a crash.
		log.Printf("[Storage] segment %s unreadable, starting empty: %v", path, err)
		return b, nil
	}
	for _, e := range entries {
		if _, seen := b.docs[e.Key]; !seen {
			b.order = append(b.order, e.Key)
		}
		b.docs[e.Key] = e.Doc
	}
	return b, nil
}

func (b *SnapshotBackend) Put(key string, doc []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putLocked(key, doc)
	return b.flushLocked()
}

func (b *SnapshotBackend) PutBatch(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.putLocked(e.Key, e.Doc)
	}
	return b.flushLocked()
}

func (b *SnapshotBackend) putLocked(key string, doc []byte) {
	if _, seen := b.docs[key]; seen {
		b.removeFromOrderLocked(key)
	}
	b.order = append(b.order, key)
	b.docs[key] = append([]byte(nil), doc...)
}

func (b *SnapshotBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, seen := b.docs[key]; !seen {
		return nil
	}
	delete(b.docs, key)
	b.removeFromOrderLocked(key)
	return b.flushLocked()
}

func (b *SnapshotBackend) removeFromOrderLocked(key string) {
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

func (b *SnapshotBackend) LoadAll() ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]Entry, 0, len(b.order))
	for _, key := range b.order {
		entries = append(entries, Entry{Key: key, Doc: append([]byte(nil), b.docs[key]...)})
	}
	return entries, nil
}

func (b *SnapshotBackend) Truncate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = make(map[string][]byte)
	b.order = nil
	return b.flushLocked()
}

func (b *SnapshotBackend) Close() error {
	return nil
}

// flushLocked writes the segment to a temp file and renames it into place,
// so a crash mid-write leaves the previous segment intact.
func (b *SnapshotBackend) flushLocked() error {
	entries := make([]snapshotEntry, 0, len(b.order))
	for _, key := range b.order {
		entries = append(entries, snapshotEntry{Key: key, Doc: b.docs[key]})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
