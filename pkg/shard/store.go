// Package shard implements the per-shard document store: the authoritative
// documents for one partition of the keyspace, the secondary indexes scoped
// to it, and its durable segment. A shard is the unit of mutual exclusion:
// writes are serialised by the store's lock, point reads are lock-free.
package shard

import (
	"log"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/PailletJuanPablo/hyperiondb/pkg/config"
	"github.com/PailletJuanPablo/hyperiondb/pkg/document"
	"github.com/PailletJuanPablo/hyperiondb/pkg/index"
	"github.com/PailletJuanPablo/hyperiondb/pkg/query"
	"github.com/PailletJuanPablo/hyperiondb/pkg/storage"
)

// WriteMode selects replace or shallow-merge semantics for Write.
type WriteMode int

const (
	ModeInsert WriteMode = iota // replace any prior value
	ModeMerge                   // shallow field-level overlay onto the prior value
)

// KV pairs a primary key with its document, used by batch writes.
type KV struct {
	Key string
	Doc document.Document
}

type Store struct {
	id      int
	mu      sync.RWMutex
	docs    *xsync.MapOf[string, document.Document]
	seq     map[string]uint64
	nextSeq uint64
	indexes map[string]*index.FieldIndex
	backend storage.Backend
}

// Open builds a shard store over its persisted segment, rebuilding every
// configured index from the loaded documents.
func Open(id int, fields []config.IndexedField, backend storage.Backend) *Store {
	s := &Store{
		id:      id,
		docs:    xsync.NewMapOf[string, document.Document](),
		seq:     make(map[string]uint64),
		indexes: make(map[string]*index.FieldIndex, len(fields)),
		backend: backend,
	}
	for _, f := range fields {
		s.indexes[f.Field] = index.New(f.Field, f.Kind())
	}

	entries, err := backend.LoadAll()
	if err != nil {
		// Degraded: the shard serves empty rather than failing startup.
		log.Printf("[Shard %d] segment unreadable, starting empty: %v", id, err)
		s.backend = storage.NullBackend{}
		return s
	}
	for _, e := range entries {
		doc, err := document.FromJSON(e.Doc)
		if err != nil {
			log.Printf("[Shard %d] skipping undecodable document %q: %v", id, e.Key, err)
			continue
		}
		s.storeLocked(e.Key, doc)
	}
	if n := len(s.seq); n > 0 {
		log.Printf("[Shard %d] loaded %d documents", id, n)
	}
	return s
}

func (s *Store) ID() int { return s.id }

// Len reports the number of documents currently held.
func (s *Store) Len() int { return s.docs.Size() }

// Read returns a copy of the document at key. It takes no lock: the
// document map supports concurrent reads, and a stored document is never
// mutated in place.
func (s *Store) Read(key string) (document.Document, bool) {
	doc, ok := s.docs.Load(key)
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Write stores doc at key. ModeInsert replaces any prior document; ModeMerge
// overlays doc onto the prior one field by field, the whole read-modify-write
// under the shard lock. The segment write happens before memory and indexes
// change, so an acknowledged write is durable.
func (s *Store) Write(key string, doc document.Document, mode WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(key, doc, mode)
}

func (s *Store) writeLocked(key string, doc document.Document, mode WriteMode) error {
	final := doc
	old, hadOld := s.docs.Load(key)
	if mode == ModeMerge && hadOld {
		final = old.Merge(doc)
	}

	raw, err := final.ToJSON()
	if err != nil {
		return err
	}
	if err := s.backend.Put(key, raw); err != nil {
		return err
	}

	if hadOld {
		s.updateIndexes(old, key, (*index.FieldIndex).Remove)
	}
	s.updateIndexes(final, key, (*index.FieldIndex).Add)
	s.storeLocked(key, final)
	return nil
}

// Update merges patch onto the existing document at key. The existence
// check and the merge happen under one lock hold; ok is false when no
// document is there to update.
func (s *Store) Update(key string, patch document.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs.Load(key); !ok {
		return false, nil
	}
	return true, s.writeLocked(key, patch, ModeMerge)
}

// ApplyBatch merge-writes every pair under one lock hold and one segment
// transaction: the batch commits atomically within this shard, with no
// guarantee relative to other shards.
func (s *Store) ApplyBatch(pairs []KV) error {
	if len(pairs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	finals := make([]document.Document, len(pairs))
	entries := make([]storage.Entry, len(pairs))
	staged := make(map[string]document.Document, len(pairs))
	for i, kv := range pairs {
		final := kv.Doc
		if prev, ok := staged[kv.Key]; ok {
			final = prev.Merge(kv.Doc)
		} else if old, ok := s.docs.Load(kv.Key); ok {
			final = old.Merge(kv.Doc)
		}
		raw, err := final.ToJSON()
		if err != nil {
			return err
		}
		finals[i] = final
		staged[kv.Key] = final
		entries[i] = storage.Entry{Key: kv.Key, Doc: raw}
	}

	if err := s.backend.PutBatch(entries); err != nil {
		return err
	}

	for i, kv := range pairs {
		if old, ok := s.docs.Load(kv.Key); ok {
			s.updateIndexes(old, kv.Key, (*index.FieldIndex).Remove)
		}
		s.updateIndexes(finals[i], kv.Key, (*index.FieldIndex).Add)
		s.storeLocked(kv.Key, finals[i])
	}
	return nil
}

// Remove deletes the document at key, retracting its index entries. The
// bool reports whether a document existed.
func (s *Store) Remove(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

func (s *Store) removeLocked(key string) (bool, error) {
	old, ok := s.docs.Load(key)
	if !ok {
		return false, nil
	}
	if err := s.backend.Delete(key); err != nil {
		return false, err
	}
	s.updateIndexes(old, key, (*index.FieldIndex).Remove)
	s.docs.Delete(key)
	delete(s.seq, key)
	return true, nil
}

// Scan visits every document in arrival order (the order of each key's last
// write) until fn returns false.
func (s *Store) Scan(fn func(key string, doc document.Document) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.scanLocked(fn)
}

// Query evaluates a parsed condition against this shard under its read
// lock, so no write can interleave between index lookup and
// materialisation. Results come back in arrival order.
func (s *Store) Query(expr query.Expr) []document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := query.Eval(expr, source{s})
	return s.materializeLocked(keys)
}

// All returns every document in arrival order.
func (s *Store) All() []document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []document.Document
	s.scanLocked(func(_ string, doc document.Document) bool {
		out = append(out, doc.Clone())
		return true
	})
	return out
}

// DeleteWhere removes every document matching the condition and reports how
// many went. Evaluation and removal happen under one write lock hold so the
// matched set cannot shift mid-delete.
func (s *Store) DeleteWhere(expr query.Expr) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keySet := query.Eval(expr, source{s})
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	deleted := 0
	for _, key := range keys {
		ok, err := s.removeLocked(key)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// Index exposes one field's index for stats; nil when not configured.
func (s *Store) Index(field string) *index.FieldIndex {
	return s.indexes[field]
}

// storeLocked records the document and stamps its arrival sequence. A
// replaced key receives a fresh sequence, matching how the sqlite segment
// orders rewritten rows on reload.
func (s *Store) storeLocked(key string, doc document.Document) {
	s.docs.Store(key, doc)
	s.seq[key] = s.nextSeq
	s.nextSeq++
}

func (s *Store) updateIndexes(doc document.Document, key string, op func(*index.FieldIndex, any, string)) {
	for field, ix := range s.indexes {
		if v, ok := doc.GetPath(field); ok {
			op(ix, v, key)
		}
	}
}

func (s *Store) scanLocked(fn func(key string, doc document.Document) bool) {
	type ordered struct {
		key string
		seq uint64
	}
	keys := make([]ordered, 0, len(s.seq))
	for k, n := range s.seq {
		keys = append(keys, ordered{k, n})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].seq < keys[j].seq })
	for _, o := range keys {
		doc, ok := s.docs.Load(o.key)
		if !ok {
			continue
		}
		if !fn(o.key, doc) {
			return
		}
	}
}

func (s *Store) materializeLocked(keySet map[string]struct{}) []document.Document {
	if len(keySet) == 0 {
		return nil
	}
	out := make([]document.Document, 0, len(keySet))
	s.scanLocked(func(key string, doc document.Document) bool {
		if _, ok := keySet[key]; ok {
			out = append(out, doc.Clone())
		}
		return true
	})
	return out
}

// source adapts the store's unlocked internals to query.Source; the caller
// holds the appropriate lock.
type source struct {
	s *Store
}

func (src source) LookupIndex(field, operator, literal string) (map[string]struct{}, bool) {
	ix, ok := src.s.indexes[field]
	if !ok {
		return nil, false
	}
	return ix.Lookup(operator, literal), true
}

func (src source) Scan(fn func(key string, doc document.Document) bool) {
	src.s.scanLocked(fn)
}
