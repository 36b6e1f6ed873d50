// Package core assembles the shards into one database: it routes keys,
// fans multi-shard operations out, and owns the data directory manifest.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/PailletJuanPablo/hyperiondb/pkg/config"
	"github.com/PailletJuanPablo/hyperiondb/pkg/document"
	"github.com/PailletJuanPablo/hyperiondb/pkg/query"
	"github.com/PailletJuanPablo/hyperiondb/pkg/shard"
	"github.com/PailletJuanPablo/hyperiondb/pkg/storage"
)

// ErrKeyNotFound reports an update against a key that holds no document.
var ErrKeyNotFound = errors.New("key not found")

const manifestFile = "manifest.json"

type manifest struct {
	NumShards int `json:"num_shards"`
}

type DB struct {
	cfg    *config.Config
	shards []*shard.Store
}

// Open brings up every shard over its segment in cfg's data directory.
// The shard count is pinned by a manifest written on first start: reopening
// the directory with a different num_shards is a configuration error, since
// keys would route to the wrong shards.
func Open(cfg *config.Config) (*DB, error) {
	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("core: create data dir: %w", err)
	}
	if err := checkManifest(dataDir, cfg.System.NumShards); err != nil {
		return nil, err
	}

	db := &DB{
		cfg:    cfg,
		shards: make([]*shard.Store, cfg.System.NumShards),
	}
	for i := range db.shards {
		backend, err := storage.Open(cfg.Storage.Backend, dataDir, i)
		if err != nil {
			// One bad segment degrades its shard, not the process.
			log.Printf("[Core] shard %d backend unavailable, running without persistence: %v", i, err)
			backend = storage.NullBackend{}
		}
		db.shards[i] = shard.Open(i, cfg.System.IndexedFields, backend)
	}
	log.Printf("[Core] opened %d shards in %s (backend=%s)", len(db.shards), dataDir, cfg.Storage.Backend)
	return db, nil
}

func checkManifest(dataDir string, numShards int) error {
	path := filepath.Join(dataDir, manifestFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m, err := json.Marshal(manifest{NumShards: numShards})
		if err != nil {
			return err
		}
		return os.WriteFile(path, m, 0644)
	}
	if err != nil {
		return fmt.Errorf("core: read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("core: manifest %s is corrupt: %w", path, err)
	}
	if m.NumShards != numShards {
		return fmt.Errorf("core: data dir %s was created with num_shards=%d, configured %d", dataDir, m.NumShards, numShards)
	}
	return nil
}

// ShardFor maps a key to its shard. The hash is pure and stable, so the
// same key lands on the same shard on every start.
func (db *DB) ShardFor(key string) int {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int(h.Sum64() % uint64(len(db.shards)))
}

func (db *DB) shardOf(key string) *shard.Store {
	return db.shards[db.ShardFor(key)]
}

// Insert stores doc at key, replacing any prior document.
func (db *DB) Insert(key string, doc document.Document) error {
	return db.shardOf(key).Write(key, doc, shard.ModeInsert)
}

// Get returns the document at key.
func (db *DB) Get(key string) (document.Document, bool) {
	return db.shardOf(key).Read(key)
}

// Update merges patch onto the existing document at key, returning
// ErrKeyNotFound when there is nothing to patch.
func (db *DB) Update(key string, patch document.Document) error {
	ok, err := db.shardOf(key).Update(key, patch)
	if err != nil {
		return err
	}
	if !ok {
		return ErrKeyNotFound
	}
	return nil
}

// InsertOrUpdate merges doc onto whatever is at key, inserting when absent.
func (db *DB) InsertOrUpdate(key string, doc document.Document) error {
	return db.shardOf(key).Write(key, doc, shard.ModeMerge)
}

// Delete removes the document at key; the bool reports whether one existed.
func (db *DB) Delete(key string) (bool, error) {
	return db.shardOf(key).Remove(key)
}

// DeleteWhere parses condition and removes every matching document across
// all shards, returning the total count removed.
func (db *DB) DeleteWhere(condition string) (int, error) {
	expr, err := query.Parse(condition)
	if err != nil {
		return 0, err
	}

	counts := make([]int, len(db.shards))
	errs := make([]error, len(db.shards))
	var wg sync.WaitGroup
	for i, s := range db.shards {
		wg.Add(1)
		go func(i int, s *shard.Store) {
			defer wg.Done()
			counts[i], errs[i] = s.DeleteWhere(expr)
		}(i, s)
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, errors.Join(errs...)
}

// BatchResult reports the outcome of DeleteMany key by key.
type BatchResult struct {
	Deleted []string `json:"deleted"`
	Missing []string `json:"missing"`
}

// DeleteMany removes each key independently: absent keys are reported, not
// errors, and one miss never aborts the rest.
func (db *DB) DeleteMany(keys []string) (BatchResult, error) {
	res := BatchResult{
		Deleted: make([]string, 0, len(keys)),
		Missing: make([]string, 0),
	}
	var errs []error
	for _, key := range keys {
		ok, err := db.Delete(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %q: %w", key, err))
			continue
		}
		if ok {
			res.Deleted = append(res.Deleted, key)
		} else {
			res.Missing = append(res.Missing, key)
		}
	}
	return res, errors.Join(errs...)
}

// ShardFailure names one shard whose batch group did not commit, with the
// keys that were in it.
type ShardFailure struct {
	Shard int      `json:"shard"`
	Keys  []string `json:"keys"`
	Error string   `json:"error"`
}

// UpsertResult reports a batch merge-write: the keys applied, and for each
// failed shard its keys and fault. Shards commit independently, so some
// groups may be applied while others fail.
type UpsertResult struct {
	Applied []string       `json:"applied"`
	Failed  []ShardFailure `json:"failed,omitempty"`
}

// InsertOrUpdateMany merge-writes every pair. Pairs are grouped by shard
// and each shard commits its group in one transaction; there is no
// cross-shard atomicity. The returned error, when non-nil, names every
// failed shard and its keys.
func (db *DB) InsertOrUpdateMany(pairs []shard.KV) (UpsertResult, error) {
	groups := make([][]shard.KV, len(db.shards))
	for _, kv := range pairs {
		idx := db.ShardFor(kv.Key)
		groups[idx] = append(groups[idx], kv)
	}

	errs := make([]error, len(db.shards))
	var wg sync.WaitGroup
	for idx, group := range groups {
		if len(group) == 0 {
			continue
		}
		wg.Add(1)
		go func(idx int, group []shard.KV) {
			defer wg.Done()
			errs[idx] = db.shards[idx].ApplyBatch(group)
		}(idx, group)
	}
	wg.Wait()

	var res UpsertResult
	var joined []error
	for idx, group := range groups {
		if len(group) == 0 {
			continue
		}
		keys := make([]string, len(group))
		for i, kv := range group {
			keys[i] = kv.Key
		}
		if err := errs[idx]; err != nil {
			res.Failed = append(res.Failed, ShardFailure{Shard: idx, Keys: keys, Error: err.Error()})
			joined = append(joined, fmt.Errorf("shard %d (keys %v): %w", idx, keys, err))
			continue
		}
		res.Applied = append(res.Applied, keys...)
	}
	return res, errors.Join(joined...)
}

// Query evaluates condition on every shard concurrently. Results keep shard
// order, and arrival order within each shard, so repeated queries against
// unchanged data return documents in a stable order.
func (db *DB) Query(condition string) ([]document.Document, error) {
	expr, err := query.Parse(condition)
	if err != nil {
		return nil, err
	}

	perShard := make([][]document.Document, len(db.shards))
	var wg sync.WaitGroup
	for i, s := range db.shards {
		wg.Add(1)
		go func(i int, s *shard.Store) {
			defer wg.Done()
			perShard[i] = s.Query(expr)
		}(i, s)
	}
	wg.Wait()

	var out []document.Document
	for _, docs := range perShard {
		out = append(out, docs...)
	}
	return out, nil
}

// List returns every document, shard by shard in arrival order.
func (db *DB) List() []document.Document {
	var out []document.Document
	for _, s := range db.shards {
		out = append(out, s.All()...)
	}
	return out
}

// Len reports the total number of documents.
func (db *DB) Len() int {
	total := 0
	for _, s := range db.shards {
		total += s.Len()
	}
	return total
}

// Stats describes the database's current shape.
type Stats struct {
	NumShards int   `json:"num_shards"`
	TotalDocs int   `json:"total_docs"`
	PerShard  []int `json:"per_shard"`
}

func (db *DB) Stats() Stats {
	st := Stats{
		NumShards: len(db.shards),
		PerShard:  make([]int, len(db.shards)),
	}
	for i, s := range db.shards {
		st.PerShard[i] = s.Len()
		st.TotalDocs += st.PerShard[i]
	}
	return st
}

// Close releases every shard's segment.
func (db *DB) Close() error {
	var errs []error
	for _, s := range db.shards {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
