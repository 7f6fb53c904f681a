// Package store is the in-memory backend used in local mode and in tests.
// It implements remote.DocStore with realtime listeners, atomic field
// operations and serializable transactions, and persists to a JSON file.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

type doc struct {
	Data    map[string]any `json:"data"`
	Updated time.Time      `json:"updated"`
}

type Store struct {
	mu        sync.RWMutex
	docs      map[string]map[string]doc // collection -> id -> doc
	version   uint64
	listeners map[uint64]*listener
	nextL     uint64
	file      string
	faults    faults
}

func NewStore() *Store {
	return &Store{
		docs:      map[string]map[string]doc{},
		listeners: map[uint64]*listener{},
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

// newID mimics the 20 character auto ids of the hosted store.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func readJSONFile[T any](path string, out *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Load reads path into the store and keeps saving every commit to it. A
// missing file is not an error.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = path
	var on map[string]map[string]doc
	if err := readJSONFile(path, &on); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "load %s", path)
	}
	for coll, ds := range on {
		if s.docs[coll] == nil {
			s.docs[coll] = map[string]doc{}
		}
		for id, d := range ds {
			s.docs[coll][id] = d
		}
	}
	jww.INFO.Printf("loaded %d collections from %s", len(on), path)
	return nil
}

// save must be called with s.mu held.
func (s *Store) save() {
	if s.file == "" {
		return
	}
	if err := writeJSONFile(s.file, s.docs); err != nil {
		jww.ERROR.Printf("persist %s: %v", s.file, err)
	}
}

// Count returns the number of documents in collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection])
}

func (s *Store) Get(ctx context.Context, ref remote.Ref) (remote.Record, error) {
	if err := s.faults.check(ctx, "get"); err != nil {
		return remote.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[ref.Collection][ref.ID]
	if !ok {
		return remote.Record{}, errs.NotFound("%s", ref.Path())
	}
	return record(ref.ID, d), nil
}

func (s *Store) Query(ctx context.Context, q remote.Query) ([]remote.Record, error) {
	if err := s.faults.check(ctx, "query"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runQuery(q), nil
}

func (s *Store) NewRef(collection string) remote.Ref {
	return remote.Doc(collection, newID())
}

func (s *Store) Set(ctx context.Context, ref remote.Ref, data map[string]any, merge bool) error {
	if err := s.faults.check(ctx, "set"); err != nil {
		return err
	}
	s.mu.Lock()
	s.put(ref, data, merge)
	s.commit()
	snaps := s.collect(map[string]bool{ref.Path(): true}, map[string]bool{ref.Collection: true})
	s.mu.Unlock()
	deliver(snaps)
	return nil
}

func (s *Store) Update(ctx context.Context, ref remote.Ref, ops ...remote.FieldOp) error {
	if err := s.faults.check(ctx, "update"); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.update(ref, ops); err != nil {
		s.mu.Unlock()
		return err
	}
	s.commit()
	snaps := s.collect(map[string]bool{ref.Path(): true}, map[string]bool{ref.Collection: true})
	s.mu.Unlock()
	deliver(snaps)
	return nil
}

// RunTransaction runs fn with the store locked, so transactions are
// serializable and never retried. fn must only use tx.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx remote.Tx) error) error {
	if err := s.faults.check(ctx, "transaction"); err != nil {
		return err
	}
	s.mu.Lock()
	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if len(tx.writes) == 0 {
		s.mu.Unlock()
		return nil
	}
	paths, colls := map[string]bool{}, map[string]bool{}
	for _, w := range tx.writes {
		if err := w.apply(s); err != nil {
			// reads validated every write target, so this is a bug
			s.mu.Unlock()
			return errors.Wrap(err, "apply transaction")
		}
		paths[w.ref.Path()] = true
		colls[w.ref.Collection] = true
	}
	s.commit()
	snaps := s.collect(paths, colls)
	s.mu.Unlock()
	deliver(snaps)
	return nil
}

// commit must be called with s.mu held.
func (s *Store) commit() {
	s.version++
	s.save()
}

func (s *Store) put(ref remote.Ref, data map[string]any, merge bool) {
	coll := s.docs[ref.Collection]
	if coll == nil {
		coll = map[string]doc{}
		s.docs[ref.Collection] = coll
	}
	cur, ok := coll[ref.ID]
	if !merge || !ok {
		cur = doc{Data: map[string]any{}}
	} else {
		cur.Data = cloneMap(cur.Data)
	}
	for k, v := range data {
		cur.Data[k] = cloneValue(v)
	}
	cur.Updated = nowUTC()
	coll[ref.ID] = cur
}

func (s *Store) update(ref remote.Ref, ops []remote.FieldOp) error {
	cur, ok := s.docs[ref.Collection][ref.ID]
	if !ok {
		return errs.NotFound("update %s", ref.Path())
	}
	data := cloneMap(cur.Data)
	for _, op := range ops {
		if err := applyOp(data, op); err != nil {
			return errors.WithMessagef(err, "update %s", ref.Path())
		}
	}
	s.docs[ref.Collection][ref.ID] = doc{Data: data, Updated: nowUTC()}
	return nil
}

func record(id string, d doc) remote.Record {
	return remote.Record{ID: id, Data: cloneMap(d.Data), UpdateTime: d.Updated}
}

type write struct {
	ref   remote.Ref
	data  map[string]any
	merge bool
	ops   []remote.FieldOp
	isSet bool
}

func (w write) apply(s *Store) error {
	if w.isSet {
		s.put(w.ref, w.data, w.merge)
		return nil
	}
	return s.update(w.ref, w.ops)
}

type memTx struct {
	s      *Store
	writes []write
}

func (t *memTx) Get(ref remote.Ref) (remote.Record, bool, error) {
	if len(t.writes) > 0 {
		return remote.Record{}, false, errors.New("transaction reads must precede writes")
	}
	d, ok := t.s.docs[ref.Collection][ref.ID]
	if !ok {
		return remote.Record{ID: ref.ID}, false, nil
	}
	return record(ref.ID, d), true, nil
}

func (t *memTx) Set(ref remote.Ref, data map[string]any, merge bool) error {
	t.writes = append(t.writes, write{ref: ref, data: cloneMap(data), merge: merge, isSet: true})
	return nil
}

func (t *memTx) Update(ref remote.Ref, ops ...remote.FieldOp) error {
	exists := false
	if _, ok := t.s.docs[ref.Collection][ref.ID]; ok {
		exists = true
	}
	for _, w := range t.writes {
		if w.isSet && w.ref == ref {
			exists = true
		}
	}
	if !exists {
		return errs.NotFound("update %s", ref.Path())
	}
	t.writes = append(t.writes, write{ref: ref, ops: ops})
	return nil
}
