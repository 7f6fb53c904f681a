package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"local.dev/socialdemo-sync/internal/remote"
)

var errUnused = errors.New("not used by engine tests")

type fakeListener struct {
	target    remote.Target
	onSnap    func(remote.Snapshot)
	onErr     func(error)
	cancelled bool
}

// fakeStore hands snapshots to listeners only when the test pushes them.
type fakeStore struct {
	mu        sync.Mutex
	listeners []*fakeListener
}

func (f *fakeStore) Listen(target remote.Target, onSnap func(remote.Snapshot), onErr func(error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &fakeListener{target: target, onSnap: onSnap, onErr: onErr}
	f.listeners = append(f.listeners, l)
	return func() {
		f.mu.Lock()
		l.cancelled = true
		f.mu.Unlock()
	}
}

func (f *fakeStore) live(key string) []*fakeListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeListener
	for _, l := range f.listeners {
		if !l.cancelled && l.target.Key() == key {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeStore) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeStore) push(key string, snap remote.Snapshot) {
	for _, l := range f.live(key) {
		l.onSnap(snap)
	}
}

func (f *fakeStore) fail(key string, err error) {
	for _, l := range f.live(key) {
		l.onErr(err)
	}
}

func (f *fakeStore) Get(context.Context, remote.Ref) (remote.Record, error) {
	return remote.Record{}, errUnused
}

func (f *fakeStore) Query(context.Context, remote.Query) ([]remote.Record, error) {
	return nil, errUnused
}

func (f *fakeStore) NewRef(collection string) remote.Ref { return remote.Doc(collection, "new") }

func (f *fakeStore) Set(context.Context, remote.Ref, map[string]any, bool) error { return errUnused }

func (f *fakeStore) Update(context.Context, remote.Ref, ...remote.FieldOp) error { return errUnused }

func (f *fakeStore) RunTransaction(context.Context, func(context.Context, remote.Tx) error) error {
	return errUnused
}

// item is the entity used by reducer and mutation tests.
type item struct {
	ID string
	N  int
	At time.Time
}

func (a item) Equal(b item) bool { return a.ID == b.ID && a.N == b.N && a.At.Equal(b.At) }

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func itemRecord(id string, n int, at time.Time) remote.Record {
	return remote.Record{ID: id, Data: map[string]any{"n": n, "at": at}}
}

func decodeItem(rec remote.Record) (item, error) {
	n, ok := rec.Data["n"].(int)
	if !ok {
		return item{}, errors.Errorf("%s: missing n", rec.ID)
	}
	at, _ := rec.Data["at"].(time.Time)
	return item{ID: rec.ID, N: n, At: at}, nil
}

func itemReducer() Reducer[item] {
	return Reducer[item]{
		Entity: "item",
		Decode: decodeItem,
		Less:   NewestFirst(func(i item) time.Time { return i.At }, func(i item) string { return i.ID }),
		Equal:  item.Equal,
	}
}

func itemID(i item) string { return i.ID }

func snapOf(version uint64, recs ...remote.Record) remote.Snapshot {
	return remote.Snapshot{Records: recs, Version: version, ReadTime: epoch}
}
