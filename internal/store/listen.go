package store

import (
	"context"
	"sync"
	"sync/atomic"

	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/remote"
)

type listener struct {
	id        uint64
	target    remote.Target
	onSnap    func(remote.Snapshot)
	onErr     func(error)
	mu        sync.Mutex
	cancelled atomic.Bool
}

type pendingSnap struct {
	l    *listener
	snap remote.Snapshot
}

// Listen delivers the current snapshot before returning, then one
// snapshot per commit touching target, on the committing goroutine.
func (s *Store) Listen(target remote.Target, onSnap func(remote.Snapshot), onErr func(error)) func() {
	s.mu.Lock()
	s.nextL++
	l := &listener{id: s.nextL, target: target, onSnap: onSnap, onErr: onErr}
	s.listeners[l.id] = l
	snap := s.snapshot(target)
	s.mu.Unlock()

	if err := s.faults.check(context.Background(), "listen"); err != nil {
		l.onErr(err)
	} else {
		deliver([]pendingSnap{{l: l, snap: snap}})
	}
	return func() {
		if l.cancelled.Swap(true) {
			return
		}
		s.mu.Lock()
		delete(s.listeners, l.id)
		s.mu.Unlock()
	}
}

// Listeners returns the number of live listeners.
func (s *Store) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// BreakListeners reports err to every live listener without stopping it.
func (s *Store) BreakListeners(err error) {
	s.mu.RLock()
	ls := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.RUnlock()
	for _, l := range ls {
		l.mu.Lock()
		if !l.cancelled.Load() && l.onErr != nil {
			l.onErr(err)
		}
		l.mu.Unlock()
	}
	jww.WARN.Printf("reported %v to %d listeners", err, len(ls))
}

// snapshot must be called with s.mu held.
func (s *Store) snapshot(target remote.Target) remote.Snapshot {
	snap := remote.Snapshot{Version: s.version, ReadTime: nowUTC()}
	switch t := target.(type) {
	case remote.Ref:
		if d, ok := s.docs[t.Collection][t.ID]; ok {
			snap.Records = []remote.Record{record(t.ID, d)}
		}
	case remote.Query:
		snap.Records = s.runQuery(t)
	default:
		jww.ERROR.Printf("listen: unsupported target %T", target)
	}
	return snap
}

// collect must be called with s.mu held.
func (s *Store) collect(paths, collections map[string]bool) []pendingSnap {
	var out []pendingSnap
	for _, l := range s.listeners {
		hit := false
		switch t := l.target.(type) {
		case remote.Ref:
			hit = paths[t.Path()]
		case remote.Query:
			hit = collections[t.Collection]
		}
		if hit {
			out = append(out, pendingSnap{l: l, snap: s.snapshot(l.target)})
		}
	}
	return out
}

func deliver(snaps []pendingSnap) {
	for _, p := range snaps {
		p.l.mu.Lock()
		if !p.l.cancelled.Load() {
			p.l.onSnap(p.snap)
		}
		p.l.mu.Unlock()
	}
}
