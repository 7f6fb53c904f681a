package engine

import (
	"sort"

	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/metrics"
	"local.dev/socialdemo-sync/internal/remote"
)

// Predicate identifies a client-side filter. Two subscriptions share a
// remote listener only when both the target and the predicate key match.
type Predicate interface {
	Key() string
}

// NoFilter is the predicate of unfiltered subscriptions.
type NoFilter struct{}

func (NoFilter) Key() string { return "*" }

// Handle is one caller's binding to a shared listener.
type Handle struct {
	id       uint64
	key      string
	onChange func(remote.Snapshot)
	onError  func(error)
	closed   bool
	primed   bool
	seen     uint64
}

// Closed reports whether the handle has been released.
func (h *Handle) Closed() bool { return h.closed }

// Key is the (target, predicate) key the handle is bound to.
func (h *Handle) Key() string { return h.key }

// send passes snap on unless the handle is closed or has already seen
// the same or a newer version.
func (h *Handle) send(snap remote.Snapshot) {
	if h.closed || (h.primed && snap.Version <= h.seen) {
		return
	}
	h.primed, h.seen = true, snap.Version
	h.onChange(snap)
}

type listener struct {
	key         string
	target      remote.Target
	cancel      func()
	handles     []*Handle
	last        *remote.Snapshot
	lastVersion uint64
	released    bool
}

// Subscriptions owns every remote listener and de-duplicates them.
type Subscriptions struct {
	loop      *Loop
	store     remote.DocStore
	listeners map[string]*listener
	nextID    uint64
}

func NewSubscriptions(loop *Loop, store remote.DocStore) *Subscriptions {
	return &Subscriptions{
		loop:      loop,
		store:     store,
		listeners: map[string]*listener{},
	}
}

func subscriptionKey(target remote.Target, pred Predicate) string {
	if pred == nil {
		pred = NoFilter{}
	}
	return target.Key() + "#" + pred.Key()
}

// Subscribe binds onChange to target. onChange receives every full
// snapshot in source order, starting with the current one. onError
// receives remote failures; it may be nil.
func (s *Subscriptions) Subscribe(target remote.Target, pred Predicate,
	onChange func(remote.Snapshot), onError func(error)) *Handle {
	key := subscriptionKey(target, pred)
	s.nextID++
	h := &Handle{id: s.nextID, key: key, onChange: onChange, onError: onError}
	metrics.IncHandles()

	l, ok := s.listeners[key]
	if ok {
		l.handles = append(l.handles, h)
		if l.last != nil {
			snap := *l.last
			s.loop.Post(func() { h.send(snap) })
		}
		jww.DEBUG.Printf("subscribe %s: joined listener (%d handles)", key, len(l.handles))
		return h
	}

	l = &listener{key: key, target: target, handles: []*Handle{h}}
	s.listeners[key] = l
	metrics.IncListeners()
	l.cancel = s.store.Listen(target,
		func(snap remote.Snapshot) {
			s.loop.Post(func() { s.deliver(l, snap) })
		},
		func(err error) {
			s.loop.Post(func() { s.fail(l, err) })
		})
	jww.INFO.Printf("subscribe %s: new remote listener", key)
	return h
}

// Unsubscribe releases h. It is idempotent, and no callback runs for h
// once it returns. The remote listener is stopped with its last handle.
func (s *Subscriptions) Unsubscribe(h *Handle) {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	metrics.DecHandles()

	l, ok := s.listeners[h.key]
	if !ok {
		return
	}
	for i, x := range l.handles {
		if x == h {
			l.handles = append(l.handles[:i], l.handles[i+1:]...)
			break
		}
	}
	if len(l.handles) > 0 {
		return
	}
	l.released = true
	delete(s.listeners, h.key)
	metrics.DecListeners()
	if l.cancel != nil {
		l.cancel()
	}
	jww.INFO.Printf("unsubscribe %s: remote listener released", h.key)
}

// Active returns the keys of live remote listeners, sorted.
func (s *Subscriptions) Active() []string {
	out := make([]string, 0, len(s.listeners))
	for k := range s.listeners {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Refs returns the number of handles on the listener for key.
func (s *Subscriptions) Refs(key string) int {
	if l, ok := s.listeners[key]; ok {
		return len(l.handles)
	}
	return 0
}

func (s *Subscriptions) deliver(l *listener, snap remote.Snapshot) {
	if l.released {
		return
	}
	if l.last != nil && snap.Version <= l.lastVersion {
		metrics.IncSnapshot("stale")
		jww.TRACE.Printf("%s: dropping stale snapshot v%d (have v%d)", l.key, snap.Version, l.lastVersion)
		return
	}
	l.last = &snap
	l.lastVersion = snap.Version
	metrics.IncSnapshot("delivered")
	jww.TRACE.Printf("%s: snapshot v%d with %d records", l.key, snap.Version, len(snap.Records))

	handles := append([]*Handle(nil), l.handles...)
	for _, h := range handles {
		h.send(snap)
	}
}

func (s *Subscriptions) fail(l *listener, err error) {
	if l.released {
		return
	}
	err = errs.Classify(err, "listen "+l.target.Key())
	metrics.IncRemoteError(errs.KindOf(err).String())
	jww.WARN.Printf("%s: remote error: %v", l.key, err)

	handles := append([]*Handle(nil), l.handles...)
	for _, h := range handles {
		if h.closed || h.onError == nil {
			continue
		}
		h.onError(err)
	}
}
