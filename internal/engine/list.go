package engine

import (
	"local.dev/socialdemo-sync/internal/remote"
)

// overlay is one pending local change layered over the remote base.
type overlay[T any] struct {
	seq   uint64
	key   string
	apply func([]T) []T
	acked bool
}

// List is the local state of one view: the last reduced remote snapshot
// (the base) with pending optimistic overlays applied on top. Overlays are
// re-applied to every new base, so their transforms must be idempotent.
type List[T any] struct {
	reducer  Reducer[T]
	idOf     func(T) string
	base     []T
	view     []T
	overlays []*overlay[T]
	loaded   bool
	onRender func([]T)
}

func NewList[T any](reducer Reducer[T], idOf func(T) string) *List[T] {
	return &List[T]{reducer: reducer, idOf: idOf}
}

// OnRender sets the callback invoked whenever the displayed list changes.
func (l *List[T]) OnRender(fn func([]T)) { l.onRender = fn }

// Apply reduces snap into the base, drops overlays whose writes have been
// acknowledged and recomputes the view.
func (l *List[T]) Apply(snap remote.Snapshot) {
	l.base = l.reducer.Reduce(l.base, snap)
	l.loaded = true
	kept := l.overlays[:0]
	for _, o := range l.overlays {
		if !o.acked {
			kept = append(kept, o)
		}
	}
	l.overlays = kept
	l.recompute()
}

// SetReducer swaps the reducer, e.g. when the client-side predicate
// changes. The next Apply uses it.
func (l *List[T]) SetReducer(r Reducer[T]) { l.reducer = r }

// Items is the displayed list. Callers must not modify it.
func (l *List[T]) Items() []T { return l.view }

// Loaded reports whether at least one snapshot was applied.
func (l *List[T]) Loaded() bool { return l.loaded }

// Get returns the displayed element with the given id.
func (l *List[T]) Get(id string) (T, bool) {
	for _, v := range l.view {
		if l.idOf(v) == id {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Pending reports the number of overlays not yet folded into the base.
func (l *List[T]) Pending() int { return len(l.overlays) }

func (l *List[T]) push(o *overlay[T]) {
	l.overlays = append(l.overlays, o)
	l.recompute()
}

func (l *List[T]) drop(o *overlay[T]) {
	for i, x := range l.overlays {
		if x == o {
			l.overlays = append(l.overlays[:i], l.overlays[i+1:]...)
			break
		}
	}
	l.recompute()
}

func (l *List[T]) recompute() {
	next := l.base
	if len(l.overlays) > 0 {
		next = append([]T(nil), l.base...)
		for _, o := range l.overlays {
			next = o.apply(next)
		}
	}
	next = Stable(l.view, next, l.reducer.Equal)
	if l.view != nil && sameSlice(l.view, next) {
		return
	}
	l.view = next
	if l.onRender != nil {
		l.onRender(next)
	}
}

func sameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

// MapByID returns a list transform that replaces the element with the
// given id by fn(element). Missing ids leave the list unchanged.
func MapByID[T any](idOf func(T) string, id string, fn func(T) T) func([]T) []T {
	return func(in []T) []T {
		for i, v := range in {
			if idOf(v) == id {
				in[i] = fn(v)
				break
			}
		}
		return in
	}
}
