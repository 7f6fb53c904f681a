package engine

import (
	"slices"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/metrics"
	"local.dev/socialdemo-sync/internal/remote"
)

// Reducer turns a full remote snapshot into the displayable list of a
// view. Reduce is pure apart from logging and the dropped-record counter.
type Reducer[T any] struct {
	// Entity names the record type in logs and metrics.
	Entity string
	// Decode maps one record; an error drops the record.
	Decode func(remote.Record) (T, error)
	// Keep is the client-side predicate. Nil keeps everything.
	Keep func(T) bool
	// Less orders the result. Nil keeps source order.
	Less func(a, b T) bool
	// Equal decides whether a recomputed element may be treated as
	// unchanged. Nil treats every non-empty result as changed.
	Equal func(a, b T) bool
}

// Reduce recomputes the list from snap. When every element is Equal to
// the element at the same position in prev, prev itself is returned so
// that consumers can skip re-rendering.
func (r Reducer[T]) Reduce(prev []T, snap remote.Snapshot) []T {
	next := make([]T, 0, len(snap.Records))
	for _, rec := range snap.Records {
		v, err := r.Decode(rec)
		if err != nil {
			metrics.IncDropped(r.Entity)
			jww.WARN.Printf("dropping %s %s: %v", r.Entity, rec.ID, err)
			continue
		}
		if r.Keep != nil && !r.Keep(v) {
			continue
		}
		next = append(next, v)
	}
	if r.Less != nil {
		slices.SortStableFunc(next, func(a, b T) int {
			switch {
			case r.Less(a, b):
				return -1
			case r.Less(b, a):
				return 1
			default:
				return 0
			}
		})
	}
	return Stable(prev, next, r.Equal)
}

// Stable returns prev when next is element-wise equal to it, else next.
// A nil equal never matches.
func Stable[T any](prev, next []T, equal func(a, b T) bool) []T {
	if prev == nil || len(prev) != len(next) {
		return next
	}
	if equal == nil && len(next) > 0 {
		return next
	}
	for i := range next {
		if !equal(prev[i], next[i]) {
			return next
		}
	}
	return prev
}

// NewestFirst orders by time descending, then by id ascending.
func NewestFirst[T any](at func(T) time.Time, id func(T) string) func(a, b T) bool {
	return func(a, b T) bool {
		ta, tb := at(a), at(b)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return id(a) < id(b)
	}
}

// OldestFirst orders by time ascending, then by id ascending.
func OldestFirst[T any](at func(T) time.Time, id func(T) string) func(a, b T) bool {
	return func(a, b T) bool {
		ta, tb := at(a), at(b)
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return id(a) < id(b)
	}
}
