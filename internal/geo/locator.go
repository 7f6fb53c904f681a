package geo

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoPosition is returned by a locator that has not received a fix yet.
var ErrNoPosition = errors.New("no position available")

// StaticLocator always reports the same point. It is the fallback when no
// device position is pushed.
type StaticLocator struct {
	point *Point
}

// NewStaticLocator returns a locator for p; a nil p reports ErrNoPosition.
func NewStaticLocator(p *Point) *StaticLocator { return &StaticLocator{point: p} }

func (s *StaticLocator) Current(context.Context) (Point, error) {
	if s.point == nil {
		return Point{}, ErrNoPosition
	}
	return *s.point, nil
}

func (s *StaticLocator) Watch(ctx context.Context, fn func(Point, error)) func() {
	p, err := s.Current(ctx)
	fn(p, err)
	return func() {}
}

// PushLocator is fed by the UI (the browser's watchPosition) and fans each
// fix out to watchers.
type PushLocator struct {
	mu       sync.Mutex
	last     *Point
	lastErr  error
	watchers map[int]func(Point, error)
	nextID   int
}

// NewPushLocator seeds the locator with an optional initial fix.
func NewPushLocator(initial *Point) *PushLocator {
	return &PushLocator{last: initial, watchers: map[int]func(Point, error){}}
}

func (l *PushLocator) Current(context.Context) (Point, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		if l.lastErr != nil {
			return Point{}, l.lastErr
		}
		return Point{}, ErrNoPosition
	}
	return *l.last, nil
}

// Watch registers fn and immediately replays the last fix, if any.
func (l *PushLocator) Watch(_ context.Context, fn func(Point, error)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.watchers[id] = fn
	last := l.last
	l.mu.Unlock()

	if last != nil {
		fn(*last, nil)
	}
	return func() {
		l.mu.Lock()
		delete(l.watchers, id)
		l.mu.Unlock()
	}
}

// Push records a new fix and notifies watchers.
func (l *PushLocator) Push(p Point) error {
	if !p.Valid() {
		return errors.Errorf("invalid position %s", p)
	}
	l.mu.Lock()
	l.last = &p
	l.lastErr = nil
	fns := l.snapshotWatchers()
	l.mu.Unlock()
	for _, fn := range fns {
		fn(p, nil)
	}
	return nil
}

// Fail records a position error (e.g. permission denied) and notifies
// watchers. The last good fix is kept.
func (l *PushLocator) Fail(err error) {
	l.mu.Lock()
	l.lastErr = err
	fns := l.snapshotWatchers()
	l.mu.Unlock()
	for _, fn := range fns {
		fn(Point{}, err)
	}
}

func (l *PushLocator) snapshotWatchers() []func(Point, error) {
	out := make([]func(Point, error), 0, len(l.watchers))
	for _, fn := range l.watchers {
		out = append(out, fn)
	}
	return out
}
