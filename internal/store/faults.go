package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"local.dev/socialdemo-sync/internal/errs"
)

// faults lets tests and the local gateway simulate an unreliable remote.
type faults struct {
	mu      sync.Mutex
	offline bool
	next    map[string][]error
	gate    chan struct{}
}

func (f *faults) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	gate := f.gate
	if f.offline {
		f.mu.Unlock()
		return errors.Wrapf(errs.ErrNetwork, "%s: offline", op)
	}
	for _, key := range []string{op, "*"} {
		if q := f.next[key]; len(q) > 0 {
			err := q[0]
			f.next[key] = q[1:]
			f.mu.Unlock()
			return err
		}
	}
	f.mu.Unlock()

	if gate != nil && op != "listen" {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SetOffline makes every operation fail with a network error.
func (s *Store) SetOffline(offline bool) {
	s.faults.mu.Lock()
	s.faults.offline = offline
	s.faults.mu.Unlock()
}

// FailNext makes the next op ("get", "query", "set", "update",
// "transaction", "listen" or "*") fail with err.
func (s *Store) FailNext(op string, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	if s.faults.next == nil {
		s.faults.next = map[string][]error{}
	}
	s.faults.next[op] = append(s.faults.next[op], err)
}

// Hold blocks reads and writes (not listeners) until the returned func is called.
func (s *Store) Hold() (release func()) {
	gate := make(chan struct{})
	s.faults.mu.Lock()
	s.faults.gate = gate
	s.faults.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.faults.mu.Lock()
			if s.faults.gate == gate {
				s.faults.gate = nil
			}
			s.faults.mu.Unlock()
			close(gate)
		})
	}
}
