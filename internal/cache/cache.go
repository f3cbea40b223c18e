// Package cache keeps the last known result of keyed remote queries, shares
// in-flight fetches between callers and reloads queries after mutations
// invalidate them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Status string

const (
	// StatusIdle is a disabled or never-loaded query. It is not an error.
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is a snapshot of one cache entry.
type State struct {
	Key       Key
	Value     any
	HasValue  bool
	Err       error
	Status    Status
	Fetching  bool
	Stale     bool
	UpdatedAt time.Time
}

// Fetcher performs the remote call for a query or a mutation.
type Fetcher func(ctx context.Context) (any, error)

// Options tune a single query.
type Options struct {
	// Disabled queries never fetch and report StatusIdle.
	Disabled bool
	// StaleTime overrides the store default when positive.
	StaleTime time.Duration
}

// QueryError is a failed fetch for Key.
type QueryError struct {
	Key Key
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Key.String(), e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Client is what the session layer needs from a cache.
type Client interface {
	Query(ctx context.Context, key Key, fetch Fetcher, opts Options) (State, error)
	Watch(key Key, fetch Fetcher, opts Options) *Observer
	Mutate(ctx context.Context, fn Fetcher, invalidate ...Key) (any, error)
	Invalidate(prefixes ...Key)
	Clear()
}

var _ Client = (*Store)(nil)

type entry struct {
	key       Key
	value     any
	hasValue  bool
	err       error
	terminal  bool
	updatedAt time.Time
	stale     bool
	fetching  bool
	pending   bool
	fetch     Fetcher
	staleTime time.Duration
	observers map[*Observer]struct{}
}

// Store is a per-session cache. The zero value is not usable; call New.
type Store struct {
	// StaleTime is how long a successful result stays fresh.
	StaleTime time.Duration
	// Terminal marks errors that are not retried until the key is invalidated.
	Terminal func(error) bool
	Logger   *log.Logger
	Now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
	epoch   int
}

func New(staleTime time.Duration, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		StaleTime: staleTime,
		Logger:    logger,
		Now:       time.Now,
		entries:   map[string]*entry{},
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) entryLocked(key Key) *entry {
	id := key.String()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{key: key, observers: map[*Observer]struct{}{}}
		s.entries[id] = e
	}
	return e
}

func (s *Store) needsFetchLocked(e *entry) bool {
	if e.fetching {
		return true
	}
	if e.terminal && !e.stale {
		return false
	}
	if !e.hasValue && e.err == nil {
		return true
	}
	if e.stale {
		return true
	}
	if e.err != nil {
		return true
	}
	ttl := e.staleTime
	if ttl <= 0 {
		ttl = s.StaleTime
	}
	return s.now().Sub(e.updatedAt) >= ttl
}

func (e *entry) snapshot() State {
	st := State{
		Key:       e.key,
		Value:     e.value,
		HasValue:  e.hasValue,
		Err:       e.err,
		Fetching:  e.fetching,
		Stale:     e.stale,
		UpdatedAt: e.updatedAt,
	}
	switch {
	case e.fetching:
		st.Status = StatusLoading
	case e.err != nil:
		st.Status = StatusError
	case e.hasValue:
		st.Status = StatusSuccess
	default:
		st.Status = StatusIdle
	}
	return st
}

// Query returns the entry for key, fetching first when it is missing, stale
// or invalidated. Concurrent callers for one key share a single fetch.
func (s *Store) Query(ctx context.Context, key Key, fetch Fetcher, opts Options) (State, error) {
	if opts.Disabled {
		return State{Key: key, Status: StatusIdle}, nil
	}
	s.mu.Lock()
	e := s.entryLocked(key)
	e.fetch = fetch
	e.staleTime = opts.StaleTime
	if !s.needsFetchLocked(e) {
		st := e.snapshot()
		s.mu.Unlock()
		return st, queryErr(st)
	}
	epoch := s.epoch
	s.mu.Unlock()

	// The shared load outlives any one caller; a caller that goes away only
	// stops waiting for it.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String(), func() (any, error) {
		return nil, s.load(loadCtx, e, epoch)
	})
	select {
	case <-ch:
	case <-ctx.Done():
		return State{Key: key, Status: StatusError, Err: ctx.Err()}, &QueryError{Key: key, Err: ctx.Err()}
	}
	s.mu.Lock()
	st := e.snapshot()
	s.mu.Unlock()
	return st, queryErr(st)
}

func queryErr(st State) error {
	if st.Err == nil {
		return nil
	}
	return &QueryError{Key: st.Key, Err: st.Err}
}

// load runs the entry's fetcher, and runs it again when the entry was
// invalidated while the fetch was in flight. ctx must not be a caller's
// cancellable context: its result is shared by every caller of the key.
func (s *Store) load(ctx context.Context, e *entry, epoch int) error {
	for {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return nil
		}
		fetch := e.fetch
		e.fetching = true
		e.pending = false
		e.stale = false
		s.notifyLocked(e)
		s.mu.Unlock()

		v, err := fetch(ctx)

		s.mu.Lock()
		e.fetching = false
		if s.epoch == epoch {
			if err != nil {
				// keep the last good value
				e.err = err
				e.terminal = s.Terminal != nil && s.Terminal(err)
				s.Logger.Printf("cache: fetch %s failed: %v", e.key.String(), err)
			} else {
				e.value = v
				e.hasValue = true
				e.err = nil
				e.terminal = false
				e.updatedAt = s.now()
			}
		}
		again := e.pending && s.epoch == epoch
		if !again {
			// later callers must start a new fetch rather than join this one
			s.group.Forget(e.key.String())
		}
		s.notifyLocked(e)
		s.mu.Unlock()
		if !again {
			return err
		}
	}
}

// Invalidate marks every entry whose key starts with one of prefixes stale.
// Watched entries reload once, however many prefixes match them.
func (s *Store) Invalidate(prefixes ...Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if !matchesAny(e.key, prefixes) {
			continue
		}
		e.stale = true
		if e.fetching {
			e.pending = true
			continue
		}
		if len(e.observers) > 0 && e.fetch != nil {
			s.startLocked(e)
		}
	}
}

func matchesAny(k Key, prefixes []Key) bool {
	for _, p := range prefixes {
		if k.HasPrefix(p) {
			return true
		}
	}
	return false
}

// startLocked begins a background load for a watched entry.
func (s *Store) startLocked(e *entry) {
	epoch := s.epoch
	e.fetching = true
	s.group.DoChan(e.key.String(), func() (any, error) {
		return nil, s.load(context.Background(), e, epoch)
	})
}

// Mutate runs fn exactly once, detached from ctx cancellation, and
// invalidates the given keys when it succeeds.
func (s *Store) Mutate(ctx context.Context, fn Fetcher, invalidate ...Key) (any, error) {
	v, err := fn(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	if len(invalidate) > 0 {
		s.Invalidate(invalidate...)
	}
	return v, nil
}

// Clear drops every entry and closes all observers. Loads in flight finish
// without touching the new state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	for id, e := range s.entries {
		for o := range e.observers {
			o.closeLocked()
		}
		delete(s.entries, id)
	}
}

// Peek returns the current state for key without fetching.
func (s *Store) Peek(key Key) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.String()]
	if !ok {
		return State{Key: key, Status: StatusIdle}, false
	}
	return e.snapshot(), true
}

// Get is Query with a typed result.
func Get[T any](ctx context.Context, c Client, key Key, fetch func(context.Context) (T, error), opts Options) (T, State, error) {
	st, err := c.Query(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts)
	v, _ := st.Value.(T)
	return v, st, err
}

// Do is Mutate with a typed result.
func Do[T any](ctx context.Context, c Client, fn func(context.Context) (T, error), invalidate ...Key) (T, error) {
	v, err := c.Mutate(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, invalidate...)
	out, _ := v.(T)
	return out, err
}

// ErrClosed is returned by observers after the store was cleared.
var ErrClosed = errors.New("cache: observer closed")
