package cache

// Observer is a mounted query. It reloads whenever its key is invalidated and
// publishes every state change on Updates.
type Observer struct {
	store   *Store
	entry   *entry
	updates chan State
	closed  bool
}

// Watch mounts a query. A disabled query gets an idle observer that never
// fetches.
func (s *Store) Watch(key Key, fetch Fetcher, opts Options) *Observer {
	o := &Observer{store: s, updates: make(chan State, 1)}
	if opts.Disabled {
		o.updates <- State{Key: key, Status: StatusIdle}
		return o
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(key)
	e.fetch = fetch
	e.staleTime = opts.StaleTime
	e.observers[o] = struct{}{}
	o.entry = e
	if !e.fetching && s.needsFetchLocked(e) {
		s.startLocked(e)
	}
	o.pushLocked(e.snapshot())
	return o
}

// Updates delivers the latest state; intermediate states may be skipped.
func (o *Observer) Updates() <-chan State {
	return o.updates
}

// State returns the current snapshot.
func (o *Observer) State() State {
	if o.entry == nil {
		return State{Status: StatusIdle}
	}
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	return o.entry.snapshot()
}

// Close unmounts the observer. Its entry stays cached.
func (o *Observer) Close() {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	if o.entry != nil {
		delete(o.entry.observers, o)
	}
	o.closeLocked()
}

func (o *Observer) closeLocked() {
	if o.closed {
		return
	}
	o.closed = true
	close(o.updates)
}

// pushLocked replaces any undelivered state with st.
func (o *Observer) pushLocked(st State) {
	if o.closed {
		return
	}
	select {
	case <-o.updates:
	default:
	}
	o.updates <- st
}

func (s *Store) notifyLocked(e *entry) {
	if len(e.observers) == 0 {
		return
	}
	st := e.snapshot()
	for o := range e.observers {
		o.pushLocked(st)
	}
}
