package sessions

import (
	"sync"
)

// State is the process-wide view of authentication.
type State struct {
	Session   *Session `json:"session"`
	User      *User    `json:"user"`
	IsLoading bool     `json:"is_loading"`
}

// Store holds the State. Reads return copies; writes notify subscribers in
// registration order, one write at a time, so the last snapshot a subscriber
// sees is the current state. Subscribers must not write to the store.
type Store struct {
	publishMu   sync.Mutex
	mu          sync.RWMutex
	state       State
	loading     int
	hydrated    bool
	subscribers map[int]func(State)
	nextID      int
}

// NewStore returns a store in its initial state: no session, loading. The
// initial loading hold is released by MarkHydrated.
func NewStore() *Store {
	return &Store{
		state:       State{IsLoading: true},
		loading:     1,
		subscribers: make(map[int]func(State)),
	}
}

// MarkHydrated releases the initial loading hold. Only the first call counts.
func (st *Store) MarkHydrated() {
	st.update(func(state *State) {
		if st.hydrated {
			return
		}
		st.hydrated = true
		if st.loading > 0 {
			st.loading--
		}
		state.IsLoading = st.loading > 0
	})
}

// Snapshot returns a copy of the current state.
func (st *Store) Snapshot() State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state
}

// SetSession replaces the session and derived user. Last write wins.
func (st *Store) SetSession(s *Session) {
	st.update(func(state *State) {
		state.Session = s
		state.User = nil
		if s != nil {
			state.User = s.User
			if state.User == nil {
				state.User = &User{ID: s.UserID}
			}
		}
	})
}

// BeginLoading marks the state as loading and returns the release func.
// Loading stays true until every hold is released. Release is idempotent.
func (st *Store) BeginLoading() (release func()) {
	st.update(func(state *State) {
		st.loading++
		state.IsLoading = true
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			st.update(func(state *State) {
				if st.loading > 0 {
					st.loading--
				}
				state.IsLoading = st.loading > 0
			})
		})
	}
}

// Subscribe registers fn for every state change and returns the
// unsubscribe func.
func (st *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	st.subscribers[id] = fn
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		delete(st.subscribers, id)
		st.mu.Unlock()
	}
}

func (st *Store) update(mutate func(*State)) {
	st.publishMu.Lock()
	defer st.publishMu.Unlock()

	st.mu.Lock()
	mutate(&st.state)
	snapshot := st.state
	subs := make([]func(State), 0, len(st.subscribers))
	for i := 0; i < st.nextID; i++ {
		if fn, ok := st.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	st.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}
