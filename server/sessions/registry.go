package sessions

import (
	"slices"
	"sync"
	"time"

	"github.com/PeladoCollado/cpuload/types"
)

// Registry tracks the sessions currently generating load.
type Registry struct {
	lock     sync.Mutex
	sessions map[string]types.ActiveSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]types.ActiveSession)}
}

func (r *Registry) Start(session types.ActiveSession) {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.sessions[session.ID] = session
}

// Finish removes the session and reports whether it was registered.
func (r *Registry) Finish(id string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Active returns running sessions, oldest first.
func (r *Registry) Active() []types.ActiveSession {
	r.lock.Lock()
	active := make([]types.ActiveSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		active = append(active, session)
	}
	r.lock.Unlock()

	slices.SortFunc(active, func(a, b types.ActiveSession) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return active
}

func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sessions)
}
