package relay

import (
	"sync"
	"sync/atomic"
)

// Updater holds the current Credentials behind an atomic.Value and pushes
// updates to subscribed States, generalized from the teacher's
// internal/server/reload.go Updater (which swaps an entire Options value
// across listening *Server instances). Unlike that Updater, swapping
// credentials here never touches a State's bindings or pending binding —
// an in-flight channel binding survives a credential rotation; only the
// next SetPeer/Send call that needs to build authenticated attributes
// picks up the new pair.
type Updater struct {
	v         atomic.Value
	mux       sync.RWMutex
	listeners []*State
}

// NewUpdater initializes an Updater with an initial credential pair.
func NewUpdater(c Credentials) *Updater {
	u := &Updater{}
	u.v.Store(c)
	return u
}

// Get returns the current credentials.
func (u *Updater) Get() Credentials {
	return u.v.Load().(Credentials)
}

// Set stores new credentials and pushes them to every subscribed State.
func (u *Updater) Set(c Credentials) {
	u.v.Store(c)
	u.mux.RLock()
	for _, s := range u.listeners {
		s.setCredentials(c)
	}
	u.mux.RUnlock()
}

// Subscribe registers s to receive future credential updates.
func (u *Updater) Subscribe(s *State) {
	u.mux.Lock()
	u.listeners = append(u.listeners, s)
	u.mux.Unlock()
}
