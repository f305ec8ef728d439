// Package registry tracks live persistent connections and the principal
// owning each one.
package registry

import (
	"sync"

	"fieldsync-server/internal/model"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Entry is one registered connection; its lifecycle is bound to the
// socket's open/close.
type Entry struct {
	ID        string
	Principal *model.Principal
	Device    string
	Writer    Writer
}

type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Entry
	byLogin map[string]map[string]*Entry
}

func New() *Registry {
	return &Registry{
		byID:    make(map[string]*Entry),
		byLogin: make(map[string]map[string]*Entry),
	}
}

func (r *Registry) Add(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[e.ID] = e
	if e.Principal != nil && e.Principal.Login != "" {
		set := r.byLogin[e.Principal.Login]
		if set == nil {
			set = make(map[string]*Entry)
			r.byLogin[e.Principal.Login] = set
		}
		set[e.ID] = e
	}
}

func (r *Registry) Remove(id string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	if e.Principal != nil && e.Principal.Login != "" {
		set := r.byLogin[e.Principal.Login]
		delete(set, id)
		if len(set) == 0 {
			delete(r.byLogin, e.Principal.Login)
		}
	}
	return e
}

// ByLogin returns every live connection held by the named user.
func (r *Registry) ByLogin(login string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byLogin[login]
	out := make([]*Entry, 0, len(set))
	for _, e := range set {
		out = append(out, e)
	}
	return out
}

// ByClaim returns every live connection whose principal holds the named
// role claim. The claim groups play the part of rooms for targeted pushes.
func (r *Registry) ByClaim(claim string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, e := range r.byID {
		if e.Principal == nil {
			continue
		}
		for _, c := range e.Principal.Claims {
			if c == claim {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Broadcast pushes a message to every connection of the user, dropping
// connections whose writer failed. Returns the delivered count.
func (r *Registry) Broadcast(login string, message []byte) int {
	return r.push(r.ByLogin(login), message)
}

// BroadcastClaim pushes a message to every connection whose principal
// holds the role claim.
func (r *Registry) BroadcastClaim(claim string, message []byte) int {
	return r.push(r.ByClaim(claim), message)
}

func (r *Registry) push(conns []*Entry, message []byte) int {
	delivered := 0
	for _, e := range conns {
		if e.Writer == nil {
			continue
		}
		if err := e.Writer.Write(message); err != nil {
			_ = e.Writer.Close()
			r.Remove(e.ID)
			continue
		}
		delivered++
	}
	return delivered
}
