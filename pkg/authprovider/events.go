// Package authprovider implements session.Provider against a GoTrue-compatible
// auth API and against an in-process directory for local development.
package authprovider

import (
	"maps"
	"slices"
	"sync"

	"ready2publish/pkg/domain"
	"ready2publish/pkg/session"
)

// dispatcher fans events out to subscribers in subscription order. Handlers
// run on the caller's goroutine.
type dispatcher struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(session.Event)
}

func (d *dispatcher) subscribe(fn func(session.Event)) func() {
	d.mu.Lock()
	if d.subs == nil {
		d.subs = make(map[int]func(session.Event))
	}
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) emit(eventType session.EventType, ident *domain.Identity) {
	d.mu.RLock()
	fns := make([]func(session.Event), 0, len(d.subs))
	for _, id := range slices.Sorted(maps.Keys(d.subs)) {
		fns = append(fns, d.subs[id])
	}
	d.mu.RUnlock()
	for _, fn := range fns {
		fn(session.Event{Type: eventType, Identity: cloneIdentity(ident)})
	}
}

func cloneIdentity(ident *domain.Identity) *domain.Identity {
	if ident == nil {
		return nil
	}
	c := *ident
	c.Metadata = maps.Clone(ident.Metadata)
	return &c
}
