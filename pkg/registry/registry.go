// Package registry maps human-chosen names to handler endpoints. Each
// process keeps a local table of the names it published plus a merged view
// of records gossiped by its peers. Conflicting records for one name are
// resolved last-writer-wins by logical clock, ties broken by the owner key.
//
// Nothing authenticates a published name: any peer on the mesh may claim
// any name, and a later registration simply wins. Acceptable for a demo
// registry, unacceptable anywhere hostile.
package registry

import (
	"errors"
	"sort"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/watercompany/pingmesh/pkg/actor"
	"github.com/watercompany/pingmesh/pkg/cipher"
)

var log = logging.MustGetLogger("registry")

// Registration errors.
var (
	// ErrNameTaken is returned when a name is already bound locally to a
	// different live endpoint.
	ErrNameTaken = errors.New("name already registered")
	// ErrInvalidName is returned for empty or non-printable names.
	ErrInvalidName = errors.New("invalid registration name")
)

// Record is the unit gossiped between peers. Clock is a per-registry
// logical timestamp; a retraction is a Record with Retracted set and a
// later clock than the registration it supersedes.
type Record struct {
	Name      string
	Owner     cipher.PubKey
	ActorType string
	TypeID    uuid.UUID
	Clock     uint64
	Retracted bool
}

// Supersedes reports whether r wins over old under last-writer-wins:
// higher clock wins, ties go to the lexicographically larger owner key.
func (r Record) Supersedes(old Record) bool {
	if r.Clock != old.Clock {
		return r.Clock > old.Clock
	}
	return r.Owner.Hex() > old.Owner.Hex()
}

// Registry is the process-local name table plus the gossiped view.
type Registry struct {
	mu       sync.RWMutex
	owner    cipher.PubKey
	clock    uint64
	records  map[string]Record
	local    map[string]*actor.Ref
	watchers []chan Record
}

// New constructs a Registry owned by the given peer identity.
func New(owner cipher.PubKey) *Registry {
	return &Registry{
		owner:   owner,
		records: make(map[string]Record),
		local:   make(map[string]*actor.Ref),
	}
}

// Owner returns the identity records published by this registry carry.
func (r *Registry) Owner() cipher.PubKey {
	return r.owner
}

// Register binds name to the given endpoint and returns the record to
// announce to peers. Registering the same endpoint under the same name
// again is idempotent (the record is re-issued with a later clock).
func (r *Registry) Register(name string, ref *actor.Ref, actorType string, typeID uuid.UUID) (Record, error) {
	if !validName(name) {
		return Record{}, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.local[name]; ok && existing != ref {
		return Record{}, ErrNameTaken
	}
	if rec, ok := r.records[name]; ok && !rec.Retracted && rec.Owner != r.owner {
		return Record{}, ErrNameTaken
	}

	r.clock++
	rec := Record{
		Name:      name,
		Owner:     r.owner,
		ActorType: actorType,
		TypeID:    typeID,
		Clock:     r.clock,
	}
	r.records[name] = rec
	r.local[name] = ref
	r.notify(rec)

	log.WithField("name", name).WithField("clock", rec.Clock).Info("Registered name")
	return rec, nil
}

// Unregister removes the local binding for name and returns the retraction
// record to announce. The second return is false when name is not bound
// locally.
func (r *Registry) Unregister(name string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.local[name]; !ok {
		return Record{}, false
	}

	r.clock++
	rec := Record{
		Name:      name,
		Owner:     r.owner,
		Clock:     r.clock,
		Retracted: true,
	}
	delete(r.local, name)
	r.records[name] = rec
	r.notify(rec)
	return rec, true
}

// RetractAll retracts every locally published name, e.g. on shutdown.
func (r *Registry) RetractAll() []Record {
	r.mu.Lock()
	names := make([]string, 0, len(r.local))
	for name := range r.local {
		names = append(names, name)
	}
	r.mu.Unlock()

	recs := make([]Record, 0, len(names))
	for _, name := range names {
		if rec, ok := r.Unregister(name); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

// DropOwner removes every record owned by the given peer from the view,
// for when the owning peer disconnects and its endpoints become
// unreachable. The returned records are marked retracted so watchers see
// the removal.
func (r *Registry) DropOwner(owner cipher.PubKey) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []Record
	for name, rec := range r.records {
		if rec.Owner != owner {
			continue
		}
		delete(r.records, name)
		if !rec.Retracted {
			log.WithField("name", name).Info("Dropped name of disconnected peer")
		}
		rec.Retracted = true
		r.notify(rec)
		dropped = append(dropped, rec)
	}
	return dropped
}

// Merge folds a gossiped record into the view. It reports whether the view
// changed, which gates re-broadcast.
func (r *Registry) Merge(rec Record) bool {
	r.mu.Lock()

	if old, ok := r.records[rec.Name]; ok {
		if old == rec || !rec.Supersedes(old) {
			r.mu.Unlock()
			return false
		}
	}
	r.records[rec.Name] = rec
	if rec.Owner != r.owner {
		// A remote record won the name; the local endpoint, if any, is no
		// longer reachable under it.
		if _, ok := r.local[rec.Name]; ok {
			log.WithField("name", rec.Name).Warn("Local name superseded by remote record")
			delete(r.local, rec.Name)
		}
	}
	r.notify(rec)
	r.mu.Unlock()
	return true
}

// Lookup returns the current record for name. Retracted names resolve to
// nothing.
func (r *Registry) Lookup(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok || rec.Retracted {
		return Record{}, false
	}
	return rec, true
}

// LocalRef resolves name to the local endpoint, provided this process
// still owns the current record.
func (r *Registry) LocalRef(name string) (*actor.Ref, Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok || rec.Retracted || rec.Owner != r.owner {
		return nil, Record{}, false
	}
	ref, ok := r.local[name]
	if !ok {
		return nil, Record{}, false
	}
	return ref, rec, true
}

// Snapshot returns every record in the view, retractions included, sorted
// by name. Used for full-state sync to freshly connected peers.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs
}

// Watch returns a channel receiving every record that changes the view.
// Slow watchers miss updates instead of blocking the registry.
func (r *Registry) Watch() <-chan Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Record, 16)
	r.watchers = append(r.watchers, ch)
	return ch
}

func (r *Registry) notify(rec Record) {
	for _, ch := range r.watchers {
		select {
		case ch <- rec:
		default:
		}
	}
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !unicode.IsPrint(c) {
			return false
		}
	}
	return true
}
