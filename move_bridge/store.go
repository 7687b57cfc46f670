package movebridge

import (
	"sort"

	"github.com/clydemeng/sui-replay/types"
)

// entry is one object tracked during execution, with its journal flags.
// Flags are not exclusive: a received object can then be mutated, an input
// object transferred away is also mutated.
type entry struct {
	obj          *types.VersionedObject
	snapshot     *types.VersionedObject
	inputVersion uint64
	inputSize    int

	created     bool
	mutated     bool
	deleted     bool
	wrapped     bool
	unwrapped   bool
	transferred bool
	received    bool
}

// objectStore is the harness's working set plus journal. Mutated in place
// by one execution; never shared.
type objectStore struct {
	entries map[types.Address]*entry
	order   []types.Address
}

func newObjectStore() *objectStore {
	return &objectStore{entries: make(map[types.Address]*entry)}
}

func (s *objectStore) get(id types.Address) (*entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

func (s *objectStore) track(obj *types.VersionedObject) *entry {
	e := &entry{obj: obj, snapshot: obj.Clone(), inputVersion: obj.Version, inputSize: len(obj.BCS)}
	s.entries[obj.ID] = e
	s.order = append(s.order, obj.ID)
	return e
}

// rollback restores every pre-existing object to its input state after a
// failed execution. Created entries are dropped from the working set.
func (s *objectStore) rollback() {
	kept := s.order[:0]
	for _, id := range s.order {
		e := s.entries[id]
		if e.created {
			delete(s.entries, id)
			continue
		}
		e.obj = e.snapshot.Clone()
		e.mutated, e.deleted, e.wrapped, e.unwrapped, e.transferred = false, false, false, false, false
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *objectStore) addInput(obj *types.VersionedObject) {
	if _, ok := s.entries[obj.ID]; ok {
		return
	}
	s.track(obj.Clone())
}

func (s *objectStore) create(obj *types.VersionedObject) {
	s.track(obj).created = true
}

// iterate walks entries in insertion order for deterministic effects.
func (s *objectStore) iterate(f func(id types.Address, e *entry)) {
	for _, id := range s.order {
		f(id, s.entries[id])
	}
}

// maxInputVersion is the lamport base: the highest version among objects
// that entered the execution from outside.
func (s *objectStore) maxInputVersion() uint64 {
	var max uint64
	for _, id := range s.order {
		e := s.entries[id]
		if !e.created && e.inputVersion > max {
			max = e.inputVersion
		}
	}
	return max
}

// versions snapshots post-execution versions keyed by canonical id string.
func (s *objectStore) versions() map[string]uint64 {
	out := make(map[string]uint64, len(s.entries))
	for _, id := range s.order {
		out[id.String()] = s.entries[id].obj.Version
	}
	return out
}

func sortKeys(keys []types.ObjectKey) []types.ObjectKey {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ID != keys[j].ID {
			return keys[i].ID.String() < keys[j].ID.String()
		}
		return keys[i].Version < keys[j].Version
	})
	return keys
}
