package provider

import (
	"encoding/binary"

	"github.com/clydemeng/sui-replay/types"
)

// FallbackMode decides what happens when a historical object cannot be
// fetched at its required version.
type FallbackMode int

const (
	// RequireHistorical fails the hydration on the first missing object.
	RequireHistorical FallbackMode = iota
	// AllowGraphqlCurrent substitutes the current version when it does not
	// exceed the allowed maximum for the replay.
	AllowGraphqlCurrent
	// SynthesizeMissing builds a placeholder from a registered synthesizer
	// keyed on well-known object ids.
	SynthesizeMissing
)

func (m FallbackMode) String() string {
	switch m {
	case RequireHistorical:
		return "require_historical"
	case AllowGraphqlCurrent:
		return "allow_graphql_current"
	case SynthesizeMissing:
		return "synthesize_missing"
	}
	return "unknown"
}

// PrefetchPolicy bounds the dynamic-field walk.
type PrefetchPolicy struct {
	// Depth in plies of the parent to child BFS.
	Depth int
	// Limit caps children enumerated per parent.
	Limit int
	// StrictCheckpoint forbids the latest-state fallback even when the
	// policy would otherwise allow it.
	StrictCheckpoint bool
	// AllowGraphqlFallback permits fetching a child's current state when
	// the historical channel misses, guarded by the replay's max version.
	AllowGraphqlFallback bool
}

// DefaultPrefetchPolicy matches the walk the production replayer runs.
func DefaultPrefetchPolicy() *PrefetchPolicy {
	return &PrefetchPolicy{Depth: 2, Limit: 64, AllowGraphqlFallback: true}
}

// Synthesizer constructs a placeholder object for a well-known id. The
// timestamp is the replayed transaction's, in milliseconds.
type Synthesizer func(id types.Address, version uint64, timestampMS uint64) *types.VersionedObject

// Policy is the per-hydration knob set.
type Policy struct {
	Fallback     FallbackMode
	Prefetch     *PrefetchPolicy
	Synthesizers map[types.Address]Synthesizer
}

// DefaultPolicy requires historical data and runs no prefetch.
func DefaultPolicy() Policy {
	return Policy{Fallback: RequireHistorical, Synthesizers: DefaultSynthesizers()}
}

func (p Policy) synthesizer(id types.Address) (Synthesizer, bool) {
	if p.Synthesizers == nil {
		return nil, false
	}
	s, ok := p.Synthesizers[id]
	return s, ok
}

// DefaultSynthesizers covers the system objects whose state is derivable
// from replay metadata alone: the clock at 0x6 and the randomness state
// at 0x8.
func DefaultSynthesizers() map[types.Address]Synthesizer {
	return map[types.Address]Synthesizer{
		types.ClockObjectID:  synthesizeClock,
		types.RandomObjectID: synthesizeRandom,
	}
}

func synthesizeClock(id types.Address, version uint64, timestampMS uint64) *types.VersionedObject {
	// Clock = UID + timestamp_ms: u64.
	bcs := make([]byte, types.AddressLength+8)
	copy(bcs, id[:])
	binary.LittleEndian.PutUint64(bcs[types.AddressLength:], timestampMS)
	owner := types.SharedOwner(version)
	return &types.VersionedObject{
		ID:       id,
		Version:  version,
		TypeTag:  types.SuiFrameworkAddress.String() + "::clock::Clock",
		BCS:      bcs,
		IsShared: true,
		Owner:    &owner,
	}
}

func synthesizeRandom(id types.Address, version uint64, _ uint64) *types.VersionedObject {
	// Random = UID + inner version: u64. The inner state object itself is a
	// dynamic field and stays unresolvable; simulated randomness natives do
	// not read it.
	bcs := make([]byte, types.AddressLength+8)
	copy(bcs, id[:])
	binary.LittleEndian.PutUint64(bcs[types.AddressLength:], version)
	owner := types.SharedOwner(version)
	return &types.VersionedObject{
		ID:       id,
		Version:  version,
		TypeTag:  types.SuiFrameworkAddress.String() + "::random::Random",
		BCS:      bcs,
		IsShared: true,
		Owner:    &owner,
	}
}
