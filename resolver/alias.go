// Package resolver implements address-aliased module lookup honoring
// per-package linkage tables and upgrade chains.
package resolver

import (
	"sort"
	"strings"

	"github.com/clydemeng/sui-replay/types"
)

// AliasMap relates the two identities a package carries across upgrades: the
// storage address its bytecode lives at and its stable runtime id. Aliases
// always flow storage -> runtime; upgrades form a chain, never a cycle, so a
// single redirect reaches the fixed point.
type AliasMap struct {
	// StorageToRuntime maps each storage address to the runtime id.
	StorageToRuntime map[types.Address]types.Address
	// Versions records the package version at each storage address.
	Versions map[types.Address]uint64
	// LinkageUpgrades maps a runtime id to the storage address of the
	// newest version present when the map was built.
	LinkageUpgrades map[types.Address]types.Address
}

// NewAliasMap returns an empty map.
func NewAliasMap() *AliasMap {
	return &AliasMap{
		StorageToRuntime: make(map[types.Address]types.Address),
		Versions:         make(map[types.Address]uint64),
		LinkageUpgrades:  make(map[types.Address]types.Address),
	}
}

// BuildAliases derives the AliasMap from a package set. Self-aliases
// (storage == runtime) contribute a version entry but no edge, so every edge
// (a, b) satisfies a != b. Packages sharing a runtime id contribute one
// LinkageUpgrades entry pointing at the highest version; the caller controls
// which upgrades are visible by controlling the package set (a checkpointed
// replay simply never loads later upgrades).
func BuildAliases(packages map[types.Address]*types.Package) *AliasMap {
	m := NewAliasMap()

	// Deterministic iteration keeps diagnostics stable.
	addrs := make([]types.Address, 0, len(packages))
	for a := range packages {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return strings.Compare(addrs[i].String(), addrs[j].String()) < 0
	})

	for _, addr := range addrs {
		pkg := packages[addr]
		runtime := pkg.RuntimeID()
		m.Versions[pkg.Address] = pkg.Version
		if runtime != pkg.Address {
			m.StorageToRuntime[pkg.Address] = runtime
		}
		if cur, ok := m.LinkageUpgrades[runtime]; !ok || m.Versions[cur] < pkg.Version {
			m.LinkageUpgrades[runtime] = pkg.Address
		}
	}
	return m
}

// RuntimeOf normalizes an address to its runtime id; an address with no
// alias is its own runtime id.
func (m *AliasMap) RuntimeOf(addr types.Address) types.Address {
	if rt, ok := m.StorageToRuntime[addr]; ok {
		return rt
	}
	return addr
}

// StorageOf resolves an address to the storage address carrying its newest
// bytecode. Addresses without an upgrade entry resolve to themselves.
func (m *AliasMap) StorageOf(addr types.Address) types.Address {
	if st, ok := m.LinkageUpgrades[addr]; ok {
		return st
	}
	return addr
}

// Len reports the number of alias edges.
func (m *AliasMap) Len() int { return len(m.StorageToRuntime) }

// RewriteTypeTag rewrites every address component of a fully-qualified type
// tag to its storage address so type tags written against original ids
// resolve to the upgraded bytecode. The rewrite is idempotent: storage
// addresses have no further upgrade entry pointing elsewhere only when the
// map is built from a consistent package set, and self-mapping entries are
// harmless.
func (m *AliasMap) RewriteTypeTag(tag string) string {
	return rewriteAddresses(tag, func(a types.Address) types.Address {
		// Normalize to runtime first so half-rewritten tags converge.
		return m.StorageOf(m.RuntimeOf(a))
	})
}

// rewriteAddresses scans the tag for 0x-prefixed address tokens and maps
// each through fn, preserving everything else byte-for-byte.
func rewriteAddresses(tag string, fn func(types.Address) types.Address) string {
	var b strings.Builder
	b.Grow(len(tag))
	i := 0
	for i < len(tag) {
		if tag[i] == '0' && i+1 < len(tag) && (tag[i+1] == 'x' || tag[i+1] == 'X') {
			j := i + 2
			for j < len(tag) && isHexDigit(tag[j]) {
				j++
			}
			if j > i+2 {
				if addr, err := types.ParseAddress(tag[i:j]); err == nil {
					b.WriteString(fn(addr).String())
					i = j
					continue
				}
			}
		}
		b.WriteByte(tag[i])
		i++
	}
	return b.String()
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
