package resolver

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/clydemeng/sui-replay/config"
	"github.com/clydemeng/sui-replay/types"
)

var logger = log.New("module", "resolver")

// Resolver locates compiled modules across storage addresses, honoring
// per-package linkage tables and the upgrade-history alias map. One resolver
// is owned by one harness for the duration of a PTB execution.
type Resolver struct {
	mu       sync.Mutex
	packages map[types.Address]*types.Package
	aliases  *AliasMap
	missing  map[string]struct{}
}

// New builds a resolver over the package set and its alias map.
func New(packages map[types.Address]*types.Package, aliases *AliasMap) *Resolver {
	if aliases == nil {
		aliases = BuildAliases(packages)
	}
	pkgs := make(map[types.Address]*types.Package, len(packages))
	for a, p := range packages {
		pkgs[a] = p
	}
	return &Resolver{packages: pkgs, aliases: aliases, missing: make(map[string]struct{})}
}

// Clone copies the resolver so a session can merge additional packages
// without mutating the parent.
func (r *Resolver) Clone() *Resolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := New(r.packages, r.aliases)
	for k := range r.missing {
		cp.missing[k] = struct{}{}
	}
	return cp
}

// Aliases exposes the alias map (read-only by convention).
func (r *Resolver) Aliases() *AliasMap { return r.aliases }

// AddPackage merges a package and refreshes the alias map.
func (r *Resolver) AddPackage(pkg *types.Package) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages[pkg.Address] = pkg
	r.aliases = BuildAliases(r.packages)
}

// Package returns the package stored at addr after alias resolution.
func (r *Resolver) Package(addr types.Address) (*types.Package, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pkg, _, ok := r.locate(nil, addr)
	return pkg, ok
}

// Lookup resolves (addr, module) to a compiled module, applying the ordered
// rules: the requesting package's linkage override first, then the
// upgrade-history alias, then the address itself. from may be nil for
// top-level lookups. Failures are tracked in the missing-dependency set and
// returned as *types.LinkerError.
func (r *Resolver) Lookup(from *types.Package, addr types.Address, module string) (*types.Module, types.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pkg, resolved, ok := r.locate(from, addr)
	if ok {
		if m := pkg.Module(module); m != nil {
			if config.DebugLinkage() {
				logger.Debug("resolved module", "requested", addr.Short(), "storage", resolved.Short(), "module", module)
			}
			return m, resolved, nil
		}
	}
	key := fmt.Sprintf("%s::%s", addr, module)
	r.missing[key] = struct{}{}
	if config.DebugLinkage() {
		logger.Debug("module unresolved", "requested", addr.Short(), "module", module)
	}
	return nil, types.Address{}, &types.LinkerError{Address: addr, Module: module}
}

// locate applies the ordered resolution rules and returns the package plus
// the storage address it was found at. Caller holds r.mu.
func (r *Resolver) locate(from *types.Package, addr types.Address) (*types.Package, types.Address, bool) {
	// Rule 1: linkage override of the requesting package.
	if from != nil {
		if upgraded, ok := from.LinkageFor(addr); ok && upgraded != addr {
			if pkg, ok := r.packages[upgraded]; ok {
				return pkg, upgraded, true
			}
		}
	}
	// Rule 2: upgrade-history alias, one redirect only. Normalizing through
	// the runtime id first refuses cyclic chains: storage <-> runtime pairs
	// collapse onto the runtime id's newest storage address.
	target := r.aliases.StorageOf(r.aliases.RuntimeOf(addr))
	if target != addr {
		if pkg, ok := r.packages[target]; ok {
			return pkg, target, true
		}
	}
	// Rule 3: the address itself.
	if pkg, ok := r.packages[addr]; ok {
		return pkg, addr, true
	}
	return nil, types.Address{}, false
}

// MissingDependencies returns the sorted set of lookups that failed.
func (r *Resolver) MissingDependencies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.missing))
	for k := range r.missing {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// VerifyClosure checks that every linkage target of every package resolves,
// recording failures in the missing-dependency set. It never returns a wrong
// module: a dependency either resolves or is reported.
func (r *Resolver) VerifyClosure() []string {
	r.mu.Lock()
	pkgs := make([]*types.Package, 0, len(r.packages))
	for _, p := range r.packages {
		pkgs = append(pkgs, p)
	}
	r.mu.Unlock()

	for _, p := range pkgs {
		for _, entry := range p.Linkage {
			if _, ok := r.Package(entry.Upgraded); !ok {
				r.mu.Lock()
				r.missing[entry.Upgraded.String()] = struct{}{}
				r.mu.Unlock()
			}
		}
	}
	return r.MissingDependencies()
}
