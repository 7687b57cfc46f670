package types

import "fmt"

// Module is a single named unit of compiled Move bytecode within a package.
type Module struct {
	Name     string `json:"name"`
	Bytecode []byte `json:"bytecode"`
}

// LinkageEntry rewrites one dependency: code compiled against Original must
// link against the bytecode published at Upgraded.
type LinkageEntry struct {
	Original        Address `json:"original"`
	Upgraded        Address `json:"upgraded"`
	UpgradedVersion uint64  `json:"upgraded_version"`
}

// Package is an on-chain Move package at one storage address. Across
// upgrades a package keeps a stable runtime identity (the address of the
// first publish) while each version's bytecode lives at its own storage
// address.
type Package struct {
	Address    Address        `json:"address"`
	Version    uint64         `json:"version"`
	OriginalID *Address       `json:"original_id,omitempty"`
	Modules    []Module       `json:"modules"`
	Linkage    []LinkageEntry `json:"linkage,omitempty"`
}

// RuntimeID returns the package's stable logical identity: the original id
// when the package has been upgraded, its own address otherwise.
func (p *Package) RuntimeID() Address {
	if p.OriginalID != nil {
		return *p.OriginalID
	}
	return p.Address
}

// IsUpgraded reports whether the storage address differs from the runtime id.
func (p *Package) IsUpgraded() bool {
	return p.OriginalID != nil && *p.OriginalID != p.Address
}

// Module returns the named module, or nil if absent.
func (p *Package) Module(name string) *Module {
	for i := range p.Modules {
		if p.Modules[i].Name == name {
			return &p.Modules[i]
		}
	}
	return nil
}

// LinkageFor resolves a dependency's original address through the linkage
// table. The second return reports whether an entry exists.
func (p *Package) LinkageFor(original Address) (Address, bool) {
	for _, e := range p.Linkage {
		if e.Original == original {
			return e.Upgraded, true
		}
	}
	return Address{}, false
}

// Validate enforces the structural invariants every stored package must hold.
func (p *Package) Validate() error {
	if len(p.Modules) == 0 {
		return fmt.Errorf("package %s: no modules", p.Address)
	}
	for _, m := range p.Modules {
		if m.Name == "" {
			return fmt.Errorf("package %s: unnamed module", p.Address)
		}
		if len(m.Bytecode) == 0 {
			return fmt.Errorf("package %s: module %s has empty bytecode", p.Address, m.Name)
		}
	}
	return nil
}

// Clone deep-copies the package.
func (p *Package) Clone() *Package {
	cp := *p
	cp.Modules = make([]Module, len(p.Modules))
	for i, m := range p.Modules {
		cp.Modules[i] = Module{Name: m.Name, Bytecode: append([]byte(nil), m.Bytecode...)}
	}
	cp.Linkage = append([]LinkageEntry(nil), p.Linkage...)
	if p.OriginalID != nil {
		orig := *p.OriginalID
		cp.OriginalID = &orig
	}
	return &cp
}
