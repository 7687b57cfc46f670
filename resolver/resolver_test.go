package resolver

import (
	"errors"
	"testing"

	"github.com/clydemeng/sui-replay/types"
)

func pkgAt(addr string, version uint64, original string, modules ...string) *types.Package {
	p := &types.Package{Address: types.MustParseAddress(addr), Version: version}
	if original != "" {
		orig := types.MustParseAddress(original)
		p.OriginalID = &orig
	}
	for _, m := range modules {
		p.Modules = append(p.Modules, types.Module{Name: m, Bytecode: []byte{0xca, 0xfe}})
	}
	return p
}

func packageSet(pkgs ...*types.Package) map[types.Address]*types.Package {
	out := make(map[types.Address]*types.Package)
	for _, p := range pkgs {
		out[p.Address] = p
	}
	return out
}

func TestBuildAliasesEmpty(t *testing.T) {
	m := BuildAliases(nil)
	if m.Len() != 0 {
		t.Fatalf("empty package set must produce an empty alias map")
	}
}

func TestBuildAliasesEdges(t *testing.T) {
	pkgs := packageSet(
		pkgAt("0x2c", 1, "", "m"),        // original publish
		pkgAt("0x9a", 2, "0x2c", "m"),    // upgrade
		pkgAt("0x44", 1, "", "solo"),     // never upgraded
	)
	m := BuildAliases(pkgs)

	// Only the upgraded package contributes an edge, and a != b for all.
	if m.Len() != 1 {
		t.Fatalf("edge count = %d, want 1", m.Len())
	}
	for storage, runtime := range m.StorageToRuntime {
		if storage == runtime {
			t.Fatalf("self-alias edge %s", storage)
		}
	}
	if m.RuntimeOf(types.MustParseAddress("0x9a")) != types.MustParseAddress("0x2c") {
		t.Fatalf("runtime of 0x9a wrong")
	}
	if m.StorageOf(types.MustParseAddress("0x2c")) != types.MustParseAddress("0x9a") {
		t.Fatalf("storage of 0x2c wrong")
	}
	// Unaliased addresses map to themselves.
	if m.StorageOf(types.MustParseAddress("0x44")) != types.MustParseAddress("0x44") {
		t.Fatalf("unaliased address must resolve to itself")
	}
	if m.Versions[types.MustParseAddress("0x9a")] != 2 {
		t.Fatalf("version not recorded")
	}
}

func TestLinkageUpgradesPicksNewest(t *testing.T) {
	pkgs := packageSet(
		pkgAt("0x2c", 1, "", "m"),
		pkgAt("0x9a", 2, "0x2c", "m"),
		pkgAt("0xbb", 3, "0x2c", "m"),
	)
	m := BuildAliases(pkgs)
	if got := m.StorageOf(types.MustParseAddress("0x2c")); got != types.MustParseAddress("0xbb") {
		t.Fatalf("newest upgrade not selected: %s", got.Short())
	}
}

func TestRewriteTypeTagIdempotent(t *testing.T) {
	pkgs := packageSet(
		pkgAt("0x2c", 1, "", "m"),
		pkgAt("0x9a", 2, "0x2c", "m"),
	)
	m := BuildAliases(pkgs)

	tag := "0x2c::m::T<0x2c::m::Inner, u64>"
	once := m.RewriteTypeTag(tag)
	twice := m.RewriteTypeTag(once)
	if once != twice {
		t.Fatalf("rewrite not idempotent:\n once %s\ntwice %s", once, twice)
	}
	want := types.MustParseAddress("0x9a").String()
	if got := m.RewriteTypeTag("0x2c::m::T"); got != want+"::m::T" {
		t.Fatalf("rewrite = %s", got)
	}
	// Storage-form tags converge to the same fixed point.
	if m.RewriteTypeTag("0x9a::m::T") != m.RewriteTypeTag("0x2c::m::T") {
		t.Fatalf("storage and runtime forms must converge")
	}
	// Primitive tags pass through.
	if m.RewriteTypeTag("vector<u8>") != "vector<u8>" {
		t.Fatalf("primitive tag mutated")
	}
}

func TestLookupLinkageOverrideWins(t *testing.T) {
	dep := pkgAt("0xdd", 2, "0xcc", "util")
	caller := pkgAt("0xaa", 1, "", "main")
	caller.Linkage = []types.LinkageEntry{
		{Original: types.MustParseAddress("0xcc"), Upgraded: types.MustParseAddress("0xdd"), UpgradedVersion: 2},
	}
	r := New(packageSet(dep, caller), nil)

	m, at, err := r.Lookup(caller, types.MustParseAddress("0xcc"), "util")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m == nil || at != types.MustParseAddress("0xdd") {
		t.Fatalf("linkage override not applied, resolved at %s", at.Short())
	}
}

func TestLookupAliasRedirect(t *testing.T) {
	pkgs := packageSet(pkgAt("0x9a", 2, "0x2c", "m"))
	r := New(pkgs, nil)

	m, at, err := r.Lookup(nil, types.MustParseAddress("0x2c"), "m")
	if err != nil {
		t.Fatalf("lookup via alias: %v", err)
	}
	if m == nil || at != types.MustParseAddress("0x9a") {
		t.Fatalf("alias redirect failed, at %s", at.Short())
	}

	// Looking up the storage address directly also works.
	if _, _, err := r.Lookup(nil, types.MustParseAddress("0x9a"), "m"); err != nil {
		t.Fatalf("direct lookup: %v", err)
	}
}

func TestLookupMissingTracked(t *testing.T) {
	r := New(packageSet(pkgAt("0x11", 1, "", "a")), nil)

	_, _, err := r.Lookup(nil, types.MustParseAddress("0x99"), "ghost")
	var le *types.LinkerError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkerError, got %v", err)
	}
	// Wrong module on an existing package is also a linker error.
	if _, _, err := r.Lookup(nil, types.MustParseAddress("0x11"), "b"); err == nil {
		t.Fatalf("module b must not resolve")
	}
	missing := r.MissingDependencies()
	if len(missing) != 2 {
		t.Fatalf("missing set = %v", missing)
	}
}

func TestVerifyClosure(t *testing.T) {
	caller := pkgAt("0xaa", 1, "", "main")
	caller.Linkage = []types.LinkageEntry{
		{Original: types.MustParseAddress("0xcc"), Upgraded: types.MustParseAddress("0xdd"), UpgradedVersion: 2},
	}
	r := New(packageSet(caller), nil)
	missing := r.VerifyClosure()
	if len(missing) != 1 {
		t.Fatalf("expected one missing dependency, got %v", missing)
	}
}

func TestCloneIsolated(t *testing.T) {
	r := New(packageSet(pkgAt("0x11", 1, "", "a")), nil)
	cp := r.Clone()
	cp.AddPackage(pkgAt("0x22", 1, "", "b"))
	if _, ok := r.Package(types.MustParseAddress("0x22")); ok {
		t.Fatalf("clone leaked into parent")
	}
	if _, ok := cp.Package(types.MustParseAddress("0x22")); !ok {
		t.Fatalf("clone lost its own package")
	}
}
