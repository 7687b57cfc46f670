package provider

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/clydemeng/sui-replay/cache"
	"github.com/clydemeng/sui-replay/config"
	"github.com/clydemeng/sui-replay/transport"
	"github.com/clydemeng/sui-replay/types"
)

func u64p(v uint64) *uint64 { return &v }

func addr(b byte) types.Address {
	var a types.Address
	a[types.AddressLength-1] = b
	return a
}

func ownedObject(id types.Address, version uint64, balance uint64) *types.VersionedObject {
	bcs, _ := types.EncodeCoin(id, balance)
	owner := types.AddressOwner(addr(0xAA))
	return &types.VersionedObject{
		ID:      id,
		Version: version,
		TypeTag: types.SuiCoinType,
		BCS:     bcs,
		Owner:   &owner,
	}
}

func testProvider(t *testing.T, client transport.Client) *Provider {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	return New(client, store)
}

func simpleTx(digest string, inputs []types.PtbInput, commands []types.PtbCommand) *types.Transaction {
	return &types.Transaction{
		Digest:      digest,
		Sender:      addr(0xAA),
		GasBudget:   5_000_000,
		GasPrice:    1_000,
		Inputs:      inputs,
		Commands:    commands,
		TimestampMS: u64p(1_700_000_000_000),
	}
}

func TestFetchReplayStateHappyPath(t *testing.T) {
	mem := transport.NewMemClient("mem")
	coin := addr(0x11)
	mem.PutObject(ownedObject(coin, 3, 10_000))

	pkg := &types.Package{
		Address: addr(0x2C),
		Version: 1,
		Modules: []types.Module{{Name: "pool", Bytecode: []byte{0x01}}},
	}
	mem.PutPackage(pkg)

	tx := simpleTx("D1",
		[]types.PtbInput{types.OwnedObjectInput(coin, 3, "dg")},
		[]types.PtbCommand{types.MoveCallCmd(pkg.Address, "pool", "touch", nil, types.InputArg(0))},
	)
	mem.PutTransaction(tx)

	p := testProvider(t, mem)
	state, report, err := p.FetchReplayState(context.Background(), "D1", DefaultPolicy())
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if _, ok := state.Objects[coin]; !ok {
		t.Fatal("coin object not hydrated")
	}
	if _, ok := state.Packages[pkg.Address]; !ok {
		t.Fatal("package not hydrated")
	}
	if report.ObjectsTotal != 1 || report.ObjectsGRPC != 1 || report.PackagesGRPC != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !report.Clean() {
		t.Fatal("fully historical hydration must be clean")
	}

	// Second hydration must be served from cache.
	before := mem.Calls("FetchObject")
	_, report2, err := p.FetchReplayState(context.Background(), "D1", DefaultPolicy())
	if err != nil {
		t.Fatalf("second FetchReplayState: %v", err)
	}
	if report2.ObjectsCached != 1 || report2.PackagesCached != 1 {
		t.Fatalf("second report = %+v", report2)
	}
	if mem.Calls("FetchObject") != before {
		t.Fatal("cached object refetched from transport")
	}
}

func TestRequireHistoricalFailsOnMissingObject(t *testing.T) {
	mem := transport.NewMemClient("mem")
	coin := addr(0x11)
	tx := simpleTx("D2", []types.PtbInput{types.OwnedObjectInput(coin, 3, "dg")}, nil)
	mem.PutTransaction(tx)

	p := testProvider(t, mem)
	_, report, err := p.FetchReplayState(context.Background(), "D2", DefaultPolicy())
	if err == nil {
		t.Fatal("expected hard failure under require_historical")
	}
	if types.KindOf(err) != types.KindMissingObject {
		t.Fatalf("error kind = %s, want MissingObject", types.KindOf(err))
	}
	if report.ObjectsMissing != 1 {
		t.Fatalf("objects_missing = %d", report.ObjectsMissing)
	}
}

func TestGraphqlCurrentFallback(t *testing.T) {
	hist := transport.NewMemClient("hist")
	latest := transport.NewMemClient("latest")
	coin := addr(0x11)
	latest.PutObject(ownedObject(coin, 5, 10_000))

	tx := simpleTx("D3", []types.PtbInput{types.OwnedObjectInput(coin, 3, "dg")}, nil)
	tx.OnChainEffects = &types.TransactionEffectsSummary{
		Success: true,
		Mutated: []types.ObjectKey{{ID: coin, Version: 10}},
	}
	hist.PutTransaction(tx)

	p := testProvider(t, &transport.Tiered{Historical: hist, Latest: latest})
	policy := DefaultPolicy()
	policy.Fallback = AllowGraphqlCurrent

	state, report, err := p.FetchReplayState(context.Background(), "D3", policy)
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	obj, ok := state.Objects[coin]
	if !ok {
		t.Fatal("fallback object not hydrated")
	}
	if obj.Version != 5 {
		t.Fatalf("fallback version = %d, want current 5", obj.Version)
	}
	if report.ObjectsGraphqlFallback != 1 {
		t.Fatalf("objects_graphql_fallback = %d", report.ObjectsGraphqlFallback)
	}
	if report.Clean() {
		t.Fatal("fallback use must mark the report dirty")
	}
}

func TestGraphqlCurrentRejectedAboveMaxVersion(t *testing.T) {
	hist := transport.NewMemClient("hist")
	latest := transport.NewMemClient("latest")
	coin := addr(0x11)
	// Current state is newer than the replay's output lamport version.
	latest.PutObject(ownedObject(coin, 20, 10_000))

	tx := simpleTx("D4", []types.PtbInput{types.OwnedObjectInput(coin, 3, "dg")}, nil)
	tx.OnChainEffects = &types.TransactionEffectsSummary{
		Success: true,
		Mutated: []types.ObjectKey{{ID: coin, Version: 10}},
	}
	hist.PutTransaction(tx)

	p := testProvider(t, &transport.Tiered{Historical: hist, Latest: latest})
	policy := DefaultPolicy()
	policy.Fallback = AllowGraphqlCurrent

	state, report, err := p.FetchReplayState(context.Background(), "D4", policy)
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if _, ok := state.Objects[coin]; ok {
		t.Fatal("inadmissible current version must not be substituted")
	}
	if report.ObjectsMissing != 1 || report.ObjectsGraphqlFallback != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestGraphqlCurrentRejectedBelowRequestedVersion(t *testing.T) {
	hist := transport.NewMemClient("hist")
	latest := transport.NewMemClient("latest")
	coin := addr(0x11)
	// Current state is older than the version the transaction read. It
	// must not be substituted for the historical one.
	latest.PutObject(ownedObject(coin, 8, 10_000))

	tx := simpleTx("D4b", []types.PtbInput{types.OwnedObjectInput(coin, 10, "dg")}, nil)
	tx.OnChainEffects = &types.TransactionEffectsSummary{
		Success: true,
		Mutated: []types.ObjectKey{{ID: coin, Version: 20}},
	}
	hist.PutTransaction(tx)

	p := testProvider(t, &transport.Tiered{Historical: hist, Latest: latest})
	policy := DefaultPolicy()
	policy.Fallback = AllowGraphqlCurrent

	state, report, err := p.FetchReplayState(context.Background(), "D4b", policy)
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if obj, ok := state.Objects[coin]; ok {
		t.Fatalf("stale current version %d substituted for requested 10", obj.Version)
	}
	if report.ObjectsMissing != 1 || report.ObjectsGraphqlFallback != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestCheckpointLookupThroughLatestTier(t *testing.T) {
	hist := transport.NewMemClient("hist")
	latest := transport.NewMemClient("latest")
	coin := addr(0x11)
	hist.PutObject(ownedObject(coin, 3, 10_000))
	// Only the latest tier indexes the checkpoint.
	latest.PutCheckpoint(&types.Checkpoint{Sequence: 42, Epoch: 900})

	seq := uint64(42)
	tx := simpleTx("D4c", []types.PtbInput{types.OwnedObjectInput(coin, 3, "dg")}, nil)
	tx.Checkpoint = &seq
	hist.PutTransaction(tx)

	// Knob off: the historical miss is tolerated and the epoch stays unset.
	p := testProvider(t, &transport.Tiered{Historical: hist, Latest: latest})
	state, _, err := p.FetchReplayState(context.Background(), "D4c", DefaultPolicy())
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if state.Epoch != 0 {
		t.Fatalf("epoch = %d without the lookup knob", state.Epoch)
	}

	t.Setenv(config.EnvCheckpointLookupGraphQL, "true")
	config.Reload()
	t.Cleanup(func() { config.Reload() })

	state, _, err = p.FetchReplayState(context.Background(), "D4c", DefaultPolicy())
	if err != nil {
		t.Fatalf("FetchReplayState with lookup knob: %v", err)
	}
	if state.Epoch != 900 {
		t.Fatalf("epoch = %d, want 900 from the latest tier", state.Epoch)
	}
}

func TestSynthesizeClock(t *testing.T) {
	mem := transport.NewMemClient("mem")
	tx := simpleTx("D5", []types.PtbInput{types.SharedObjectInput(types.ClockObjectID, 1, false)}, nil)
	mem.PutTransaction(tx)

	p := testProvider(t, mem)
	policy := DefaultPolicy()
	policy.Fallback = SynthesizeMissing

	state, report, err := p.FetchReplayState(context.Background(), "D5", policy)
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	clock, ok := state.Objects[types.ClockObjectID]
	if !ok {
		t.Fatal("clock not synthesized")
	}
	ts := binary.LittleEndian.Uint64(clock.BCS[types.AddressLength:])
	if ts != *tx.TimestampMS {
		t.Fatalf("synthesized clock timestamp = %d, want %d", ts, *tx.TimestampMS)
	}
	if report.ObjectsIncomplete != 1 {
		t.Fatalf("objects_incomplete = %d", report.ObjectsIncomplete)
	}
}

func TestSynthesizeMissingWithoutRegistryEntryRecordsMissing(t *testing.T) {
	mem := transport.NewMemClient("mem")
	coin := addr(0x11)
	tx := simpleTx("D6", []types.PtbInput{types.OwnedObjectInput(coin, 3, "dg")}, nil)
	mem.PutTransaction(tx)

	p := testProvider(t, mem)
	policy := DefaultPolicy()
	policy.Fallback = SynthesizeMissing

	state, report, err := p.FetchReplayState(context.Background(), "D6", policy)
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if _, ok := state.Objects[coin]; ok {
		t.Fatal("no synthesizer registered, object must stay missing")
	}
	if report.ObjectsMissing != 1 {
		t.Fatalf("objects_missing = %d", report.ObjectsMissing)
	}
}

func TestPrefetchDynamicFields(t *testing.T) {
	mem := transport.NewMemClient("mem")
	parent := addr(0x11)
	childA, childB, childC := addr(0xA1), addr(0xA2), addr(0xA3)
	mem.PutObject(ownedObject(parent, 3, 10_000))
	mem.PutObject(ownedObject(childA, 2, 1))
	mem.PutObject(ownedObject(childB, 2, 2))
	mem.PutObject(ownedObject(childC, 2, 3))
	mem.SetDynamicFields(parent, []types.Address{childA, childB, childC})

	tx := simpleTx("D7", []types.PtbInput{types.OwnedObjectInput(parent, 3, "dg")}, nil)
	mem.PutTransaction(tx)

	p := testProvider(t, mem)
	policy := DefaultPolicy()
	policy.Prefetch = &PrefetchPolicy{Depth: 1, Limit: 2}

	state, report, err := p.FetchReplayState(context.Background(), "D7", policy)
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if report.DynamicFieldsDiscovered != 2 || report.DynamicFieldsFetched != 2 {
		t.Fatalf("prefetch report = %+v", report)
	}
	if _, ok := state.Objects[childA]; !ok {
		t.Fatal("first child within limit not prefetched")
	}
	if _, ok := state.Objects[childC]; ok {
		t.Fatal("fan-out limit exceeded")
	}
}

func TestPrefetchDepthBound(t *testing.T) {
	mem := transport.NewMemClient("mem")
	parent, child, grandchild := addr(0x11), addr(0xA1), addr(0xB1)
	mem.PutObject(ownedObject(parent, 3, 10_000))
	mem.PutObject(ownedObject(child, 2, 1))
	mem.PutObject(ownedObject(grandchild, 2, 1))
	mem.SetDynamicFields(parent, []types.Address{child})
	mem.SetDynamicFields(child, []types.Address{grandchild})

	tx := simpleTx("D8", []types.PtbInput{types.OwnedObjectInput(parent, 3, "dg")}, nil)
	mem.PutTransaction(tx)

	p := testProvider(t, mem)
	policy := DefaultPolicy()
	policy.Prefetch = &PrefetchPolicy{Depth: 1, Limit: 16}

	state, _, err := p.FetchReplayState(context.Background(), "D8", policy)
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if _, ok := state.Objects[child]; !ok {
		t.Fatal("ply-1 child not prefetched")
	}
	if _, ok := state.Objects[grandchild]; ok {
		t.Fatal("depth bound exceeded")
	}
}

func TestPrefetchStrictCheckpointBlocksLatestTier(t *testing.T) {
	hist := transport.NewMemClient("hist")
	latest := transport.NewMemClient("latest")
	parent, child := addr(0x11), addr(0xA1)
	hist.PutObject(ownedObject(parent, 3, 10_000))
	hist.SetDynamicFields(parent, []types.Address{child})
	// The child survives only on the latest tier.
	latest.PutObject(ownedObject(child, 2, 1))

	tx := simpleTx("D9", []types.PtbInput{types.OwnedObjectInput(parent, 3, "dg")}, nil)
	tx.OnChainEffects = &types.TransactionEffectsSummary{
		Success: true,
		Mutated: []types.ObjectKey{{ID: parent, Version: 10}},
	}
	hist.PutTransaction(tx)

	client := &transport.Tiered{Historical: hist, Latest: latest}

	policy := DefaultPolicy()
	policy.Prefetch = &PrefetchPolicy{Depth: 1, Limit: 16, StrictCheckpoint: true, AllowGraphqlFallback: true}
	p := testProvider(t, client)
	state, report, err := p.FetchReplayState(context.Background(), "D9", policy)
	if err != nil {
		t.Fatalf("strict FetchReplayState: %v", err)
	}
	if _, ok := state.Objects[child]; ok {
		t.Fatal("strict checkpoint must not reach the latest tier")
	}
	if report.DynamicFieldsFailed != 1 {
		t.Fatalf("dynamic_fields_failed = %d", report.DynamicFieldsFailed)
	}

	policy.Prefetch.StrictCheckpoint = false
	p2 := testProvider(t, client)
	state2, report2, err := p2.FetchReplayState(context.Background(), "D9", policy)
	if err != nil {
		t.Fatalf("relaxed FetchReplayState: %v", err)
	}
	if _, ok := state2.Objects[child]; !ok {
		t.Fatal("relaxed prefetch must use the guarded latest tier")
	}
	if report2.DynamicFieldsFetched != 1 {
		t.Fatalf("dynamic_fields_fetched = %d", report2.DynamicFieldsFetched)
	}
}

func TestPackageUpgradeClosure(t *testing.T) {
	mem := transport.NewMemClient("mem")
	original := addr(0x2C)
	upgraded := addr(0x9A)

	mem.PutPackage(&types.Package{
		Address: original,
		Version: 1,
		Modules: []types.Module{{Name: "pool", Bytecode: []byte{0x01}}},
	})
	mem.PutPackage(&types.Package{
		Address:    upgraded,
		Version:    2,
		OriginalID: &original,
		Modules:    []types.Module{{Name: "pool", Bytecode: []byte{0x02}}},
		Linkage:    []types.LinkageEntry{{Original: original, Upgraded: upgraded, UpgradedVersion: 2}},
	})

	tx := simpleTx("DA", nil, []types.PtbCommand{
		types.MoveCallCmd(upgraded, "pool", "touch", nil),
	})
	mem.PutTransaction(tx)

	p := testProvider(t, mem)
	state, _, err := p.FetchReplayState(context.Background(), "DA", DefaultPolicy())
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if _, ok := state.Packages[upgraded]; !ok {
		t.Fatal("storage identity missing")
	}
	if _, ok := state.Packages[original]; !ok {
		t.Fatal("runtime identity missing: upgrade history not reconciled")
	}
}

func TestPackageClosurePinnedCheckpointExcludesLaterUpgrades(t *testing.T) {
	mem := transport.NewMemClient("mem")
	original := addr(0x2C)
	later := addr(0xAB)

	mem.PutPackage(&types.Package{
		Address: original,
		Version: 1,
		Modules: []types.Module{{Name: "pool", Bytecode: []byte{0x01}}},
	})
	// Upgrade published after the replayed checkpoint.
	mem.PutPackage(&types.Package{
		Address:    later,
		Version:    3,
		OriginalID: &original,
		Modules:    []types.Module{{Name: "pool", Bytecode: []byte{0x03}}},
	})

	tx := simpleTx("DB", nil, []types.PtbCommand{
		types.MoveCallCmd(original, "pool", "touch", nil),
	})
	tx.Checkpoint = u64p(1_000)
	mem.PutTransaction(tx)

	p := testProvider(t, mem)
	state, _, err := p.FetchReplayState(context.Background(), "DB", DefaultPolicy())
	if err != nil {
		t.Fatalf("FetchReplayState: %v", err)
	}
	if _, ok := state.Packages[later]; ok {
		t.Fatal("later upgrade folded in despite pinned checkpoint")
	}
}

func TestOnDemandResolver(t *testing.T) {
	mem := transport.NewMemClient("mem")
	child := addr(0xA1)
	mem.PutObject(ownedObject(child, 4, 1))

	p := testProvider(t, mem)
	report := &SparseReplayReport{}
	r := p.OnDemandResolver(report, 10, false, false)

	obj, err := r.FetchChild(context.Background(), child)
	if err != nil {
		t.Fatalf("FetchChild: %v", err)
	}
	if obj == nil || obj.Version != 4 {
		t.Fatalf("child = %+v", obj)
	}
	if report.OnDemandAttempted != 1 || report.OnDemandResolved != 1 || report.OnDemandFetched != 1 {
		t.Fatalf("report = %+v", report)
	}

	missing, err := r.FetchChild(context.Background(), addr(0xFF))
	if err != nil {
		t.Fatalf("FetchChild missing: %v", err)
	}
	if missing != nil {
		t.Fatal("unknown child must resolve to nil")
	}
	if report.OnDemandFailed != 1 {
		t.Fatalf("on_demand_failed = %d", report.OnDemandFailed)
	}
}
