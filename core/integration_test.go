package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clydemeng/sui-replay/cache"
	"github.com/clydemeng/sui-replay/provider"
	"github.com/clydemeng/sui-replay/transport"
	"github.com/clydemeng/sui-replay/types"
)

// TestReplayThroughProvider exercises the whole chain: transport hydration
// through the provider, cache population, harness execution and
// reconciliation, then a second replay that must be served from the cache.
func TestReplayThroughProvider(t *testing.T) {
	sender := addr(0xAA)
	recipient := addr(0xBB)
	gasID := addr(0x10)
	coinID := addr(0x11)
	ts := uint64(1_700_000_000_000)

	tx := &types.Transaction{
		Digest:      "e2e-transfer",
		Sender:      sender,
		GasBudget:   5_000_000,
		GasPrice:    1_000,
		GasPayment:  []types.ObjectKey{{ID: gasID, Version: 4}},
		TimestampMS: &ts,
		Inputs: []types.PtbInput{
			types.OwnedObjectInput(coinID, 4, ""),
			types.PureInput(u64le(1_000_000_000)),
			types.PureInput(recipientBytes(recipient)),
		},
		Commands: []types.PtbCommand{
			types.SplitCoinsCmd(types.InputArg(0), types.InputArg(1)),
			types.TransferObjectsCmd([]types.Argument{types.NestedArg(0, 0)}, types.InputArg(2)),
		},
		OnChainEffects: &types.TransactionEffectsSummary{
			Success: true,
			Created: []types.ObjectKey{{ID: addr(0xC1), Version: 5}},
			Mutated: []types.ObjectKey{{ID: coinID, Version: 5}, {ID: gasID, Version: 5}},
		},
	}

	mem := transport.NewMemClient("mem")
	mem.PutTransaction(tx)
	mem.PutObject(coinObject(gasID, 4, 10_000_000_000, sender))
	mem.PutObject(coinObject(coinID, 4, 10_000_000_000, sender))

	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	p := provider.New(mem, store)
	exec := NewExecutor(p, WithCostTableVersion(1))

	out, err := exec.Replay(context.Background(), "e2e-transfer", provider.DefaultPolicy(), ReconcileStrict)
	require.NoError(t, err)
	require.True(t, out.LocalSuccess, "local error: %s", out.LocalError)
	require.Equal(t, 2, out.CommandsExecuted)
	require.NotNil(t, out.Comparison)
	require.True(t, out.Comparison.Match(), "comparison: %+v", out.Comparison)
	require.False(t, out.ExecutionPath.FallbackUsed)
	require.NotNil(t, out.Sparse)
	require.True(t, out.Sparse.Clean(), "sparse report not clean: %+v", out.Sparse)

	objectCalls := mem.Calls("FetchObject")
	out2, err := exec.Replay(context.Background(), "e2e-transfer", provider.DefaultPolicy(), ReconcileStrict)
	require.NoError(t, err)
	require.True(t, out2.LocalSuccess)
	require.Equal(t, objectCalls, mem.Calls("FetchObject"), "second hydration must come from the cache")
	require.GreaterOrEqual(t, out2.Sparse.ObjectsCached, 2)
}
