package core

import (
	"bytes"
	"context"
	"testing"

	"github.com/clydemeng/sui-replay/provider"
	"github.com/clydemeng/sui-replay/transport"
	"github.com/clydemeng/sui-replay/types"
)

// progressionCheckpoint builds a checkpoint with two transactions. The first
// doubles coin X's balance (version 5 to 6); the second splits more than the
// original balance out of X, so it only succeeds if the first transaction's
// outputs were applied before it ran.
func progressionCheckpoint(sender, recipient types.Address) *types.Checkpoint {
	coinX := addr(0x50)
	gas1 := addr(0x51)
	gas2 := addr(0x52)

	t1 := &types.Transaction{
		Digest:     "batch-t1",
		Sender:     sender,
		GasBudget:  5_000_000,
		GasPrice:   1_000,
		GasPayment: []types.ObjectKey{{ID: gas1, Version: 1}},
		Inputs:     []types.PtbInput{types.OwnedObjectInput(coinX, 5, "")},
		Commands: []types.PtbCommand{
			types.MoveCallCmd(types.SuiFrameworkAddress, "coin", "value", nil, types.InputArg(0)),
		},
	}
	t2 := &types.Transaction{
		Digest:     "batch-t2",
		Sender:     sender,
		GasBudget:  5_000_000,
		GasPrice:   1_000,
		GasPayment: []types.ObjectKey{{ID: gas2, Version: 1}},
		Inputs: []types.PtbInput{
			types.OwnedObjectInput(coinX, 6, ""),
			types.PureInput(u64le(1_500_000_000)),
			types.PureInput(recipientBytes(recipient)),
		},
		Commands: []types.PtbCommand{
			types.SplitCoinsCmd(types.InputArg(0), types.InputArg(1)),
			types.TransferObjectsCmd([]types.Argument{types.NestedArg(0, 0)}, types.InputArg(2)),
		},
	}

	return &types.Checkpoint{
		Sequence:    9_000,
		Epoch:       500,
		TimestampMS: 1_700_000_000_000,
		Transactions: []types.CheckpointTransaction{
			{
				Transaction: t1,
				InputObjects: []*types.VersionedObject{
					coinObject(coinX, 5, 1_000_000_000, sender),
					coinObject(gas1, 1, 10_000_000_000, sender),
				},
				OutputObjects: []*types.VersionedObject{
					coinObject(coinX, 6, 2_000_000_000, sender),
					coinObject(gas1, 6, 9_999_000_000, sender),
				},
				Packages: []*types.Package{frameworkPackage()},
			},
			{
				Transaction: t2,
				InputObjects: []*types.VersionedObject{
					coinObject(gas2, 1, 10_000_000_000, sender),
				},
			},
		},
	}
}

func TestBatchIntraCheckpointProgression(t *testing.T) {
	sender := addr(0xAA)
	client := transport.NewMemClient("mem")
	client.PutCheckpoint(progressionCheckpoint(sender, addr(0xBB)))

	exec := NewExecutor(nil, WithCostTableVersion(1))
	engine := NewBatchEngine(exec, client)

	summary, err := engine.Run(context.Background(), BatchOptions{
		From: 9_000, To: 9_000,
		DigestFilter:    map[string]bool{"batch-t2": true},
		Policy:          provider.DefaultPolicy(),
		ProtocolVersion: 70,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 2 {
		t.Fatalf("total = %d, want 2", summary.Total)
	}
	if summary.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1 (filtered-out t1)", summary.Skipped)
	}
	if summary.Replayed != 1 {
		t.Fatalf("replayed = %d, want 1", summary.Replayed)
	}
	if summary.Failed != 0 {
		t.Fatalf("failed = %d, samples %+v", summary.Failed, summary.FailureSamples)
	}
	if summary.Succeeded != 1 {
		t.Fatal("t2 did not succeed: progression must apply t1's outputs even when t1 is filtered out")
	}
}

func TestBatchWithoutFilterReplaysEverything(t *testing.T) {
	sender := addr(0xAA)
	client := transport.NewMemClient("mem")
	client.PutCheckpoint(progressionCheckpoint(sender, addr(0xBB)))

	exec := NewExecutor(nil, WithCostTableVersion(1))
	engine := NewBatchEngine(exec, client)

	summary, err := engine.Run(context.Background(), BatchOptions{
		From: 9_000, To: 9_000,
		Policy:          provider.DefaultPolicy(),
		ProtocolVersion: 70,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Replayed != 2 {
		t.Fatalf("replayed = %d, want 2", summary.Replayed)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("succeeded = %d, failures %+v", summary.Succeeded, summary.FailureSamples)
	}
	if summary.PerTag[TagFrameworkOnly] != 2 {
		t.Fatalf("per-tag = %v", summary.PerTag)
	}
	if len(summary.SuccessSamples) != 2 {
		t.Fatalf("success samples = %d, want 2", len(summary.SuccessSamples))
	}
}

func TestBatchCancellation(t *testing.T) {
	sender := addr(0xAA)
	client := transport.NewMemClient("mem")
	client.PutCheckpoint(progressionCheckpoint(sender, addr(0xBB)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(nil, WithCostTableVersion(1))
	engine := NewBatchEngine(exec, client)
	_, err := engine.Run(ctx, BatchOptions{From: 9_000, To: 9_000, Policy: provider.DefaultPolicy()})
	if err == nil {
		t.Fatal("cancelled run returned no error")
	}
}

func TestBatchEmptyRange(t *testing.T) {
	exec := NewExecutor(nil, WithCostTableVersion(1))
	engine := NewBatchEngine(exec, transport.NewMemClient("mem"))
	if _, err := engine.Run(context.Background(), BatchOptions{From: 5, To: 4}); err == nil {
		t.Fatal("inverted range accepted")
	}
}

func TestBatchSummaryTable(t *testing.T) {
	s := &BatchSummary{
		Checkpoints: 1,
		Total:       2,
		Replayed:    2,
		Succeeded:   1,
		Failed:      1,
		PerTag:      map[string]int{TagFrameworkOnly: 2},
		PerCategory: map[string]int{CatInsufficientGas: 1},
		FailureSamples: []Sample{
			{Digest: "d1", Category: CatInsufficientGas, Tags: []string{TagFrameworkOnly}},
		},
	}
	var buf bytes.Buffer
	s.RenderTable(&buf)
	out := buf.String()
	for _, want := range []string{"replayed", TagFrameworkOnly, CatInsufficientGas, "d1"} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("summary table missing %q:\n%s", want, out)
		}
	}
}
