package gas

import (
	"testing"

	"github.com/clydemeng/sui-replay/types"
)

func TestBucketize(t *testing.T) {
	table := TableForVersion(1)
	cases := []struct {
		raw, want uint64
	}{
		{0, 1_000},
		{1, 1_000},
		{1_000, 1_000},
		{1_001, 5_000},
		{5_000, 5_000},
		{9_999, 10_000},
		{20_001, 50_000},
		{50_001, 200_000},
		{200_001, 5_000_000},
		{4_999_999, 5_000_000},
		{5_000_000, 5_000_000},
		{999_999_999, 5_000_000},
	}
	for _, c := range cases {
		if got := table.Bucketize(c.raw); got != c.want {
			t.Errorf("Bucketize(%d) = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestSummaryReportsPreAndPostBucketization(t *testing.T) {
	table := TableForVersion(1)
	m := NewMeter(table, 1_000, 1_000)
	m.ChargeComputation(1_234)

	s := m.Summary()
	if s.ComputationCostBeforeBucketization != 1_234*1_000 {
		t.Fatalf("pre-bucket cost = %d", s.ComputationCostBeforeBucketization)
	}
	if s.ComputationCost != 5_000*1_000 {
		t.Fatalf("bucketized cost = %d", s.ComputationCost)
	}
	if s.ComputationCost < s.ComputationCostBeforeBucketization {
		t.Fatal("bucketization must never reduce the charged cost")
	}
}

func TestStorageRebateSplit(t *testing.T) {
	table := TableForVersion(1)
	m := NewMeter(table, 1, 1)
	m.ChargeStorage(100)
	m.ReleaseStorage(100)

	s := m.Summary()
	paid := uint64(100) * table.StorageBytePrice
	if s.StorageCost != paid {
		t.Fatalf("storage cost = %d, want %d", s.StorageCost, paid)
	}
	if s.StorageRebate+s.NonRefundableStorageFee != paid {
		t.Fatalf("rebate %d + fee %d != released %d", s.StorageRebate, s.NonRefundableStorageFee, paid)
	}
	if s.StorageRebate != paid*990/1000 {
		t.Fatalf("rebate = %d", s.StorageRebate)
	}
}

func TestGasPriceFloor(t *testing.T) {
	table := TableForVersion(1)
	m := NewMeter(table, 100, 750) // below reference price
	m.ChargeComputation(10)
	if got := m.Summary().ComputationCostBeforeBucketization; got != 10*750 {
		t.Fatalf("pre-bucket cost = %d, want reference-priced %d", got, 10*750)
	}
}

func TestCommandCosts(t *testing.T) {
	table := TableForVersion(1)
	pkg := types.Address{0x2c}
	call := types.MoveCallCmd(pkg, "pool", "swap", []string{"0x2::sui::SUI"}, types.InputArg(0), types.InputArg(1))
	want := table.MoveCallCost + 2*table.PerInputCost + 1*table.PerTypeArgCost
	if got := table.CommandCost(&call); got != want {
		t.Fatalf("move call cost = %d, want %d", got, want)
	}

	split := types.SplitCoinsCmd(types.GasCoinArg(), types.InputArg(0))
	if got := table.CommandCost(&split); got != table.SplitCost+table.PerInputCost {
		t.Fatalf("split cost = %d", got)
	}

	pub := types.PublishCmd([][]byte{make([]byte, 1_000)}, nil)
	if got := table.CommandCost(&pub); got != table.PublishCost+10*table.PerModuleByteCost {
		t.Fatalf("publish cost = %d", got)
	}
}

func TestUnknownVersionFallsBack(t *testing.T) {
	table := TableForVersion(99)
	if table.Version != 99 {
		t.Fatalf("version = %d", table.Version)
	}
	if len(table.Buckets) == 0 || table.MaxBucket != 5_000_000 {
		t.Fatal("fallback table missing bucket schedule")
	}
}
