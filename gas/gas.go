// Package gas charges PTB execution the way effects report it: raw
// computation units are rounded up into protocol buckets, storage is charged
// per byte with a rebate for bytes released. The tables are opaque data
// selected by cost table version.
package gas

import (
	"github.com/clydemeng/sui-replay/types"
)

// CostTable is one protocol cost schedule.
type CostTable struct {
	Version uint64

	// Per-command base computation units.
	MoveCallCost        uint64
	TransferCost        uint64
	SplitCost           uint64
	MergeCost           uint64
	MakeVecCost         uint64
	PublishCost         uint64
	UpgradeCost         uint64
	PerInputCost        uint64
	PerTypeArgCost      uint64
	PerModuleByteCost   uint64 // publish/upgrade, per 100 bytes

	// Storage pricing, in units per byte.
	StorageBytePrice uint64
	// RebatePermille of previously-paid storage returned when bytes are
	// released; the remainder is the non-refundable fee.
	RebatePermille uint64

	// Computation buckets, ascending; raw units round up to the smallest
	// bucket that holds them and cap at MaxBucket.
	Buckets   []uint64
	MaxBucket uint64
}

var tableV1 = CostTable{
	Version:           1,
	MoveCallCost:      1_000,
	TransferCost:      500,
	SplitCost:         500,
	MergeCost:         500,
	MakeVecCost:       300,
	PublishCost:       10_000,
	UpgradeCost:       10_000,
	PerInputCost:      50,
	PerTypeArgCost:    100,
	PerModuleByteCost: 2,
	StorageBytePrice:  76,
	RebatePermille:    990,
	Buckets:           []uint64{1_000, 5_000, 10_000, 20_000, 50_000, 200_000},
	MaxBucket:         5_000_000,
}

// TableForVersion selects the cost schedule for a cost table version.
// Unknown versions fall back to the newest schedule.
func TableForVersion(version uint64) *CostTable {
	t := tableV1
	t.Version = version
	return &t
}

// Bucketize rounds raw computation units up to the protocol bucket.
func (t *CostTable) Bucketize(raw uint64) uint64 {
	for _, b := range t.Buckets {
		if raw <= b {
			return b
		}
	}
	return t.MaxBucket
}

// CommandCost returns the base computation units for a command.
func (t *CostTable) CommandCost(cmd *types.PtbCommand) uint64 {
	switch cmd.Kind {
	case types.CommandMoveCall:
		return t.MoveCallCost + uint64(len(cmd.Args))*t.PerInputCost + uint64(len(cmd.TypeArgs))*t.PerTypeArgCost
	case types.CommandTransferObjects:
		return t.TransferCost + uint64(len(cmd.Objects))*t.PerInputCost
	case types.CommandSplitCoins:
		return t.SplitCost + uint64(len(cmd.Amounts))*t.PerInputCost
	case types.CommandMergeCoins:
		return t.MergeCost + uint64(len(cmd.Sources))*t.PerInputCost
	case types.CommandMakeMoveVec:
		return t.MakeVecCost + uint64(len(cmd.Elems))*t.PerInputCost
	case types.CommandPublish, types.CommandUpgrade:
		base := t.PublishCost
		if cmd.Kind == types.CommandUpgrade {
			base = t.UpgradeCost
		}
		var bytes uint64
		for _, m := range cmd.ModuleBytes {
			bytes += uint64(len(m))
		}
		return base + bytes/100*t.PerModuleByteCost
	}
	return 0
}

// Meter accumulates charges across one PTB execution.
type Meter struct {
	table    *CostTable
	gasPrice uint64
	refPrice uint64

	rawComputation uint64
	storageBytes   uint64
	releasedBytes  uint64
}

// NewMeter builds a meter priced at gasPrice with the reference gas price as
// the floor.
func NewMeter(table *CostTable, gasPrice, referenceGasPrice uint64) *Meter {
	if gasPrice < referenceGasPrice {
		gasPrice = referenceGasPrice
	}
	return &Meter{table: table, gasPrice: gasPrice, refPrice: referenceGasPrice}
}

// ChargeCommand adds a command's base computation units.
func (m *Meter) ChargeCommand(cmd *types.PtbCommand) {
	m.rawComputation += m.table.CommandCost(cmd)
}

// ChargeComputation adds raw computation units directly (native handlers).
func (m *Meter) ChargeComputation(units uint64) {
	m.rawComputation += units
}

// ChargeStorage records bytes newly stored (created or rewritten objects).
func (m *Meter) ChargeStorage(bytes int) {
	m.storageBytes += uint64(bytes)
}

// ReleaseStorage records bytes released (deleted objects, pre-images of
// mutated objects).
func (m *Meter) ReleaseStorage(bytes int) {
	m.releasedBytes += uint64(bytes)
}

// RawComputation exposes the unbucketized unit count.
func (m *Meter) RawComputation() uint64 { return m.rawComputation }

// Summary prices the accumulated charges into the effects gas breakdown,
// reporting computation both pre- and post-bucketization.
func (m *Meter) Summary() types.GasSummary {
	bucketed := m.table.Bucketize(m.rawComputation)
	storage := m.storageBytes * m.table.StorageBytePrice * m.gasPrice
	releasedPaid := m.releasedBytes * m.table.StorageBytePrice * m.gasPrice
	rebate := releasedPaid * m.table.RebatePermille / 1000
	return types.GasSummary{
		ComputationCost:                    bucketed * m.gasPrice,
		ComputationCostBeforeBucketization: m.rawComputation * m.gasPrice,
		StorageCost:                        storage,
		StorageRebate:                      rebate,
		NonRefundableStorageFee:            releasedPaid - rebate,
	}
}
