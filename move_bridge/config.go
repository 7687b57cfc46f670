// Package movebridge is the thin owned wrapper around the Move execution
// layer. The bridge implements PTB command semantics natively and dispatches
// MoveCall targets through a capability table, so a replay never depends on
// natives that cannot be simulated off-chain.
package movebridge

import (
	"github.com/pkg/errors"

	"github.com/clydemeng/sui-replay/types"
)

// SimulationConfig fixes the execution context at harness construction.
type SimulationConfig struct {
	ProtocolVersion   uint64
	Epoch             uint64
	Sender            types.Address
	GasBudget         uint64
	GasPrice          uint64
	ReferenceGasPrice uint64
	CostTableVersion  uint64
	TxTimestampMS     uint64
	Checkpoint        *uint64
}

// Validate rejects configurations the bridge cannot execute under.
func (c *SimulationConfig) Validate() error {
	if c.GasPrice == 0 {
		return errors.New("simulation config: zero gas price")
	}
	if c.CostTableVersion == 0 {
		return errors.New("simulation config: cost table version unset")
	}
	return nil
}
