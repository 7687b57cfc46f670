package types

// Transaction is the replayable view of an on-chain programmable transaction
// block together with the metadata needed to rebuild its execution context.
type Transaction struct {
	Digest    string  `json:"digest"`
	Sender    Address `json:"sender"`
	GasBudget uint64  `json:"gas_budget"`
	GasPrice  uint64  `json:"gas_price"`

	// GasPayment references the coins charged for gas. The first entry is
	// the coin the GasCoin argument resolves to.
	GasPayment []ObjectKey `json:"gas_payment,omitempty"`

	Inputs   []PtbInput   `json:"inputs"`
	Commands []PtbCommand `json:"commands"`

	OnChainEffects *TransactionEffectsSummary `json:"on_chain_effects,omitempty"`
	Checkpoint     *uint64                    `json:"checkpoint,omitempty"`
	TimestampMS    *uint64                    `json:"timestamp_ms,omitempty"`
}

// InputObjectKeys lists the (id, version) pairs the transaction declares as
// object inputs. For shared inputs the version is the initial shared version,
// a lower bound on the version actually observed.
func (t *Transaction) InputObjectKeys() []ObjectKey {
	keys := make([]ObjectKey, 0, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.IsObject() {
			keys = append(keys, ObjectKey{ID: in.ID, Version: in.Version})
		}
	}
	return keys
}

// MoveCallPackages lists the distinct package addresses referenced by
// MoveCall commands, in first-appearance order.
func (t *Transaction) MoveCallPackages() []Address {
	seen := make(map[Address]struct{})
	var out []Address
	for _, cmd := range t.Commands {
		if cmd.Kind != CommandMoveCall {
			continue
		}
		if _, ok := seen[cmd.Package]; ok {
			continue
		}
		seen[cmd.Package] = struct{}{}
		out = append(out, cmd.Package)
	}
	return out
}

// IsPTB reports whether the transaction carries programmable commands at all.
// System transactions (consensus commits, epoch changes) have none and are
// skipped by the batch engine.
func (t *Transaction) IsPTB() bool {
	return len(t.Commands) > 0
}

// CheckpointTransaction pairs a transaction with the fully-decoded objects it
// read and wrote, as delivered by the checkpoint transport channel.
type CheckpointTransaction struct {
	Transaction   *Transaction       `json:"transaction"`
	InputObjects  []*VersionedObject `json:"input_objects,omitempty"`
	OutputObjects []*VersionedObject `json:"output_objects,omitempty"`
	Packages      []*Package         `json:"packages,omitempty"`
}

// Checkpoint is an ordered batch of transactions finalized together.
type Checkpoint struct {
	Sequence     uint64                  `json:"sequence"`
	Epoch        uint64                  `json:"epoch"`
	TimestampMS  uint64                  `json:"timestamp_ms"`
	Transactions []CheckpointTransaction `json:"transactions"`
}

// ReplayState is the fully-hydrated context for one replay: the transaction,
// every object and package it needs, and the protocol coordinates. Values
// are owned (decoded copies), never borrowed from the cache.
type ReplayState struct {
	Transaction     *Transaction                 `json:"transaction"`
	Objects         map[Address]*VersionedObject `json:"objects"`
	Packages        map[Address]*Package         `json:"packages"`
	ProtocolVersion uint64                       `json:"protocol_version"`
	Epoch           uint64                       `json:"epoch"`
	Checkpoint      *uint64                      `json:"checkpoint,omitempty"`
}

// NewReplayState allocates an empty state for the given transaction.
func NewReplayState(tx *Transaction) *ReplayState {
	return &ReplayState{
		Transaction: tx,
		Objects:     make(map[Address]*VersionedObject),
		Packages:    make(map[Address]*Package),
		Checkpoint:  tx.Checkpoint,
	}
}
