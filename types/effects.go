package types

// GasSummary breaks the gas charge down the way effects report it.
// ComputationCostBeforeBucketization preserves the raw charge so that cost
// regressions remain visible even when bucketization hides them.
type GasSummary struct {
	ComputationCost                    uint64 `json:"computation_cost"`
	ComputationCostBeforeBucketization uint64 `json:"computation_cost_before_bucketization,omitempty"`
	StorageCost                        uint64 `json:"storage_cost"`
	StorageRebate                      uint64 `json:"storage_rebate"`
	NonRefundableStorageFee            uint64 `json:"non_refundable_storage_fee,omitempty"`
}

// Total is the net amount deducted from the gas coin.
func (g GasSummary) Total() uint64 {
	total := g.ComputationCost + g.StorageCost
	if g.StorageRebate > total {
		return 0
	}
	return total - g.StorageRebate
}

// TransactionEffectsSummary is the compact effects record used both for the
// local execution result and for the on-chain reference carried by
// Transaction.OnChainEffects.
type TransactionEffectsSummary struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	GasUsed GasSummary `json:"gas_used"`

	Created     []ObjectKey `json:"created,omitempty"`
	Mutated     []ObjectKey `json:"mutated,omitempty"`
	Deleted     []ObjectKey `json:"deleted,omitempty"`
	Wrapped     []ObjectKey `json:"wrapped,omitempty"`
	Unwrapped   []ObjectKey `json:"unwrapped,omitempty"`
	Transferred []ObjectKey `json:"transferred,omitempty"`
	Received    []ObjectKey `json:"received,omitempty"`

	EventsCount              int    `json:"events_count"`
	FailedCommandIndex       *int   `json:"failed_command_index,omitempty"`
	FailedCommandDescription string `json:"failed_command_description,omitempty"`
	CommandsSucceeded        int    `json:"commands_succeeded"`
	ReturnValuesLengths      []int  `json:"return_values_lengths,omitempty"`
}

// EffectsComparison is the advisory field-by-field comparison between local
// and on-chain effects. LocalSuccess stays authoritative regardless.
type EffectsComparison struct {
	StatusMatch       bool     `json:"status_match"`
	CreatedCountMatch bool     `json:"created_count_match"`
	MutatedCountMatch bool     `json:"mutated_count_match"`
	DeletedCountMatch bool     `json:"deleted_count_match"`
	Notes             []string `json:"notes,omitempty"`
}

// Match reports whether every compared dimension agreed.
func (c *EffectsComparison) Match() bool {
	return c.StatusMatch && c.CreatedCountMatch && c.MutatedCountMatch && c.DeletedCountMatch
}

// ReplayResult is the verdict of one local execution.
type ReplayResult struct {
	LocalSuccess     bool               `json:"local_success"`
	LocalError       string             `json:"local_error,omitempty"`
	CommandsExecuted int                `json:"commands_executed"`
	Comparison       *EffectsComparison `json:"comparison,omitempty"`
}

// ReplayExecution bundles the result, the full effects summary and the
// post-execution object versions.
type ReplayExecution struct {
	Result         ReplayResult              `json:"result"`
	Effects        TransactionEffectsSummary `json:"effects"`
	ObjectVersions map[string]uint64         `json:"object_versions,omitempty"`
}
