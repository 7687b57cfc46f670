package core

import (
	"fmt"

	"github.com/clydemeng/sui-replay/types"
)

// Reconcile compares local effects against the on-chain record. The report
// is advisory: LocalSuccess stays authoritative regardless of the outcome
// here. slack widens the accepted count delta on mutated and deleted objects
// to absorb dynamic-field children that were hydrated but never touched;
// pass 0 for strict comparison.
func Reconcile(local, onchain *types.TransactionEffectsSummary, slack int) *types.EffectsComparison {
	cmp := &types.EffectsComparison{
		StatusMatch:       local.Success == onchain.Success,
		CreatedCountMatch: len(local.Created) == len(onchain.Created),
		MutatedCountMatch: withinSlack(len(local.Mutated), len(onchain.Mutated), slack),
		DeletedCountMatch: withinSlack(len(local.Deleted), len(onchain.Deleted), slack),
	}

	if !cmp.StatusMatch {
		cmp.Notes = append(cmp.Notes, fmt.Sprintf(
			"status diverged: local success=%v error=%q, on-chain success=%v error=%q",
			local.Success, local.Error, onchain.Success, onchain.Error))
	}
	if !cmp.CreatedCountMatch {
		cmp.Notes = append(cmp.Notes, countNote("created", len(local.Created), len(onchain.Created)))
	}
	if !cmp.MutatedCountMatch {
		cmp.Notes = append(cmp.Notes, countNote("mutated", len(local.Mutated), len(onchain.Mutated)))
	}
	if !cmp.DeletedCountMatch {
		cmp.Notes = append(cmp.Notes, countNote("deleted", len(local.Deleted), len(onchain.Deleted)))
	}
	if cmp.StatusMatch && local.Success {
		cmp.Notes = append(cmp.Notes, gasNotes(local.GasUsed, onchain.GasUsed)...)
	}
	return cmp
}

func withinSlack(local, onchain, slack int) bool {
	delta := local - onchain
	if delta < 0 {
		delta = -delta
	}
	return delta <= slack
}

func countNote(what string, local, onchain int) string {
	return fmt.Sprintf("%s count diverged: local=%d on-chain=%d", what, local, onchain)
}

// gasNotes flags gas drift without failing any match dimension. Gas is
// expected to drift when the local cost table approximates the on-chain one.
func gasNotes(local, onchain types.GasSummary) []string {
	var notes []string
	if onchain.ComputationCost != 0 && local.ComputationCost != onchain.ComputationCost {
		notes = append(notes, fmt.Sprintf("computation cost drift: local=%d on-chain=%d",
			local.ComputationCost, onchain.ComputationCost))
	}
	if onchain.StorageCost != 0 && local.StorageCost != onchain.StorageCost {
		notes = append(notes, fmt.Sprintf("storage cost drift: local=%d on-chain=%d",
			local.StorageCost, onchain.StorageCost))
	}
	return notes
}
