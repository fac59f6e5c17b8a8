package coordinator

import (
	"sort"

	"github.com/decred/ecashgwd/ecash"
)

// SelectForSpend implements the Ledger Store's select_for_spend primitive
// (§4.3): a greedy walk over unspent entries in insertion order, returning
// the smallest prefix of entries whose total covers amount.
func SelectForSpend(entries []ecash.LedgerEntry, amount uint64) (selected []ecash.LedgerEntry, total uint64, changeAmount uint64, err error) {
	ordered := make([]ecash.LedgerEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	for _, e := range ordered {
		if total >= amount {
			break
		}
		selected = append(selected, e)
		total += e.TotalAmount
	}

	if total < amount {
		return nil, 0, 0, ecash.New(ecash.KindState, ecash.CodeInsufficientFunds,
			"insufficient unspent proofs to cover amount", nil)
	}

	return selected, total, total - amount, nil
}

// ProofsOf flattens the proofs carried by entries, the candidate set a
// coordinator hands to the mint for a swap or melt.
func ProofsOf(entries []ecash.LedgerEntry) []ecash.Proof {
	var out []ecash.Proof
	for _, e := range entries {
		out = append(out, e.Proofs...)
	}
	return out
}

// EntryIDs returns the IDs of entries, used to mark source entries spent.
func EntryIDs(entries []ecash.LedgerEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
