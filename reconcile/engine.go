// Package reconcile implements the Reconciliation Engine (§4.5): the
// pre-flight check that a fund-moving operation's candidate proofs agree
// between the local ledger and the mint's authoritative view.
package reconcile

import (
	"context"
	"fmt"

	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
	"github.com/decred/ecashgwd/mint"
)

// Severity ranks a Discrepancy by how much it calls the operation's
// correctness into question.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// DiscrepancyType names one of the five divergence patterns of §4.5's
// classification table.
type DiscrepancyType string

const (
	TypeDBUnspentMintSpent   DiscrepancyType = "DB_UNSPENT_MINT_SPENT"
	TypeDBPendingMintSpent   DiscrepancyType = "DB_PENDING_MINT_SPENT"
	TypeDBSpentMintUnspent   DiscrepancyType = "DB_SPENT_MINT_UNSPENT"
	TypeProofNotInDB         DiscrepancyType = "PROOF_NOT_IN_DB"
	TypeDBUnspentMintPending DiscrepancyType = "DB_UNSPENT_MINT_PENDING"
)

// Discrepancy is a single divergence found between the ledger's view of a
// proof and the mint oracle's view.
type Discrepancy struct {
	Secret   string
	Local    ecash.EntryStatus
	Oracle   mint.ProofState
	Severity Severity
	Type     DiscrepancyType
}

// Report is the outcome of a pre-flight reconciliation pass.
type Report struct {
	Discrepancies []Discrepancy
	SeverityCounts map[Severity]int
	Consistent    bool
	Blocked       bool
}

// Engine runs pre-flight reconciliation against a Ledger Store and a
// request-scoped mint Oracle Client.
type Engine struct {
	store ledger.Store
}

// New returns an Engine backed by store.
func New(store ledger.Store) *Engine {
	return &Engine{store: store}
}

// PreFlight implements §4.5's algorithm over the given candidate proofs,
// each paired with the ledger entry that currently owns it.
func (e *Engine) PreFlight(ctx context.Context, oracle *mint.OracleClient, entries []ecash.LedgerEntry) (*Report, error) {
	var candidates []ecash.Proof
	entryByProof := make(map[string]ecash.LedgerEntry)
	for _, entry := range entries {
		for _, p := range entry.Proofs {
			candidates = append(candidates, p)
			entryByProof[p.Secret] = entry
		}
	}

	states, err := oracle.CheckProofStates(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("reconcile: checking proof states: %w", err)
	}

	oracleState := make(map[string]mint.ProofState, len(states))
	for _, s := range states {
		oracleState[s.Secret] = s.State
	}

	report := &Report{SeverityCounts: map[Severity]int{}}
	var toMarkSpent []string

	for _, p := range candidates {
		oState, present := oracleState[p.Secret]
		localEntry, known := entryByProof[p.Secret]

		var d *Discrepancy
		switch {
		case !present:
			d = &Discrepancy{Secret: p.Secret, Severity: SeverityLow, Type: TypeProofNotInDB}
		case known && localEntry.Status == ecash.StatusUnspent && oState == mint.ProofSpent:
			d = &Discrepancy{Secret: p.Secret, Local: localEntry.Status, Oracle: oState,
				Severity: SeverityHigh, Type: TypeDBUnspentMintSpent}
		case known && localEntry.Status == ecash.StatusPending && oState == mint.ProofSpent:
			d = &Discrepancy{Secret: p.Secret, Local: localEntry.Status, Oracle: oState,
				Severity: SeverityMedium, Type: TypeDBPendingMintSpent}
		case known && localEntry.Status == ecash.StatusSpent && oState == mint.ProofUnspent:
			d = &Discrepancy{Secret: p.Secret, Local: localEntry.Status, Oracle: oState,
				Severity: SeverityMedium, Type: TypeDBSpentMintUnspent}
		case known && localEntry.Status == ecash.StatusUnspent && oState == mint.ProofPending:
			d = &Discrepancy{Secret: p.Secret, Local: localEntry.Status, Oracle: oState,
				Severity: SeverityLow, Type: TypeDBUnspentMintPending}
		default:
			continue
		}

		report.Discrepancies = append(report.Discrepancies, *d)
		report.SeverityCounts[d.Severity]++

		if d.Type == TypeDBUnspentMintSpent || d.Type == TypeDBPendingMintSpent {
			toMarkSpent = append(toMarkSpent, localEntry.ID)
		}
	}

	report.Consistent = len(report.Discrepancies) == 0

	if report.SeverityCounts[SeverityHigh] > 0 {
		// Correct the ledger even though the operation will still be
		// blocked: funds are ambiguous, not safe to spend, but the
		// local view should not keep claiming them as unspent.
		for _, id := range toMarkSpent {
			if err := e.store.CommitTransition(ctx, id, ecash.StatusSpent, nil); err != nil {
				log.Warnf("reconcile: failed to correct entry %s after HIGH discrepancy: %v", id, err)
			}
		}
		report.Blocked = true
		return report, nil
	}

	for _, id := range toMarkSpent {
		if err := e.store.CommitTransition(ctx, id, ecash.StatusSpent, nil); err != nil {
			log.Warnf("reconcile: failed to correct entry %s after MEDIUM discrepancy: %v", id, err)
		}
	}

	return report, nil
}
