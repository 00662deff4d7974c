package audit

import "github.com/google/uuid"

// Outcome is the classification assigned to a scan relative to the snapshot
// and live inventory state. Exactly one outcome is recorded per scan event
// and it is never recomputed retroactively.
type Outcome string

const (
	OutcomeFoundExpected     Outcome = "found_expected"
	OutcomeUnexpectedPresent Outcome = "unexpected_present"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeStatusIncongruent Outcome = "status_incongruent"
	OutcomeNotFound          Outcome = "not_found"
)

// Outcomes lists every classification, in counter order.
var Outcomes = []Outcome{
	OutcomeFoundExpected,
	OutcomeUnexpectedPresent,
	OutcomeDuplicate,
	OutcomeStatusIncongruent,
	OutcomeNotFound,
}

// Match carries the inventory lookup result for a normalised identifier.
type Match struct {
	ItemID     uuid.UUID
	LiveStatus string
	Location   string
}

// ClassifyInput gathers the facts the decision table runs on. The caller
// resolves them (duplicate membership, lookup, snapshot membership) before
// classification; Classify itself touches nothing.
type ClassifyInput struct {
	// AlreadyScanned is true when the identifier has at least one
	// non-duplicate scan event recorded for this audit.
	AlreadyScanned bool
	// Match is the inventory lookup result, nil when no item matched.
	Match *Match
	// InSnapshot is true when the matched item belongs to the audit snapshot.
	InSnapshot bool
	// ExpectedStatus is the snapshot item's status at capture time, empty
	// when InSnapshot is false.
	ExpectedStatus string
}

// Classify applies the fixed decision table, first matching rule wins:
//
//  1. identifier already scanned for this audit     -> duplicate
//  2. no inventory item matches the identifier      -> not_found
//  3. in snapshot, live status matches expectation  -> found_expected
//  4. in snapshot, live status differs              -> status_incongruent
//  5. matched but not part of the snapshot          -> unexpected_present
//
// The duplicate check precedes the lookup so a replayed queued scan that
// already landed classifies as duplicate instead of double-counting.
// Normalisation failures never reach this table; they are errors upstream.
func Classify(in ClassifyInput) Outcome {
	if in.AlreadyScanned {
		return OutcomeDuplicate
	}
	if in.Match == nil {
		return OutcomeNotFound
	}
	if in.InSnapshot {
		if in.Match.LiveStatus == in.ExpectedStatus {
			return OutcomeFoundExpected
		}
		return OutcomeStatusIncongruent
	}
	return OutcomeUnexpectedPresent
}
