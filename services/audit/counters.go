package audit

// Counters is the running per-audit tally maintained from classified scans.
// Missing is derived (snapshot size minus distinct found items), never bumped
// per scan; everything else increases monotonically through Apply.
type Counters struct {
	Found       int `json:"found" db:"found"`
	Missing     int `json:"missing" db:"missing"`
	Unexpected  int `json:"unexpected" db:"unexpected"`
	Duplicate   int `json:"duplicate" db:"duplicate"`
	Incongruent int `json:"incongruent" db:"incongruent"`
	NotFound    int `json:"not_found" db:"not_found"`
}

// Apply bumps the counter for one classified outcome.
func (c *Counters) Apply(outcome Outcome) {
	switch outcome {
	case OutcomeFoundExpected:
		c.Found++
	case OutcomeUnexpectedPresent:
		c.Unexpected++
	case OutcomeDuplicate:
		c.Duplicate++
	case OutcomeStatusIncongruent:
		c.Incongruent++
	case OutcomeNotFound:
		c.NotFound++
	}
}

// TotalScans sums every outcome counter. For any audit this must equal the
// number of scan events ever recorded for it.
func (c Counters) TotalScans() int {
	return c.Found + c.Unexpected + c.Duplicate + c.Incongruent + c.NotFound
}

// counterColumn maps an outcome to its audits table column. The column names
// are fixed here so UPDATE statements never interpolate caller input.
var counterColumn = map[Outcome]string{
	OutcomeFoundExpected:     "found",
	OutcomeUnexpectedPresent: "unexpected",
	OutcomeDuplicate:         "duplicate",
	OutcomeStatusIncongruent: "incongruent",
	OutcomeNotFound:          "not_found",
}
