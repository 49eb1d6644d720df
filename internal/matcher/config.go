// Package matcher assigns tenants and units to bank statement entries.
//
// Matching runs an ordered cascade of strategies against a prebuilt
// candidate index; the first qualifying strategy wins and later strategies
// are never consulted:
//  1. Learned-pattern containment: reviewer-confirmed text fragments,
//     case-insensitive substring test, fixed high confidence
//  2. Exact substring: normalized IBANs (full confidence, checked ahead
//     of every name), then tenant names and unit number variants
//     contained verbatim in the entry's search text
//  3. Fuzzy similarity: normalized edit-distance fallback with a hard
//     confidence floor to suppress low-quality guesses
//  4. No match
//
// Learned patterns and IBAN hits are deterministic and must never be
// second-guessed by fuzzy logic, which is why the cascade is ordered and
// early-exiting rather than score-blended.
//
// The index is injected per call and scoped to one organization, so the
// engine stays a pure function of its inputs and organizations never
// cross-contaminate.
//
// Example usage:
//
//	engine := matcher.NewEngine(matcher.DefaultConfig())
//	index := matcher.BuildIndex(units, tenants, patterns, engine.Config)
//	result := engine.Match(entry.SearchText(), index)
package matcher

import "fmt"

// Config holds the tunable constants of the matching cascade. The fuzzy
// floor and the confidence values are deliberately configuration, not
// literals: they are tuned centrally and may need adjustment per
// deployment.
type Config struct {
	// IBANExactConfidence is assigned to exact IBAN matches. An account
	// number identifies the payer outright, so this is the only certain
	// tier of the cascade.
	IBANExactConfidence float64 `json:"iban_exact_confidence"`

	// LearnedConfidence is assigned to learned-pattern containment matches
	LearnedConfidence float64 `json:"learned_confidence"`

	// TenantExactConfidence is assigned to exact tenant-name matches
	TenantExactConfidence float64 `json:"tenant_exact_confidence"`

	// UnitExactConfidence is assigned to exact unit-number matches
	UnitExactConfidence float64 `json:"unit_exact_confidence"`

	// FuzzyFloor is the minimum confidence a fuzzy match must reach to be
	// accepted; scores below it become no-match, never a weak fuzzy hit
	FuzzyFloor float64 `json:"fuzzy_floor"`

	// FuzzyBase is the lower clamp of the fuzzy score formula
	// max(FuzzyBase, 1 - distance)
	FuzzyBase float64 `json:"fuzzy_base"`

	// MinCandidateLength excludes candidate strings at or below this
	// length from the exact-substring strategy to avoid noise matches
	MinCandidateLength int `json:"min_candidate_length"`

	// MinLastNameLength excludes short last names from tenant indexing to
	// avoid noisy short-name collisions
	MinLastNameLength int `json:"min_last_name_length"`
}

// DefaultConfig returns the reference matching constants
func DefaultConfig() *Config {
	return &Config{
		IBANExactConfidence:   1.0,
		LearnedConfidence:     0.95,
		TenantExactConfidence: 0.90,
		UnitExactConfidence:   0.85,
		FuzzyFloor:            0.5,
		FuzzyBase:             0.3,
		MinCandidateLength:    2,
		MinLastNameLength:     3,
	}
}

// Validate checks if the matching configuration is valid
func (c *Config) Validate() error {
	inUnit := func(name string, v float64) error {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0: %f", name, v)
		}
		return nil
	}

	if err := inUnit("iban exact confidence", c.IBANExactConfidence); err != nil {
		return err
	}
	if err := inUnit("learned confidence", c.LearnedConfidence); err != nil {
		return err
	}
	if err := inUnit("tenant exact confidence", c.TenantExactConfidence); err != nil {
		return err
	}
	if err := inUnit("unit exact confidence", c.UnitExactConfidence); err != nil {
		return err
	}
	if err := inUnit("fuzzy floor", c.FuzzyFloor); err != nil {
		return err
	}
	if err := inUnit("fuzzy base", c.FuzzyBase); err != nil {
		return err
	}

	if c.FuzzyBase > c.FuzzyFloor {
		return fmt.Errorf("fuzzy base (%f) must not exceed fuzzy floor (%f): scores clamped to the base would always pass", c.FuzzyBase, c.FuzzyFloor)
	}
	if c.MinCandidateLength < 0 {
		return fmt.Errorf("min candidate length cannot be negative: %d", c.MinCandidateLength)
	}
	if c.MinLastNameLength < 0 {
		return fmt.Errorf("min last name length cannot be negative: %d", c.MinLastNameLength)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
