package matcher

import (
	"fmt"
	"strings"

	"property-reconciliation-service/internal/models"
)

// CandidateIndex is the flat, searchable candidate list one matching run
// operates on. Learned patterns come first and are the only category the
// learned strategy consults; within the exact list, IBAN candidates
// precede tenant names and those precede unit candidates, so an exact hit
// always resolves at the highest applicable confidence.
type CandidateIndex struct {
	Learned []models.MatchCandidate
	Exact   []models.MatchCandidate
}

// Size returns the total number of indexed candidates
func (ci *CandidateIndex) Size() int {
	return len(ci.Learned) + len(ci.Exact)
}

// BuildIndex projects units, tenants, and learned patterns into a
// candidate index. Construction is pure: the same reference data always
// yields the same index, and nothing is retained between runs.
func BuildIndex(units []models.Unit, tenants []models.Tenant, patterns []models.LearnedPattern, config *Config) *CandidateIndex {
	if config == nil {
		config = DefaultConfig()
	}

	index := &CandidateIndex{}

	for _, p := range patterns {
		index.Learned = append(index.Learned, models.MatchCandidate{
			ID:           p.ID,
			Category:     models.CandidateLearned,
			SearchString: models.NormalizePattern(p.Pattern),
			UnitID:       p.UnitID,
			TenantID:     p.TenantID,
			Label:        fmt.Sprintf("learned pattern %q", p.Pattern),
		})
	}

	for _, t := range tenants {
		if t.IBAN == "" {
			continue
		}
		index.Exact = append(index.Exact, models.MatchCandidate{
			ID:           t.ID,
			Category:     models.CandidateIBAN,
			SearchString: strings.ToLower(models.NormalizeIBAN(t.IBAN)),
			UnitID:       t.UnitID,
			TenantID:     t.ID,
			Label:        fmt.Sprintf("IBAN of %s", t.FullName()),
		})
	}

	for _, t := range tenants {
		for _, s := range tenantNameStrings(t, config) {
			index.Exact = append(index.Exact, models.MatchCandidate{
				ID:           t.ID,
				Category:     models.CandidateTenant,
				SearchString: s,
				UnitID:       t.UnitID,
				TenantID:     t.ID,
				Label:        t.FullName(),
			})
		}
	}

	for _, u := range units {
		for _, variant := range unitVariants(u.Number) {
			index.Exact = append(index.Exact, models.MatchCandidate{
				ID:           u.ID,
				Category:     models.CandidateUnit,
				SearchString: variant,
				UnitID:       u.ID,
				Label:        fmt.Sprintf("unit %s", u.Number),
			})
		}
	}

	return index
}

// tenantNameStrings indexes a tenant's full name and last name (only above
// the configured length, short names collide too easily)
func tenantNameStrings(t models.Tenant, config *Config) []string {
	var out []string

	if full := strings.ToLower(t.FullName()); full != "" {
		out = append(out, full)
	}
	if last := strings.ToLower(strings.TrimSpace(t.LastName)); len(last) > config.MinLastNameLength {
		out = append(out, last)
	}

	return out
}

// unitVariants generates the textual variants a human-written remittance
// reference may use for a unit number, covering the common German-language
// conventions
func unitVariants(number string) []string {
	n := strings.ToLower(strings.TrimSpace(number))
	if n == "" {
		return nil
	}

	seen := map[string]bool{n: true}
	variants := []string{n}

	// If the display number already carries a prefix ("top 3"), also index
	// its bare numeric part.
	bare := n
	if idx := strings.LastIndexByte(n, ' '); idx >= 0 {
		bare = n[idx+1:]
	}

	for _, prefix := range []string{"top", "wohnung", "whg", "we", "einheit"} {
		variant := prefix + " " + bare
		if !seen[variant] {
			seen[variant] = true
			variants = append(variants, variant)
		}
		// Joined form without a space ("top3") shows up in references too.
		joined := prefix + bare
		if !seen[joined] {
			seen[joined] = true
			variants = append(variants, joined)
		}
	}

	if !seen[bare] {
		variants = append(variants, bare)
	}

	return variants
}
