package models

import (
	"fmt"
	"strings"
	"time"
)

// CandidateCategory tags where a match candidate came from
type CandidateCategory string

const (
	// CandidateUnit is a textual variant of a unit's display number
	CandidateUnit CandidateCategory = "unit"
	// CandidateTenant is a tenant name
	CandidateTenant CandidateCategory = "tenant"
	// CandidateIBAN is a tenant's normalized account number
	CandidateIBAN CandidateCategory = "iban"
	// CandidateLearned is a reviewer-confirmed pattern
	CandidateLearned CandidateCategory = "learned"
)

// MatchCandidate is a searchable projection derived from a tenant, a unit,
// or a learned pattern. Candidates are built transiently per matching run
// and never persisted.
type MatchCandidate struct {
	ID           string            `json:"id"`
	Category     CandidateCategory `json:"category"`
	SearchString string            `json:"search_string"`
	UnitID       string            `json:"unit_id"`
	TenantID     string            `json:"tenant_id,omitempty"`
	Label        string            `json:"label"`
}

// MatchMethod identifies which strategy produced a match result
type MatchMethod string

const (
	MethodLearned MatchMethod = "learned"
	MethodExact   MatchMethod = "exact"
	MethodFuzzy   MatchMethod = "fuzzy"
	MethodNone    MatchMethod = "none"
)

// String returns the string representation of MatchMethod
func (m MatchMethod) String() string {
	return string(m)
}

// MatchResult is the outcome of matching one statement entry against the
// candidate index. Consumed immediately by the import orchestrator; only
// its method and confidence are stored alongside the resulting Transaction.
type MatchResult struct {
	UnitID     string      `json:"unit_id,omitempty"`
	TenantID   string      `json:"tenant_id,omitempty"`
	Confidence float64     `json:"confidence"`
	Reason     string      `json:"reason"`
	Method     MatchMethod `json:"method"`
}

// IsMatch reports whether any strategy resolved a unit or tenant
func (r *MatchResult) IsMatch() bool {
	return r.Method != MethodNone
}

// ConfidencePercent returns the confidence as a 0-100 integer for storage
func (r *MatchResult) ConfidencePercent() int {
	return int(r.Confidence*100 + 0.5)
}

// String returns a string representation of the MatchResult
func (r *MatchResult) String() string {
	return fmt.Sprintf("MatchResult{Method: %s, Confidence: %.2f, Unit: %s, Tenant: %s}",
		r.Method, r.Confidence, r.UnitID, r.TenantID)
}

// NoMatch returns the canonical empty result
func NoMatch() *MatchResult {
	return &MatchResult{Confidence: 0, Method: MethodNone, Reason: "no candidate matched"}
}

// LearnedPattern is an organization-scoped mapping of a normalized text
// fragment to a tenant/unit. Created explicitly by a reviewer confirming a
// match, counter-incremented on repeated application, never auto-deleted.
type LearnedPattern struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Pattern        string    `json:"pattern"` // lower-cased and trimmed before storage
	TenantID       string    `json:"tenant_id,omitempty"`
	UnitID         string    `json:"unit_id"`
	UseCount       int       `json:"use_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate performs basic validation on the LearnedPattern
func (p *LearnedPattern) Validate() error {
	if strings.TrimSpace(p.OrganizationID) == "" {
		return fmt.Errorf("pattern organization cannot be empty")
	}
	if strings.TrimSpace(p.Pattern) == "" {
		return fmt.Errorf("pattern text cannot be empty")
	}
	if p.Pattern != NormalizePattern(p.Pattern) {
		return fmt.Errorf("pattern text must be normalized before storage: %q", p.Pattern)
	}
	if strings.TrimSpace(p.UnitID) == "" {
		return fmt.Errorf("pattern unit cannot be empty")
	}
	return nil
}

// Tenant is read-only reference data from the tenant store
type Tenant struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	UnitID         string `json:"unit_id"`
	IBAN           string `json:"iban,omitempty"`
}

// FullName returns the tenant's display name
func (t *Tenant) FullName() string {
	return strings.TrimSpace(t.FirstName + " " + t.LastName)
}

// Unit is read-only reference data from the unit store
type Unit struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	PropertyID     string `json:"property_id"`
	Number         string `json:"number"` // display number, e.g. "12" or "Top 3"
}
