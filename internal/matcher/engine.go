package matcher

import (
	"fmt"
	"strings"

	"property-reconciliation-service/internal/models"

	"github.com/agnivade/levenshtein"
)

// Engine runs the matching cascade. It holds only configuration; the
// candidate index is passed per call so the engine is a pure function of
// its inputs.
type Engine struct {
	Config *Config
}

// NewEngine creates a matching engine with the specified configuration
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{Config: config}
}

// strategy is one rung of the cascade. A nil result means "not my match,
// ask the next strategy"; any non-nil result ends the cascade.
type strategy interface {
	name() string
	tryMatch(searchText string, index *CandidateIndex) *models.MatchResult
}

// strategies returns the cascade in strict priority order
func (e *Engine) strategies() []strategy {
	return []strategy{
		&learnedStrategy{config: e.Config},
		&exactStrategy{config: e.Config},
		&fuzzyStrategy{config: e.Config},
	}
}

// Match scores one entry's search text against the index and returns
// exactly one result. The first qualifying strategy wins; if none
// qualifies the result is the canonical no-match.
func (e *Engine) Match(searchText string, index *CandidateIndex) *models.MatchResult {
	text := strings.ToLower(strings.TrimSpace(searchText))
	if text == "" || index == nil || index.Size() == 0 {
		return models.NoMatch()
	}

	for _, s := range e.strategies() {
		if result := s.tryMatch(text, index); result != nil {
			return result
		}
	}

	return models.NoMatch()
}

// learnedStrategy matches reviewer-confirmed pattern fragments by
// case-insensitive containment. Only learned candidates are eligible.
type learnedStrategy struct {
	config *Config
}

func (s *learnedStrategy) name() string { return "learned" }

func (s *learnedStrategy) tryMatch(searchText string, index *CandidateIndex) *models.MatchResult {
	for _, c := range index.Learned {
		if c.SearchString == "" {
			continue
		}
		if strings.Contains(searchText, c.SearchString) {
			return &models.MatchResult{
				UnitID:     c.UnitID,
				TenantID:   c.TenantID,
				Confidence: s.config.LearnedConfidence,
				Reason:     fmt.Sprintf("search text contains %s", c.Label),
				Method:     models.MethodLearned,
			}
		}
	}
	return nil
}

// exactStrategy matches candidate search strings contained verbatim in
// the search text. IBAN candidates are indexed ahead of tenant names and
// those ahead of unit candidates, so a text hitting several tiers resolves
// at the highest one.
type exactStrategy struct {
	config *Config
}

func (s *exactStrategy) name() string { return "exact" }

func (s *exactStrategy) tryMatch(searchText string, index *CandidateIndex) *models.MatchResult {
	for _, c := range index.Exact {
		if len(c.SearchString) <= s.config.MinCandidateLength {
			continue
		}
		if !strings.Contains(searchText, c.SearchString) {
			continue
		}

		confidence := s.config.UnitExactConfidence
		switch c.Category {
		case models.CandidateIBAN:
			confidence = s.config.IBANExactConfidence
		case models.CandidateTenant:
			confidence = s.config.TenantExactConfidence
		}
		return &models.MatchResult{
			UnitID:     c.UnitID,
			TenantID:   c.TenantID,
			Confidence: confidence,
			Reason:     fmt.Sprintf("search text contains %s", c.Label),
			Method:     models.MethodExact,
		}
	}
	return nil
}

// fuzzyStrategy is the fallback of last resort: approximate matching with
// a normalized edit-distance score and a hard acceptance floor. Only the
// single best candidate is considered.
type fuzzyStrategy struct {
	config *Config
}

func (s *fuzzyStrategy) name() string { return "fuzzy" }

func (s *fuzzyStrategy) tryMatch(searchText string, index *CandidateIndex) *models.MatchResult {
	var best *models.MatchCandidate
	bestDistance := 1.0

	for i := range index.Exact {
		c := &index.Exact[i]
		if len(c.SearchString) <= s.config.MinCandidateLength {
			continue
		}
		// account numbers either match exactly or not at all
		if c.Category == models.CandidateIBAN {
			continue
		}
		if d := s.distance(searchText, c.SearchString); d < bestDistance {
			bestDistance = d
			best = c
		}
	}

	if best == nil {
		return nil
	}

	confidence := 1.0 - bestDistance
	if confidence < s.config.FuzzyBase {
		confidence = s.config.FuzzyBase
	}
	if confidence < s.config.FuzzyFloor {
		return nil
	}

	return &models.MatchResult{
		UnitID:     best.UnitID,
		TenantID:   best.TenantID,
		Confidence: confidence,
		Reason:     fmt.Sprintf("search text is similar to %s (distance %.2f)", best.Label, bestDistance),
		Method:     models.MethodFuzzy,
	}
}

// distance returns the best normalized levenshtein distance between the
// candidate and any token window of the search text with the candidate's
// word count. Comparing windows instead of the full text keeps long
// remittance lines from drowning short candidates in edit distance.
func (s *fuzzyStrategy) distance(searchText, candidate string) float64 {
	tokens := strings.Fields(searchText)
	width := len(strings.Fields(candidate))
	if width == 0 || len(tokens) == 0 {
		return 1.0
	}
	if width > len(tokens) {
		width = len(tokens)
	}

	best := 1.0
	for i := 0; i+width <= len(tokens); i++ {
		window := strings.Join(tokens[i:i+width], " ")
		d := normalizedDistance(window, candidate)
		if d < best {
			best = d
		}
	}
	return best
}

// normalizedDistance divides the levenshtein distance by the longer
// string's length, yielding a score in [0,1]
func normalizedDistance(a, b string) float64 {
	if a == b {
		return 0.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0.0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(maxLen)
}
