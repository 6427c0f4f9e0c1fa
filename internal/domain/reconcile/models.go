package reconcile

import "ledgerline/internal/domain/account"

// Confidence tags how a candidate account was matched. Callers apply the
// manual-review policy explicitly instead of the matcher deciding for them.
type Confidence int

const (
	NoMatch Confidence = iota
	LowConfidenceMatch
	HighConfidenceMatch
	ExactMatch
)

func (c Confidence) String() string {
	switch c {
	case ExactMatch:
		return "exact"
	case HighConfidenceMatch:
		return "high"
	case LowConfidenceMatch:
		return "low"
	default:
		return "none"
	}
}

// MatchedBy names the heuristic that produced a match.
type MatchedBy string

const (
	MatchedByNone              MatchedBy = ""
	MatchedByExternalID        MatchedBy = "external_id"
	MatchedByInstitutionNumber MatchedBy = "institution_number"
	MatchedByIBAN              MatchedBy = "iban"
	MatchedByInstitutionName   MatchedBy = "institution_name"
)

// Recommendation is what the engine advises the caller to do.
type Recommendation string

const (
	// LinkAndResume: the match is certain enough to update in place.
	LinkAndResume Recommendation = "link_and_resume"
	// ManualReview: evidence is too weak to auto-merge; a new account is
	// created flagged for review instead of silently merging.
	ManualReview Recommendation = "manual_review"
	// CreateNew: no prior account matches.
	CreateNew Recommendation = "create_new"
)

// Match is the outcome of the prioritized matching pass.
type Match struct {
	Account    *account.Account
	Confidence Confidence
	MatchedBy  MatchedBy
}

// Result is the outcome of FindOrCreateAccount.
type Result struct {
	Account        *account.Account
	IsNew          bool
	MatchedBy      MatchedBy
	Recommendation Recommendation
}
