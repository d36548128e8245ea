package usecase

import (
	"log/slog"
	"time"

	"crewd/internal/domain"
)

// Resolution is the outcome of a pairwise conflict.
type Resolution string

const (
	// ResolutionEvict means the incumbent is deactivated and the
	// candidate proceeds.
	ResolutionEvict Resolution = "evict-existing"
	// ResolutionReject means the candidate's activation fails and the
	// incumbent stays active. Ties favor the status quo.
	ResolutionReject Resolution = "reject"
)

// ConflictDecision records how one candidate/incumbent conflict resolved.
// Decisions are transient; they are never persisted.
type ConflictDecision struct {
	CandidateID    string
	IncumbentID    string
	Resolution     Resolution
	CandidateScore float64
	IncumbentScore float64
}

// ConflictResolver decides whether a candidate activation may proceed
// against the currently active set.
type ConflictResolver struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewConflictResolver creates a resolver.
func NewConflictResolver(logger *slog.Logger) *ConflictResolver {
	return &ConflictResolver{logger: logger, now: time.Now}
}

// Resolve checks the candidate against every active descriptor and returns
// one decision per conflicting incumbent. An empty slice means the candidate
// may proceed without evictions.
func (r *ConflictResolver) Resolve(candidate *domain.AgentDescriptor, active []*domain.AgentDescriptor) []ConflictDecision {
	now := r.now()
	var decisions []ConflictDecision

	for _, incumbent := range active {
		if incumbent.ID == candidate.ID {
			continue
		}
		if !conflicts(candidate, incumbent) {
			continue
		}

		cs := Specificity(candidate, now)
		is := Specificity(incumbent, now)
		resolution := ResolutionReject
		if cs > is {
			resolution = ResolutionEvict
		}

		r.logger.Debug("agent conflict",
			"candidate", candidate.ID,
			"incumbent", incumbent.ID,
			"candidate_score", cs,
			"incumbent_score", is,
			"resolution", string(resolution),
		)

		decisions = append(decisions, ConflictDecision{
			CandidateID:    candidate.ID,
			IncumbentID:    incumbent.ID,
			Resolution:     resolution,
			CandidateScore: cs,
			IncumbentScore: is,
		})
	}
	return decisions
}

// conflicts reports whether two agents may not be active simultaneously.
// Two independent conflict classes are checked:
//
//   - expansion-pack peers: same pack and matching role prefix
//   - role exclusivity: same derived role, dev exempt
func conflicts(a, b *domain.AgentDescriptor) bool {
	roleA, roleB := a.Role(), b.Role()

	if a.ExpansionPack != "" && a.ExpansionPack == b.ExpansionPack && roleA == roleB && roleA != domain.RoleGeneric {
		return true
	}
	if roleA == roleB && domain.ExclusiveRole(roleA) {
		return true
	}
	return false
}

// Specificity computes the heuristic tie-break score for a descriptor:
// base 0, +10 when sourced from an expansion pack, +description length/100,
// +max(0, 30 - days since last modified). The formula is a documented
// contract, not an implementation detail.
func Specificity(d *domain.AgentDescriptor, now time.Time) float64 {
	score := 0.0
	if d.Source == domain.SourceExpansionPack {
		score += 10
	}
	score += float64(len(d.Description)) / 100

	if !d.LastModified.IsZero() {
		days := now.Sub(d.LastModified).Hours() / 24
		if recency := 30 - days; recency > 0 {
			score += recency
		}
	}
	return score
}
