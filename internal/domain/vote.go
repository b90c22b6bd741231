package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type VoteKind string

const (
	VoteTraditional  VoteKind = "traditional"
	VoteQuadratic    VoteKind = "quadratic"
	VoteRankedChoice VoteKind = "ranked_choice"
	VoteApproval     VoteKind = "approval"
)

func ParseVoteKind(s string) (VoteKind, error) {
	switch VoteKind(strings.TrimSpace(strings.ToLower(s))) {
	case VoteTraditional:
		return VoteTraditional, nil
	case VoteQuadratic:
		return VoteQuadratic, nil
	case VoteRankedChoice:
		return VoteRankedChoice, nil
	case VoteApproval:
		return VoteApproval, nil
	case "":
		return VoteTraditional, nil
	}
	return "", ErrValidation("unknown vote type: " + s)
}

// VoteEvent is one cast vote as observed by the integrity core.
// Appended to an actor's pattern and never mutated afterwards.
type VoteEvent struct {
	At           time.Time
	SubmissionID string
	Kind         VoteKind

	// SincePrev is the elapsed time since the previous event from the
	// same actor; zero for the actor's first event.
	SincePrev time.Duration
}

// Vote is an accepted vote handed to the persistence collaborator.
type Vote struct {
	ID            string
	CompetitionID string
	SubmissionID  string
	VoterID       string
	Kind          VoteKind
	Weight        float64
	CastAt        time.Time
}

func NewVote(competitionID, submissionID, voterID string, kind VoteKind, weight float64, now time.Time) (*Vote, error) {
	competitionID = strings.TrimSpace(competitionID)
	submissionID = strings.TrimSpace(submissionID)

	if competitionID == "" {
		return nil, ErrValidation("competition_id is required")
	}
	if submissionID == "" {
		return nil, ErrValidation("submission_id is required")
	}
	if weight == 0 {
		weight = 1
	}
	if weight < 0 {
		return nil, ErrValidation("vote weight must be positive")
	}

	return &Vote{
		ID:            uuid.NewString(),
		CompetitionID: competitionID,
		SubmissionID:  submissionID,
		VoterID:       voterID,
		Kind:          kind,
		Weight:        weight,
		CastAt:        now.UTC(),
	}, nil
}

// QuadraticCost is the credit price of holding n votes on a single item:
// the n-th vote brings the total to n^2.
func QuadraticCost(n int) int { return n * n }

// QuadraticSpend totals the credits consumed by a voter's current
// per-submission vote counts.
func QuadraticSpend(counts map[string]int) int {
	spend := 0
	for _, n := range counts {
		spend += QuadraticCost(n)
	}
	return spend
}

// WithinQuadraticBudget reports whether one more vote on target fits the
// voter's credit budget given their existing per-submission counts.
func WithinQuadraticBudget(counts map[string]int, target string, budget int) bool {
	if budget <= 0 {
		return true
	}
	n := counts[target]
	marginal := QuadraticCost(n+1) - QuadraticCost(n)
	return QuadraticSpend(counts)+marginal <= budget
}
