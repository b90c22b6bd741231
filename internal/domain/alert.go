package domain

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type RuleType string

const (
	RuleRapidVoting        RuleType = "rapid_voting"
	RuleDuplicateVote      RuleType = "duplicate_vote"
	RuleBotSignature       RuleType = "bot_signature"
	RuleAddressAbuse       RuleType = "address_abuse"
	RuleCoordinatedPattern RuleType = "coordinated_pattern"
)

// FraudAlert is emitted when a rule triggers at or above its threshold.
// Write-once: consumed by the ops broadcast path and audit logging.
type FraudAlert struct {
	ID            string         `json:"id"`
	Rule          RuleType       `json:"rule"`
	Severity      Severity       `json:"severity"`
	ActorKey      string         `json:"actor_key"`
	IPAddress     string         `json:"ip_address,omitempty"`
	CompetitionID string         `json:"competition_id,omitempty"`
	SubmissionID  string         `json:"submission_id,omitempty"`
	Description   string         `json:"description"`
	Score         float64        `json:"score"`
	Details       map[string]any `json:"details,omitempty"`
	At            time.Time      `json:"at"`
}

func NewFraudAlert(rule RuleType, severity Severity, actorKey, ip, competitionID, submissionID, description string, score float64, details map[string]any, now time.Time) FraudAlert {
	return FraudAlert{
		ID:            uuid.NewString(),
		Rule:          rule,
		Severity:      severity,
		ActorKey:      actorKey,
		IPAddress:     ip,
		CompetitionID: competitionID,
		SubmissionID:  submissionID,
		Description:   description,
		Score:         score,
		Details:       details,
		At:            now.UTC(),
	}
}

// Blocking alerts stop the vote; lower tiers are operator visibility only.
func (a FraudAlert) Blocking() bool { return a.Severity == SeverityCritical }
