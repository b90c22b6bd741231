package fraud

import (
	"time"

	"github.com/nestfest/vote-service/internal/domain"
)

// DefaultBlockScore is the aggregate suspicion at which a vote is blocked
// even without a critical rule firing.
const DefaultBlockScore = 80.0

// Evaluation carries both the allow/deny decision and the alerts from one
// pass over a pattern, so callers cannot take one and drop the other.
type Evaluation struct {
	Score   float64 // mean across ALL rules, triggered or not
	Blocked bool
	Reason  string
	Alerts  []domain.FraudAlert // triggered rules only
}

type Engine struct {
	rules      []Rule
	blockScore float64
}

// NewEngine builds an engine over the given rules. blockScore <= 0 selects
// the default. The aggregate is the arithmetic mean of every rule's score;
// near-threshold signals that never trigger still push it upward.
func NewEngine(rules []Rule, blockScore float64) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if blockScore <= 0 {
		blockScore = DefaultBlockScore
	}
	return &Engine{rules: rules, blockScore: blockScore}
}

// BlockScore is the configured blocking threshold.
func (e *Engine) BlockScore() float64 { return e.blockScore }

// Evaluate runs every rule against the pattern. The caller holds the
// actor's lock; nothing here blocks or performs I/O.
func (e *Engine) Evaluate(p *domain.VotingPattern, competitionID, submissionID string, now time.Time) Evaluation {
	var (
		total   float64
		blocked bool
		reason  string
		alerts  []domain.FraudAlert
	)

	for _, rule := range e.rules {
		res := rule.Evaluate(p, now)
		total += res.Score

		if !res.Triggered {
			continue
		}
		alerts = append(alerts, domain.NewFraudAlert(
			rule.Type(), rule.Severity(),
			p.ActorKey, p.IPAddress,
			competitionID, submissionID,
			res.Description, res.Score, res.Details, now,
		))
		if rule.Severity() == domain.SeverityCritical && !blocked {
			blocked = true
			reason = string(rule.Type())
		}
	}

	score := total / float64(len(e.rules))
	if !blocked && score >= e.blockScore {
		blocked = true
		reason = "suspicion_score"
	}

	return Evaluation{Score: score, Blocked: blocked, Reason: reason, Alerts: alerts}
}

// BlockingAlerts filters the evaluation's alerts down to the critical ones.
func (ev Evaluation) BlockingAlerts() []domain.FraudAlert {
	var out []domain.FraudAlert
	for _, a := range ev.Alerts {
		if a.Blocking() {
			out = append(out, a)
		}
	}
	return out
}
