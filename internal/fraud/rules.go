package fraud

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nestfest/vote-service/internal/domain"
)

// Rule is one independent heuristic: a pure function from a voting pattern
// to a graded score. Rules always score, even below their trigger
// threshold, so that many quiet signals still move the aggregate.
type Rule interface {
	Type() domain.RuleType
	Severity() domain.Severity
	Evaluate(p *domain.VotingPattern, now time.Time) Result
}

type Result struct {
	Triggered   bool
	Score       float64 // 0..100
	Description string
	Details     map[string]any
}

func clampScore(s float64) float64 {
	return math.Max(0, math.Min(100, s))
}

// DefaultRules is the fixed rule set, all enabled.
func DefaultRules() []Rule {
	return []Rule{
		RapidVotingRule{},
		DuplicateVoteRule{},
		BotSignatureRule{},
		AddressAbuseRule{},
		CoordinatedPatternRule{},
	}
}

// RapidVotingRule triggers when more than 5 events exist and the mean
// inter-event time is below 1 second. Score scales inversely with the gap.
type RapidVotingRule struct{}

func (RapidVotingRule) Type() domain.RuleType { return domain.RuleRapidVoting }
func (RapidVotingRule) Severity() domain.Severity { return domain.SeverityMedium }

func (RapidVotingRule) Evaluate(p *domain.VotingPattern, now time.Time) Result {
	if len(p.Events) < 2 {
		return Result{}
	}
	gap := p.MeanGap().Seconds()
	if gap <= 0 {
		gap = 0.001
	}

	var score float64
	triggered := len(p.Events) > 5 && gap < 1.0
	if triggered {
		// gap 1s -> 60, gap 0 -> 100
		score = clampScore(60 + (1.0-gap)*40)
	} else {
		// sub-threshold residual for slow-but-steady streams
		score = clampScore(30 / gap)
		if score > 50 {
			score = 50
		}
	}

	return Result{
		Triggered:   triggered,
		Score:       score,
		Description: fmt.Sprintf("mean inter-vote gap %.2fs over %d events", gap, len(p.Events)),
		Details: map[string]any{
			"mean_gap_seconds": gap,
			"events":           len(p.Events),
		},
	}
}

// DuplicateVoteRule triggers when any single target has more than one event
// from the same actor inside the retention window. Critical: duplicates are
// never counted.
type DuplicateVoteRule struct{}

func (DuplicateVoteRule) Type() domain.RuleType { return domain.RuleDuplicateVote }
func (DuplicateVoteRule) Severity() domain.Severity { return domain.SeverityCritical }

func (DuplicateVoteRule) Evaluate(p *domain.VotingPattern, now time.Time) Result {
	counts := p.TargetCounts()

	extras := 0
	worstTarget := ""
	worstCount := 0
	for target, n := range counts {
		if n > 1 {
			extras += n - 1
			if n > worstCount {
				worstCount = n
				worstTarget = target
			}
		}
	}
	if extras == 0 {
		return Result{}
	}

	return Result{
		Triggered:   true,
		Score:       clampScore(40 + 20*float64(extras)),
		Description: fmt.Sprintf("%d duplicate vote(s), worst target %s voted %d times", extras, worstTarget, worstCount),
		Details: map[string]any{
			"duplicate_events": extras,
			"worst_target":     worstTarget,
			"worst_count":      worstCount,
		},
	}
}

// BotSignatureRule counts automation indicators and triggers at two or more.
type BotSignatureRule struct{}

func (BotSignatureRule) Type() domain.RuleType { return domain.RuleBotSignature }
func (BotSignatureRule) Severity() domain.Severity { return domain.SeverityHigh }

var botTokens = []string{"bot", "crawler", "spider", "curl", "wget", "python", "scrapy", "headless"}

func (BotSignatureRule) Evaluate(p *domain.VotingPattern, now time.Time) Result {
	indicators := []string{}
	ua := strings.ToLower(p.UserAgent)

	for _, tok := range botTokens {
		if strings.Contains(ua, tok) {
			indicators = append(indicators, "bot_token:"+tok)
			break
		}
	}
	if !strings.Contains(ua, "mozilla") {
		indicators = append(indicators, "missing_browser_marker")
	}
	if len(p.Events) >= 5 {
		mean := p.MeanGap().Seconds()
		if variance := p.GapVariance(); mean > 0 && variance < 0.01*mean*mean {
			indicators = append(indicators, "uniform_timing")
		}
	}
	if len(p.Events) > 20 && p.Velocity(now) > 1.0 {
		indicators = append(indicators, "high_volume")
	}

	return Result{
		Triggered:   len(indicators) >= 2,
		Score:       clampScore(float64(len(indicators)) * 25),
		Description: fmt.Sprintf("%d automation indicator(s)", len(indicators)),
		Details:     map[string]any{"indicators": indicators},
	}
}

// AddressAbuseRule triggers when more than 10 events arrive from the
// actor's address within a 1-minute sliding window.
type AddressAbuseRule struct{}

func (AddressAbuseRule) Type() domain.RuleType { return domain.RuleAddressAbuse }
func (AddressAbuseRule) Severity() domain.Severity { return domain.SeverityHigh }

func (AddressAbuseRule) Evaluate(p *domain.VotingPattern, now time.Time) Result {
	recent := p.EventsWithin(time.Minute, now)
	return Result{
		Triggered:   recent > 10,
		Score:       clampScore(float64(recent) * 8),
		Description: fmt.Sprintf("%d events from %s in the last minute", recent, p.IPAddress),
		Details: map[string]any{
			"events_last_minute": recent,
			"ip_address":         p.IPAddress,
		},
	}
}

// CoordinatedPatternRule looks for scripted, non-human cadence: very low
// timing variance combined with a strictly repeating or alternating target
// sequence, or sustained velocity.
type CoordinatedPatternRule struct{}

func (CoordinatedPatternRule) Type() domain.RuleType { return domain.RuleCoordinatedPattern }
func (CoordinatedPatternRule) Severity() domain.Severity { return domain.SeverityHigh }

func (CoordinatedPatternRule) Evaluate(p *domain.VotingPattern, now time.Time) Result {
	if len(p.Events) < 4 {
		return Result{}
	}

	variance := p.GapVariance()
	lowVariance := variance < 0.05

	seq := p.TargetSequence()
	mechanical := isRepeating(seq) || isAlternating(seq)
	velocity := p.Velocity(now)

	triggered := lowVariance && (mechanical || velocity > 0.5)

	score := 0.0
	if lowVariance {
		score += 35
	}
	if mechanical {
		score += 35
	}
	if velocity > 0.5 {
		score += 15
	}
	if triggered {
		score = math.Max(score, 70)
	}

	return Result{
		Triggered:   triggered,
		Score:       clampScore(score),
		Description: fmt.Sprintf("gap variance %.4fs², mechanical sequence %v, velocity %.2f/min", variance, mechanical, velocity),
		Details: map[string]any{
			"gap_variance": variance,
			"mechanical":   mechanical,
			"velocity":     velocity,
		},
	}
}

func isRepeating(seq []string) bool {
	for _, s := range seq[1:] {
		if s != seq[0] {
			return false
		}
	}
	return true
}

func isAlternating(seq []string) bool {
	if len(seq) < 4 || seq[0] == seq[1] {
		return false
	}
	for i, s := range seq {
		if s != seq[i%2] {
			return false
		}
	}
	return true
}
