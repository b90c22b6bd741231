package fraud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestfest/vote-service/internal/domain"
)

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

func newPattern(t *testing.T, ua string) (*domain.VotingPattern, time.Time) {
	t.Helper()
	start, err := time.Parse(time.RFC3339, "2026-03-01T12:00:00Z")
	require.NoError(t, err)
	return domain.NewVotingPattern("user:u1", "10.0.0.1", ua, start), start
}

func observeN(p *domain.VotingPattern, start time.Time, n int, gap time.Duration, targets ...string) time.Time {
	now := start
	for i := 0; i < n; i++ {
		target := "sub-1"
		if len(targets) > 0 {
			target = targets[i%len(targets)]
		}
		now = start.Add(time.Duration(i) * gap)
		p.Observe(target, domain.VoteTraditional, now)
	}
	return now
}

func TestRapidVotingRule(t *testing.T) {
	rule := RapidVotingRule{}

	t.Run("triggers_on_burst", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		now := observeN(p, start, 6, 600*time.Millisecond, "a", "b", "c", "d", "e", "f")

		res := rule.Evaluate(p, now)
		assert.True(t, res.Triggered)
		assert.InDelta(t, 76.0, res.Score, 0.1)
	})

	t.Run("five_or_fewer_events_never_trigger", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		now := observeN(p, start, 5, 100*time.Millisecond, "a", "b", "c", "d", "e")

		res := rule.Evaluate(p, now)
		assert.False(t, res.Triggered)
	})

	t.Run("slow_cadence_scores_low", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		now := observeN(p, start, 8, 30*time.Second, "a", "b", "c", "d", "e", "f", "g", "h")

		res := rule.Evaluate(p, now)
		assert.False(t, res.Triggered)
		assert.InDelta(t, 1.0, res.Score, 0.1)
	})
}

func TestDuplicateVoteRule(t *testing.T) {
	rule := DuplicateVoteRule{}

	t.Run("second_vote_on_same_target_triggers", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		p.Observe("sub-1", domain.VoteTraditional, start)
		p.Observe("sub-1", domain.VoteTraditional, start.Add(10*time.Minute))

		res := rule.Evaluate(p, start.Add(10*time.Minute))
		assert.True(t, res.Triggered)
		assert.InDelta(t, 60.0, res.Score, 0.1)
		assert.Equal(t, domain.SeverityCritical, rule.Severity())
	})

	t.Run("distinct_targets_never_trigger", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		p.Observe("sub-1", domain.VoteTraditional, start)
		p.Observe("sub-2", domain.VoteTraditional, start.Add(time.Second))

		res := rule.Evaluate(p, start.Add(time.Second))
		assert.False(t, res.Triggered)
		assert.Zero(t, res.Score)
	})

	t.Run("score_grows_with_extra_votes", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		for i := 0; i < 4; i++ {
			p.Observe("sub-1", domain.VoteTraditional, start.Add(time.Duration(i)*time.Minute))
		}
		res := rule.Evaluate(p, start.Add(4*time.Minute))
		assert.True(t, res.Triggered)
		assert.InDelta(t, 100.0, res.Score, 0.1)
	})
}

func TestBotSignatureRule(t *testing.T) {
	rule := BotSignatureRule{}

	t.Run("scripted_client_with_uniform_timing_triggers", func(t *testing.T) {
		p, start := newPattern(t, "python-requests/2.31")
		now := observeN(p, start, 6, 2*time.Second, "a", "b", "c", "d", "e", "f")

		res := rule.Evaluate(p, now)
		assert.True(t, res.Triggered)
		// bot token, missing browser marker, uniform timing
		assert.InDelta(t, 75.0, res.Score, 0.1)
	})

	t.Run("single_indicator_does_not_trigger", func(t *testing.T) {
		p, start := newPattern(t, "ExoticClient/1.0")
		p.Observe("a", domain.VoteTraditional, start)

		res := rule.Evaluate(p, start)
		assert.False(t, res.Triggered)
		assert.InDelta(t, 25.0, res.Score, 0.1)
	})

	t.Run("browser_with_human_cadence_is_clean", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		p.Observe("a", domain.VoteTraditional, start)
		p.Observe("b", domain.VoteTraditional, start.Add(7*time.Second))
		p.Observe("c", domain.VoteTraditional, start.Add(31*time.Second))

		res := rule.Evaluate(p, start.Add(31*time.Second))
		assert.False(t, res.Triggered)
		assert.Zero(t, res.Score)
	})
}

func TestAddressAbuseRule(t *testing.T) {
	rule := AddressAbuseRule{}

	t.Run("eleven_events_in_a_minute_trigger", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		now := observeN(p, start, 11, 5*time.Second,
			"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k")

		res := rule.Evaluate(p, now)
		assert.True(t, res.Triggered)
		assert.InDelta(t, 88.0, res.Score, 0.1)
	})

	t.Run("old_events_age_out_of_the_window", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		now := observeN(p, start, 11, 5*time.Second,
			"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k")

		res := rule.Evaluate(p, now.Add(10*time.Minute))
		assert.False(t, res.Triggered)
		assert.Zero(t, res.Score)
	})
}

func TestCoordinatedPatternRule(t *testing.T) {
	rule := CoordinatedPatternRule{}

	t.Run("metronomic_repeats_on_one_target_trigger", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		now := observeN(p, start, 6, 10*time.Second, "sub-1")

		res := rule.Evaluate(p, now)
		assert.True(t, res.Triggered)
		assert.GreaterOrEqual(t, res.Score, 70.0)
	})

	t.Run("alternating_two_targets_trigger", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		now := observeN(p, start, 6, 10*time.Second, "sub-1", "sub-2")

		res := rule.Evaluate(p, now)
		assert.True(t, res.Triggered)
	})

	t.Run("jittered_human_timing_does_not_trigger", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		offsets := []time.Duration{0, 3 * time.Second, 11 * time.Second, 25 * time.Second, 70 * time.Second}
		for _, off := range offsets {
			p.Observe("sub-1", domain.VoteTraditional, start.Add(off))
		}
		res := rule.Evaluate(p, start.Add(70*time.Second))
		assert.False(t, res.Triggered)
	})

	t.Run("fewer_than_four_events_never_trigger", func(t *testing.T) {
		p, start := newPattern(t, browserUA)
		now := observeN(p, start, 3, time.Second, "sub-1")

		res := rule.Evaluate(p, now)
		assert.False(t, res.Triggered)
		assert.Zero(t, res.Score)
	})
}
