package domain

import (
	"math"
	"strings"
	"time"
)

// PatternRetention is the sliding window of events kept per actor.
// Events older than this are pruned lazily on the next observation.
const PatternRetention = time.Hour

// ActorKey derives the voting identity key. Authenticated user wins over
// session, session over network address.
func ActorKey(userID, sessionID, ipAddress string) string {
	if v := strings.TrimSpace(userID); v != "" {
		return "user:" + v
	}
	if v := strings.TrimSpace(sessionID); v != "" {
		return "session:" + v
	}
	return "addr:" + strings.TrimSpace(ipAddress)
}

// VotingPattern is the per-actor aggregate the fraud rules evaluate.
// Velocity and suspicion are always derived from the current event
// window; suspicion is recomputed by the rule engine on every event and
// written back here for reporting only.
type VotingPattern struct {
	ActorKey  string
	IPAddress string
	UserAgent string

	Events    []VoteEvent
	FirstSeen time.Time
	LastSeen  time.Time

	Suspicion float64 // 0..100, last engine evaluation
}

func NewVotingPattern(actorKey, ipAddress, userAgent string, now time.Time) *VotingPattern {
	return &VotingPattern{
		ActorKey:  actorKey,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		FirstSeen: now.UTC(),
		LastSeen:  now.UTC(),
	}
}

// Observe appends an event, stamping its inter-arrival gap, and prunes
// events that fell out of the retention window. Callers serialize
// observations per actor; event order is arrival order.
func (p *VotingPattern) Observe(submissionID string, kind VoteKind, now time.Time) VoteEvent {
	now = now.UTC()
	ev := VoteEvent{At: now, SubmissionID: submissionID, Kind: kind}
	if n := len(p.Events); n > 0 {
		ev.SincePrev = now.Sub(p.Events[n-1].At)
	}
	p.Events = append(p.Events, ev)
	p.LastSeen = now
	p.prune(now)
	return ev
}

func (p *VotingPattern) prune(now time.Time) {
	cutoff := now.Add(-PatternRetention)
	i := 0
	for i < len(p.Events) && p.Events[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.Events = append(p.Events[:0], p.Events[i:]...)
	}
}

// Velocity is events per minute over the pattern's lifetime.
func (p *VotingPattern) Velocity(now time.Time) float64 {
	if len(p.Events) == 0 {
		return 0
	}
	elapsed := now.Sub(p.FirstSeen)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return float64(len(p.Events)) / elapsed.Minutes()
}

// IdleSince reports whether the actor has been silent past the retention
// window, making the pattern eligible for eviction.
func (p *VotingPattern) IdleSince(now time.Time) bool {
	return now.Sub(p.LastSeen) > PatternRetention
}

// TargetCounts returns how many events in the window hit each submission.
func (p *VotingPattern) TargetCounts() map[string]int {
	counts := make(map[string]int, len(p.Events))
	for _, ev := range p.Events {
		counts[ev.SubmissionID]++
	}
	return counts
}

// EventsWithin counts events observed in the trailing window ending at now.
func (p *VotingPattern) EventsWithin(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for i := len(p.Events) - 1; i >= 0; i-- {
		if p.Events[i].At.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// gaps are the inter-arrival times of the second and later events.
func (p *VotingPattern) gaps() []time.Duration {
	if len(p.Events) < 2 {
		return nil
	}
	out := make([]time.Duration, 0, len(p.Events)-1)
	for _, ev := range p.Events[1:] {
		out = append(out, ev.SincePrev)
	}
	return out
}

// MeanGap is the average inter-arrival time, zero when fewer than two events.
func (p *VotingPattern) MeanGap() time.Duration {
	gs := p.gaps()
	if len(gs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, g := range gs {
		sum += g
	}
	return sum / time.Duration(len(gs))
}

// GapVariance is the variance of inter-arrival times in seconds squared.
func (p *VotingPattern) GapVariance() float64 {
	gs := p.gaps()
	if len(gs) < 2 {
		return math.MaxFloat64
	}
	mean := 0.0
	for _, g := range gs {
		mean += g.Seconds()
	}
	mean /= float64(len(gs))

	variance := 0.0
	for _, g := range gs {
		d := g.Seconds() - mean
		variance += d * d
	}
	return variance / float64(len(gs))
}

// TargetSequence lists the window's targets in arrival order.
func (p *VotingPattern) TargetSequence() []string {
	out := make([]string, len(p.Events))
	for i, ev := range p.Events {
		out[i] = ev.SubmissionID
	}
	return out
}

// PatternSummary is the compact view shared with sibling instances through
// the downstream store, and reported in health aggregates.
type PatternSummary struct {
	ActorKey  string    `json:"actor_key"`
	IPAddress string    `json:"ip_address"`
	Events    int       `json:"events"`
	Velocity  float64   `json:"velocity"`
	Suspicion float64   `json:"suspicion"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

func (p *VotingPattern) Summary(now time.Time) PatternSummary {
	return PatternSummary{
		ActorKey:  p.ActorKey,
		IPAddress: p.IPAddress,
		Events:    len(p.Events),
		Velocity:  p.Velocity(now),
		Suspicion: p.Suspicion,
		FirstSeen: p.FirstSeen,
		LastSeen:  p.LastSeen,
	}
}
