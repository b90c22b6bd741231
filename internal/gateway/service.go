package gateway

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/nestfest/vote-service/internal/broadcast"
	"github.com/nestfest/vote-service/internal/domain"
	"github.com/nestfest/vote-service/internal/fraud"
	"github.com/nestfest/vote-service/internal/health"
	"github.com/nestfest/vote-service/internal/metrics"
	"github.com/nestfest/vote-service/internal/ratelimit"
	"github.com/nestfest/vote-service/internal/registry"
)

// EventCastVote is the rate-limited inbound event type.
const EventCastVote = "cast_vote"

// sharedReadTimeout bounds the cross-instance lookup on the vote path. A
// slow or absent shared store degrades detection to local knowledge, it
// never delays the vote.
const sharedReadTimeout = 150 * time.Millisecond

type Clock interface{ Now() time.Time }

// VoteStore is the persistence collaborator for accepted votes.
type VoteStore interface {
	RecordVote(ctx context.Context, v *domain.Vote) (int64, error)
	ReadVoteCounts(ctx context.Context, competitionID string) (map[string]int64, error)
}

// SharedStore is the optional cross-instance TTL store. May be nil;
// everything routed through it is best-effort.
type SharedStore interface {
	SharePattern(ctx context.Context, summary domain.PatternSummary) error
	LoadPattern(ctx context.Context, actorKey string) (domain.PatternSummary, bool, error)
	FlagSuspicious(ctx context.Context, actorKey string, score float64) error
	IsFlagged(ctx context.Context, actorKey string) (bool, error)
	CacheVoteCounts(ctx context.Context, competitionID string, counts map[string]int64) error
	GetVoteCounts(ctx context.Context, competitionID string) (map[string]int64, bool, error)
}

// AlertPublisher forwards fraud alerts to the audit pipeline.
type AlertPublisher interface {
	PublishFraudAlert(ctx context.Context, alert domain.FraudAlert) error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishFraudAlert(context.Context, domain.FraudAlert) error { return nil }

type Options struct {
	// VoteLimit is the per-connection cast_vote allowance per limiter window.
	VoteLimit int
	// StoreTimeout bounds the persistence write for one vote.
	StoreTimeout time.Duration
	// QuadraticBudget is the per-voter credit allowance; n votes on one
	// item cost n² credits. Zero disables enforcement.
	QuadraticBudget int
}

// Service is the voting gateway: received → rate-checked → fraud-checked →
// accepted | rejected. Terminal states only; a rejected vote must be
// resubmitted by the client as a new event.
type Service struct {
	store    VoteStore
	shared   SharedStore
	alerts   AlertPublisher
	limiter  *ratelimit.Limiter
	patterns *fraud.Store
	engine   *fraud.Engine
	batcher  *broadcast.Batcher
	registry *registry.Registry
	stats    *health.Stats
	clock    Clock
	opts     Options
}

func New(
	store VoteStore,
	shared SharedStore,
	alerts AlertPublisher,
	limiter *ratelimit.Limiter,
	patterns *fraud.Store,
	engine *fraud.Engine,
	batcher *broadcast.Batcher,
	reg *registry.Registry,
	stats *health.Stats,
	clock Clock,
	opts Options,
) *Service {
	if alerts == nil {
		alerts = NoopPublisher{}
	}
	if opts.VoteLimit <= 0 {
		opts.VoteLimit = 10
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Service{
		store:    store,
		shared:   shared,
		alerts:   alerts,
		limiter:  limiter,
		patterns: patterns,
		engine:   engine,
		batcher:  batcher,
		registry: reg,
		stats:    stats,
		clock:    clock,
		opts:     opts,
	}
}

// VoteRequest is one inbound vote event plus its connection-derived
// context.
type VoteRequest struct {
	ConnectionID  string
	CompetitionID string
	SubmissionID  string
	VoteType      string

	UserID    string
	Role      string
	SessionID string
	IPAddress string
	UserAgent string
	Weight    float64
}

// VoteResult carries the terminal state back to the originating
// connection: an acknowledgement on acceptance, a typed rejection with any
// triggering alerts otherwise.
type VoteResult struct {
	Accepted  bool
	VoteID    string
	NewCount  int64
	Timestamp time.Time

	Code    domain.ErrCode
	Message string
	Alerts  []domain.FraudAlert
}

func rejected(code domain.ErrCode, msg string, alerts ...domain.FraudAlert) VoteResult {
	return VoteResult{Code: code, Message: msg, Alerts: alerts}
}

// CastVote runs the full pipeline for one vote event. Per-actor state is
// mutated under the actor's lock, but the lock is never held across the
// store write. Acceptance is decided first, I/O happens after.
func (s *Service) CastVote(ctx context.Context, req VoteRequest) VoteResult {
	started := s.clock.Now()
	res := s.castVote(ctx, started, req)

	elapsed := s.clock.Now().Sub(started)
	s.stats.Record(elapsed, !res.Accepted)
	result := "accepted"
	if !res.Accepted {
		result = string(res.Code)
	}
	metrics.RecordVote(result, elapsed)
	return res
}

func (s *Service) castVote(ctx context.Context, now time.Time, req VoteRequest) VoteResult {
	kind, err := domain.ParseVoteKind(req.VoteType)
	if err != nil {
		return rejected(domain.CodeValidation, err.Error())
	}
	if req.CompetitionID == "" || req.SubmissionID == "" {
		return rejected(domain.CodeValidation, "competition_id and submission_id are required")
	}

	// Rate check first: a rejected attempt counts as a connection error
	// and must not touch the actor's pattern.
	if !s.limiter.Allow(req.ConnectionID, EventCastVote, s.opts.VoteLimit, now) {
		s.registry.RecordError(req.ConnectionID, now)
		return rejected(domain.CodeRateLimited, "vote rate limit exceeded, slow down")
	}

	actor := domain.ActorKey(req.UserID, req.SessionID, req.IPAddress)

	var (
		eval       fraud.Evaluation
		summary    domain.PatternSummary
		overBudget bool
	)
	s.patterns.Update(actor, req.IPAddress, req.UserAgent, now, func(p *domain.VotingPattern) {
		if kind == domain.VoteQuadratic && s.opts.QuadraticBudget > 0 {
			overBudget = !domain.WithinQuadraticBudget(p.TargetCounts(), req.SubmissionID, s.opts.QuadraticBudget)
		}
		p.Observe(req.SubmissionID, kind, now)
		eval = s.engine.Evaluate(p, req.CompetitionID, req.SubmissionID, now)
		p.Suspicion = eval.Score
		summary = p.Summary(now)
	})

	// Sibling knowledge can only tighten the decision: an actor flagged
	// by another instance, or carrying a shared suspicion above the block
	// threshold, is blocked here too.
	if !eval.Blocked {
		if reason, blocked := s.siblingVerdict(ctx, actor); blocked {
			eval.Blocked = true
			eval.Reason = reason
		}
	}

	// Alerts are emitted for operator visibility whether or not the vote
	// is blocked; only critical rules and the score threshold block.
	s.emitAlerts(eval.Alerts)

	if eval.Blocked {
		zlog.Warn().
			Str("actor", actor).
			Str("competition_id", req.CompetitionID).
			Str("submission_id", req.SubmissionID).
			Str("reason", eval.Reason).
			Float64("suspicion", eval.Score).
			Msg("vote blocked by fraud screen")
		s.flagSuspicious(actor, eval.Score)
		return rejected(domain.CodeFraudDetected, "vote rejected by integrity screen", eval.Alerts...)
	}

	if overBudget {
		return rejected(domain.CodeBudgetExceeded, "quadratic vote budget exhausted for this session")
	}

	vote, err := domain.NewVote(req.CompetitionID, req.SubmissionID, actor, kind, req.Weight, now)
	if err != nil {
		return rejected(domain.CodeValidation, err.Error())
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	newCount, err := s.store.RecordVote(storeCtx, vote)
	if err != nil {
		zlog.Error().Err(err).Str("vote_id", vote.ID).Msg("vote persistence failed")
		return rejected(domain.CodeStorageFailure, "vote could not be stored, please retry")
	}

	s.batcher.Enqueue(broadcast.CompetitionAudience(req.CompetitionID), broadcast.Update{
		Event: "vote_count",
		Data: map[string]any{
			"competition_id": req.CompetitionID,
			"submission_id":  req.SubmissionID,
			"count":          newCount,
		},
	})

	s.sharePattern(summary)

	return VoteResult{
		Accepted:  true,
		VoteID:    vote.ID,
		NewCount:  newCount,
		Timestamp: now.UTC(),
		Alerts:    eval.Alerts,
	}
}

// emitAlerts fans alerts out to the ops audience and the audit broker.
// Fire-and-forget: failures are logged, never thrown back into the vote
// path.
func (s *Service) emitAlerts(alerts []domain.FraudAlert) {
	for _, alert := range alerts {
		metrics.RecordFraudAlert(string(alert.Rule), string(alert.Severity))
		s.batcher.Enqueue(broadcast.OpsAudience, broadcast.Update{
			Event: "fraud_alert",
			Data:  alert,
		})

		a := alert
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.alerts.PublishFraudAlert(ctx, a); err != nil {
				zlog.Warn().Err(err).Str("alert_id", a.ID).Msg("fraud alert publish failed")
			}
		}()
	}
}

// siblingVerdict consults the shared store for what other instances know
// about the actor. Errors are ignored: the store is advisory and must never
// fail a vote on its own.
func (s *Service) siblingVerdict(ctx context.Context, actor string) (string, bool) {
	if s.shared == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, sharedReadTimeout)
	defer cancel()

	if flagged, err := s.shared.IsFlagged(ctx, actor); err == nil && flagged {
		return "sibling_flag", true
	}
	if summary, ok, err := s.shared.LoadPattern(ctx, actor); err == nil && ok && summary.Suspicion >= s.engine.BlockScore() {
		return "sibling_suspicion", true
	}
	return "", false
}

func (s *Service) sharePattern(summary domain.PatternSummary) {
	if s.shared == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.shared.SharePattern(ctx, summary); err != nil {
			zlog.Debug().Err(err).Str("actor", summary.ActorKey).Msg("pattern share skipped")
		}
	}()
}

func (s *Service) flagSuspicious(actor string, score float64) {
	if s.shared == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.shared.FlagSuspicious(ctx, actor, score); err != nil {
			zlog.Debug().Err(err).Str("actor", actor).Msg("suspicion flag skipped")
		}
	}()
}

// Results serves the read path for a competition's tallies, with a short
// shared-store cache in front of the vote store.
func (s *Service) Results(ctx context.Context, competitionID string) (map[string]int64, error) {
	if competitionID == "" {
		return nil, domain.ErrValidation("competition_id is required")
	}

	if s.shared != nil {
		if counts, ok, err := s.shared.GetVoteCounts(ctx, competitionID); err == nil && ok {
			return counts, nil
		}
	}

	counts, err := s.store.ReadVoteCounts(ctx, competitionID)
	if err != nil {
		return nil, domain.ErrStorageFailure("vote counts unavailable")
	}

	if s.shared != nil {
		if err := s.shared.CacheVoteCounts(ctx, competitionID, counts); err != nil {
			zlog.Debug().Err(err).Msg("vote count cache skipped")
		}
	}
	return counts, nil
}
