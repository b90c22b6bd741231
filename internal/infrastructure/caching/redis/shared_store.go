package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nestfest/vote-service/internal/domain"
)

const (
	patternKeyPrefix = "votefraud:pattern:"
	flagKeyPrefix    = "votefraud:flag:"
	snapshotListKey  = "votehealth:snapshots"
	countsKeyPrefix  = "votecounts:"

	snapshotHistory = 100
)

// SharedStore is the optional cross-instance TTL store. Everything here is
// best-effort: unavailability degrades fraud detection to instance-local
// knowledge but must never block vote acceptance.
type SharedStore struct {
	rdb        *redis.Client
	patternTTL time.Duration
	countsTTL  time.Duration
}

func New(url string) (*SharedStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &SharedStore{
		rdb:        rdb,
		patternTTL: domain.PatternRetention,
		countsTTL:  2 * time.Second,
	}, nil
}

func (s *SharedStore) Close() error { return s.rdb.Close() }

// SharePattern publishes an actor's pattern summary for sibling instances.
func (s *SharedStore) SharePattern(ctx context.Context, summary domain.PatternSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, patternKeyPrefix+summary.ActorKey, body, s.patternTTL).Err()
}

// LoadPattern fetches a sibling instance's view of an actor, if any.
func (s *SharedStore) LoadPattern(ctx context.Context, actorKey string) (domain.PatternSummary, bool, error) {
	var summary domain.PatternSummary
	body, err := s.rdb.Get(ctx, patternKeyPrefix+actorKey).Bytes()
	if err == redis.Nil {
		return summary, false, nil
	}
	if err != nil {
		return summary, false, err
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return summary, false, err
	}
	return summary, true, nil
}

// FlagSuspicious marks an actor across instances. First writer wins; the
// flag expires with the pattern window.
func (s *SharedStore) FlagSuspicious(ctx context.Context, actorKey string, score float64) error {
	return s.rdb.SetNX(ctx, flagKeyPrefix+actorKey, score, s.patternTTL).Err()
}

// IsFlagged reports whether any instance has flagged the actor.
func (s *SharedStore) IsFlagged(ctx context.Context, actorKey string) (bool, error) {
	n, err := s.rdb.Exists(ctx, flagKeyPrefix+actorKey).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CacheVoteCounts stores a competition's tallies briefly for the read path.
func (s *SharedStore) CacheVoteCounts(ctx context.Context, competitionID string, counts map[string]int64) error {
	body, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, countsKeyPrefix+competitionID, body, s.countsTTL).Err()
}

func (s *SharedStore) GetVoteCounts(ctx context.Context, competitionID string) (map[string]int64, bool, error) {
	body, err := s.rdb.Get(ctx, countsKeyPrefix+competitionID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var counts map[string]int64
	if err := json.Unmarshal(body, &counts); err != nil {
		return nil, false, err
	}
	return counts, true, nil
}

// AppendSnapshot keeps a bounded health snapshot history for dashboards.
func (s *SharedStore) AppendSnapshot(ctx context.Context, snapshot any) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, snapshotListKey, body)
	pipe.LTrim(ctx, snapshotListKey, 0, snapshotHistory-1)
	pipe.Expire(ctx, snapshotListKey, 24*time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}

// Probe times a PING for the health monitor's latency classification.
func (s *SharedStore) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	return time.Since(start), err
}
