package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestfest/vote-service/internal/broadcast"
	"github.com/nestfest/vote-service/internal/domain"
	"github.com/nestfest/vote-service/internal/fraud"
	"github.com/nestfest/vote-service/internal/gateway"
	"github.com/nestfest/vote-service/internal/health"
	"github.com/nestfest/vote-service/internal/ratelimit"
	"github.com/nestfest/vote-service/internal/registry"
)

type stubVoteStore struct {
	counts map[string]int64
	err    error
}

func (s *stubVoteStore) RecordVote(context.Context, *domain.Vote) (int64, error) {
	return 1, s.err
}

func (s *stubVoteStore) ReadVoteCounts(context.Context, string) (map[string]int64, error) {
	return s.counts, s.err
}

type nullSender struct{}

func (nullSender) SendBatch(string, []broadcast.Update) {}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func newTestRouter(t *testing.T, store gateway.VoteStore) http.Handler {
	t.Helper()
	reg := registry.New()
	patterns := fraud.NewStore()
	limiter := ratelimit.New(time.Minute)
	stats := health.NewStats()
	batcher := broadcast.NewBatcher(nullSender{}, 10, 50*time.Millisecond)

	svc := gateway.New(store, nil, nil, limiter, patterns,
		fraud.NewEngine(fraud.DefaultRules(), 0), batcher, reg, stats, realClock{}, gateway.Options{})
	monitor := health.NewMonitor(reg, patterns, limiter, batcher, stats, nil, nil,
		health.DefaultThresholds(), time.Hour)

	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	return NewRouter(NewHandlers(svc, monitor), ws, RouterConfig{RequestsPerMinute: 1000})
}

func TestRouter_Healthz(t *testing.T) {
	router := newTestRouter(t, &stubVoteStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data health.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, &stubVoteStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Results(t *testing.T) {
	t.Run("returns_competition_tallies", func(t *testing.T) {
		router := newTestRouter(t, &stubVoteStore{counts: map[string]int64{"sub-1": 12}})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/vote/v1/competitions/comp-1/results", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data struct {
				CompetitionID string           `json:"competition_id"`
				Counts        map[string]int64 `json:"counts"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "comp-1", body.Data.CompetitionID)
		assert.Equal(t, int64(12), body.Data.Counts["sub-1"])
	})

	t.Run("store_outage_maps_to_503", func(t *testing.T) {
		router := newTestRouter(t, &stubVoteStore{err: context.DeadlineExceeded})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/vote/v1/competitions/comp-1/results", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
