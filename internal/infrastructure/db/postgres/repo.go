package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nestfest/vote-service/internal/domain"
)

// Repo persists accepted votes. The wider platform owns the schema; the
// engine only ever inserts votes and reads per-submission tallies.
type Repo struct {
	db *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// RecordVote inserts the vote and returns the submission's new tally, in
// one transaction so concurrent inserts can't report a stale count.
func (r *Repo) RecordVote(ctx context.Context, v *domain.Vote) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO votes (id, competition_id, submission_id, voter_id, vote_type, vote_weight, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.CompetitionID, v.SubmissionID, v.VoterID, string(v.Kind), v.Weight, v.CastAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert vote: %w", err)
	}

	var count int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM votes
		WHERE competition_id = $1 AND submission_id = $2`,
		v.CompetitionID, v.SubmissionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

// ReadVoteCounts returns per-submission tallies for a competition.
func (r *Repo) ReadVoteCounts(ctx context.Context, competitionID string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT submission_id, COUNT(*)
		FROM votes
		WHERE competition_id = $1
		GROUP BY submission_id`,
		competitionID,
	)
	if err != nil {
		return nil, fmt.Errorf("read vote counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var submissionID string
		var n int64
		if err := rows.Scan(&submissionID, &n); err != nil {
			return nil, fmt.Errorf("scan vote count: %w", err)
		}
		counts[submissionID] = n
	}
	return counts, rows.Err()
}
