package ws

import (
	"time"

	"github.com/nestfest/vote-service/internal/broadcast"
	"github.com/nestfest/vote-service/internal/domain"
)

// ClientMessage is the single inbound frame shape. Type selects the
// operation; unused fields stay empty.
type ClientMessage struct {
	Type          string  `json:"type"`
	CompetitionID string  `json:"competitionId,omitempty"`
	SubmissionID  string  `json:"submissionId,omitempty"`
	VoteType      string  `json:"voteType,omitempty"`
	Weight        float64 `json:"weight,omitempty"`
	Audience      string  `json:"audience,omitempty"`
}

const (
	msgCastVote    = "cast_vote"
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPing        = "ping"
)

type batchEnvelope struct {
	Type      string             `json:"type"`
	Updates   []broadcast.Update `json:"updates"`
	Timestamp time.Time          `json:"timestamp"`
}

type voteAck struct {
	Type      string    `json:"type"`
	VoteID    string    `json:"voteId"`
	Count     int64     `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type voteRejection struct {
	Type    string              `json:"type"`
	Code    domain.ErrCode      `json:"code"`
	Message string              `json:"message"`
	Alerts  []domain.FraudAlert `json:"alerts,omitempty"`
}

type errorFrame struct {
	Type    string         `json:"type"`
	Code    domain.ErrCode `json:"code"`
	Message string         `json:"message"`
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func newVoteAck(voteID string, count int64, at time.Time) voteAck {
	return voteAck{Type: "vote_ack", VoteID: voteID, Count: count, Timestamp: at}
}

func newVoteRejection(code domain.ErrCode, message string, alerts []domain.FraudAlert) voteRejection {
	return voteRejection{Type: "vote_rejected", Code: code, Message: message, Alerts: alerts}
}

func newErrorFrame(code domain.ErrCode, message string) errorFrame {
	return errorFrame{Type: "error", Code: code, Message: message}
}
