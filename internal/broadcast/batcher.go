package broadcast

import (
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/nestfest/vote-service/internal/metrics"
)

const (
	DefaultMaxSize  = 10
	DefaultMaxDelay = 100 * time.Millisecond
)

// Update is one pending payload for an audience.
type Update struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Sender delivers one combined batch to every connection in an audience.
// Implemented by the websocket hub.
type Sender interface {
	SendBatch(audience string, updates []Update)
}

type batch struct {
	updates  []Update
	openedAt time.Time
	timer    *time.Timer
}

// Batcher buffers outbound broadcasts per audience and flushes on whichever
// of the size or delay trigger fires first. This bounds worst-case fan-out
// to one message per audience per flush interval regardless of vote volume,
// at the cost of up to maxDelay of announced-result lag.
type Batcher struct {
	sender   Sender
	maxSize  int
	maxDelay time.Duration

	mu      sync.Mutex
	batches map[string]*batch
	closed  bool
}

func NewBatcher(sender Sender, maxSize int, maxDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Batcher{
		sender:   sender,
		maxSize:  maxSize,
		maxDelay: maxDelay,
		batches:  make(map[string]*batch),
	}
}

// Enqueue appends to the audience's batch, opening one with a flush timer
// if none exists. Reaching the size threshold force-flushes immediately so
// bursts don't accumulate latency.
func (b *Batcher) Enqueue(audience string, u Update) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		zlog.Warn().Str("audience", audience).Msg("batcher closed, update dropped")
		return
	}

	cur, ok := b.batches[audience]
	if !ok {
		cur = &batch{openedAt: time.Now()}
		cur.timer = time.AfterFunc(b.maxDelay, func() { b.flushExpired(audience, cur) })
		b.batches[audience] = cur
	}
	cur.updates = append(cur.updates, u)

	if len(cur.updates) >= b.maxSize {
		b.detachLocked(audience, cur)
		updates := cur.updates
		b.mu.Unlock()
		b.send(audience, updates, "size")
		return
	}
	b.mu.Unlock()
}

// flushExpired is the timer path. The batch pointer identifies the enqueue
// set: if a size-triggered flush already took it, this is a no-op, so no
// enqueue set ever flushes twice.
func (b *Batcher) flushExpired(audience string, expired *batch) {
	b.mu.Lock()
	cur, ok := b.batches[audience]
	if !ok || cur != expired {
		b.mu.Unlock()
		return
	}
	b.detachLocked(audience, cur)
	updates := cur.updates
	b.mu.Unlock()
	b.send(audience, updates, "timer")
}

func (b *Batcher) detachLocked(audience string, cur *batch) {
	delete(b.batches, audience)
	if cur.timer != nil {
		cur.timer.Stop()
	}
}

func (b *Batcher) send(audience string, updates []Update, trigger string) {
	if len(updates) == 0 {
		return
	}
	metrics.RecordBatchFlush(trigger, len(updates))
	b.sender.SendBatch(audience, updates)
}

// Pending reports queued update counts per audience, for health snapshots.
func (b *Batcher) Pending() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.batches))
	for audience, cur := range b.batches {
		out[audience] = len(cur.updates)
	}
	return out
}

// Close drains every pending batch and refuses further enqueues. Called on
// shutdown so queued result deltas still reach their audiences.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	type drained struct {
		audience string
		updates  []Update
	}
	var all []drained
	for audience, cur := range b.batches {
		if cur.timer != nil {
			cur.timer.Stop()
		}
		all = append(all, drained{audience: audience, updates: cur.updates})
		delete(b.batches, audience)
	}
	b.mu.Unlock()

	for _, d := range all {
		b.send(d.audience, d.updates, "shutdown")
	}
}
