// Package dispatch turns each fired trigger into exactly one execution
// event: it derives the destination topic, merges execution metadata into
// the payload snapshot, runs the job's handler, and keeps the per-identity
// execution-state table that backs the running-job guard.
//
// Delivery is best-effort, at most once per fire: handler and sink failures
// are logged at this boundary and never propagate into the firing loop, and
// there is no automatic retry.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"slotsched/internal/clock"
	"slotsched/internal/handler"
	"slotsched/internal/store"
	"slotsched/pkg/logx"
)

const (
	payloadKeyExecutionTime = "executionTime"
	payloadKeyExecutionID   = "executionId"
	payloadKeyGameCode      = "gameCode"
	payloadKeyGameType      = "gameType"

	topicPrefixSlotSchedule = "slot-schedule-"
)

type identityKey struct {
	name  string
	group string
}

type Dispatcher struct {
	handlers *handler.Registry
	clk      clock.Clock
	log      logx.Logger

	// Sink failures can come in bursts when the sink is down; the limiter
	// keeps the error log readable.
	errLimit *rate.Limiter

	mu      sync.Mutex
	running map[identityKey]time.Time
}

func New(handlers *handler.Registry, clk clock.Clock, log logx.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		handlers: handlers,
		clk:      clk,
		log:      log,
		errLimit: rate.NewLimiter(rate.Limit(1), 5),
		running:  map[identityKey]time.Time{},
	}
}

// IsRunning reports whether an execution for this identity is in flight.
func (d *Dispatcher) IsRunning(name, group string) bool {
	d.mu.Lock()
	_, ok := d.running[identityKey{name, group}]
	d.mu.Unlock()
	return ok
}

// tryStart atomically marks the identity running. Reports false when an
// execution is already in flight.
func (d *Dispatcher) tryStart(key identityKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.running[key]; ok {
		return false
	}
	d.running[key] = d.clk.Now()
	return true
}

func (d *Dispatcher) finish(key identityKey) {
	d.mu.Lock()
	delete(d.running, key)
	d.mu.Unlock()
}

// Dispatch runs the execution for one fired trigger. Repeated fires of the
// same identity are serialized by skipping: if the identity is already
// executing, this fire is consumed without an event (at-most-once policy).
func (d *Dispatcher) Dispatch(ctx context.Context, job store.JobRecord, firedAt time.Time) {
	key := identityKey{job.Name, job.Group}
	if !d.tryStart(key) {
		d.log.Warn("execution skipped, identity already running",
			logx.String("job", job.Name), logx.String("group", job.Group))
		return
	}
	defer d.finish(key)

	h, ok := d.handlers.Resolve(job.HandlerRef)
	if !ok {
		d.log.Error("handler not registered at fire time",
			logx.String("job", job.Name), logx.String("handler", job.HandlerRef))
		return
	}

	payload := make(map[string]any, len(job.Payload)+1)
	for k, v := range job.Payload {
		payload[k] = v
	}
	payload[payloadKeyExecutionTime] = d.clk.Now().UTC().Format(time.RFC3339)
	payload[payloadKeyExecutionID] = uuid.NewString()

	exec := handler.Execution{
		JobName:    job.Name,
		JobGroup:   job.Group,
		HandlerRef: job.HandlerRef,
		Topic:      deriveTopic(job),
		FiredAt:    firedAt,
		Payload:    payload,
	}

	d.log.Info("executing job",
		logx.String("job", job.Name), logx.String("group", job.Group),
		logx.String("topic", exec.Topic), logx.Time("fired_at", firedAt))

	if err := h.Execute(ctx, exec); err != nil {
		if d.errLimit.Allow() {
			d.log.Error("event delivery failed",
				logx.String("job", job.Name), logx.String("topic", exec.Topic), logx.Err(err))
		}
	}
}

// deriveTopic routes slot jobs to slot-schedule-<game> and everything else
// to the job group.
func deriveTopic(job store.JobRecord) string {
	game, _ := job.Payload[payloadKeyGameCode].(string)
	if game == "" {
		game, _ = job.Payload[payloadKeyGameType].(string)
	}
	if game != "" {
		return topicPrefixSlotSchedule + strings.ToLower(game)
	}
	if job.Group != "" {
		return job.Group
	}
	return "default"
}
