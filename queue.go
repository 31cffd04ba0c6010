package queue

import (
	"context"
	"time"

	"github.com/go-foundations/jobqueue/store"
	"github.com/rs/zerolog"
)

// Queue wires the atomic transition procedures to a backing store.Store under
// a single namespace prefix (DATA MODEL §3). It is the only exported entry
// point workers and producers call — see EXTERNAL INTERFACES §6.
type Queue struct {
	name    string
	keys    store.Keys
	backend store.Store
	log     zerolog.Logger

	limiter    Limiter
	lockMs     int64
	keepJobs   KeepJobs
	maxMetrics int64

	collector *Collector
}

// Config configures a Queue at construction time; zero values fall back to
// the stated defaults (maxLenEvents=10000, unbounded retention).
type Config struct {
	Limiter        Limiter
	LockDurationMs int64
	KeepJobs       KeepJobs
	MaxLenEvents   int64
	MaxMetricsSize int64
	Logger         *zerolog.Logger
	Collector      *Collector
}

// DefaultConfig returns the package's stated defaults.
func DefaultConfig() Config {
	return Config{
		LockDurationMs: 30_000,
		KeepJobs:       UnboundedKeepJobs,
		MaxLenEvents:   defaultMaxLenEvents,
	}
}

// New creates a Queue named name (its store namespace prefix) backed by
// backend.
func New(name string, backend store.Store, cfg Config) *Queue {
	if cfg.LockDurationMs == 0 {
		cfg.LockDurationMs = 30_000
	}
	if cfg.KeepJobs == (KeepJobs{}) {
		cfg.KeepJobs = UnboundedKeepJobs
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	q := &Queue{
		name:       name,
		keys:       store.NewKeys(name),
		backend:    backend,
		log:        logger.With().Str("queue", name).Logger(),
		limiter:    cfg.Limiter,
		lockMs:     cfg.LockDurationMs,
		keepJobs:   cfg.KeepJobs,
		maxMetrics: cfg.MaxMetricsSize,
		collector:  cfg.Collector,
	}
	if cfg.MaxLenEvents > 0 {
		_ = backend.Atomic(context.Background(), name, func(tx store.Tx) error {
			return tx.HSet(q.keys.Meta(), map[string]string{
				"opts.maxLenEvents": itoa64(cfg.MaxLenEvents),
			})
		})
	}
	return q
}

// Keys exposes the queue's key namespace, e.g. for CLI introspection.
func (q *Queue) Keys() store.Keys { return q.keys }

// Add implements §4.7 add.
func (q *Queue) Add(ctx context.Context, opts Options) (string, error) {
	now := nowMs()
	var jobID string
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		id, err := addTx(tx, q.keys, opts, now)
		jobID = id
		return err
	})
	q.logResult("add", jobID, err)
	return jobID, err
}

// MoveToActive implements §4.7 moveToActive.
func (q *Queue) MoveToActive(ctx context.Context, token string, preselected string) (ActiveResult, error) {
	now := nowMs()
	var result ActiveResult
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		r, err := moveToActiveTx(tx, q.keys, q.limiter, now, token, q.lockMs, preselected)
		result = r
		return err
	})
	if err == nil && result.Job != nil {
		q.log.Debug().Str("jobId", result.Job.ID).Msg("moveToActive")
	}
	return result, err
}

// MoveToFinished implements §4.7 moveToFinished.
func (q *Queue) MoveToFinished(ctx context.Context, jobID string, target FinishTarget, fieldName, fieldValue, token string, fetchNext bool) (FinishResult, error) {
	now := nowMs()
	opts := FinishOptions{
		Target:     target,
		FieldName:  fieldName,
		FieldValue: fieldValue,
		Token:      token,
		FetchNext:  fetchNext,
		KeepJobs:   q.keepJobs,
		Limiter:    q.limiter,
		LockMs:     q.lockMs,
		MaxMetrics: q.maxMetrics,
	}
	var result FinishResult
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		r, err := moveToFinishedTx(tx, q.keys, jobID, opts, now)
		result = r
		return err
	})
	q.logResult(string(target), jobID, err)
	if err == nil {
		q.collector.observeFinish(q.name, target)
	}
	return result, err
}

// MoveToDelayed implements §4.7 moveToDelayed.
func (q *Queue) MoveToDelayed(ctx context.Context, jobID, token string, fireTimeMs int64) error {
	now := nowMs()
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		return moveToDelayedTx(tx, q.keys, jobID, token, fireTimeMs, now)
	})
	q.logResult("moveToDelayed", jobID, err)
	return err
}

// Promote implements §4.7 promote.
func (q *Queue) Promote(ctx context.Context, jobID string) error {
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		return promoteTx(tx, q.keys, jobID)
	})
	q.logResult("promote", jobID, err)
	return err
}

// MoveStalledToWait implements moveStalledToWait: the core's half of the
// stalled-job contract (§2 item 7, §5 Cancellation/timeouts). It requeues
// every ID an external heartbeat detector has placed in the stalled set and
// returns the IDs it moved.
func (q *Queue) MoveStalledToWait(ctx context.Context) ([]string, error) {
	now := nowMs()
	var moved []string
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		m, err := moveStalledToWaitTx(tx, q.keys, now)
		moved = m
		return err
	})
	q.logResult("moveStalledToWait", "", err)
	return moved, err
}

// Retry implements §4.7 retry.
func (q *Queue) Retry(ctx context.Context, jobID, token string, mode PushMode) error {
	now := nowMs()
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		return retryTx(tx, q.keys, jobID, token, mode, now)
	})
	q.logResult("retry", jobID, err)
	return err
}

// ChangePriority implements §4.7 changePriority.
func (q *Queue) ChangePriority(ctx context.Context, jobID string, newPriority int64, lifo bool) error {
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		return changePriorityTx(tx, q.keys, jobID, newPriority, lifo)
	})
	q.logResult("changePriority", jobID, err)
	return err
}

// Pause sets the queue's paused flag so future target-list resolution routes
// through paused instead of wait, moving any entries of wait into paused.
func (q *Queue) Pause(ctx context.Context) error {
	return q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		return setPaused(tx, q.keys, true)
	})
}

// Resume clears the queue's paused flag, moving any entries of paused back
// into wait.
func (q *Queue) Resume(ctx context.Context) error {
	return q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		return setPaused(tx, q.keys, false)
	})
}

// NextDelayedTimestamp implements §4.3 getNextDelayedTimestamp as a
// read-only query.
func (q *Queue) NextDelayedTimestamp(ctx context.Context) (int64, bool, error) {
	var ts int64
	var ok bool
	err := q.backend.Atomic(ctx, q.name, func(tx store.Tx) error {
		t, o, err := nextDelayedTimestamp(tx, q.keys)
		ts, ok = t, o
		return err
	})
	return ts, ok, err
}

func (q *Queue) logResult(op, jobID string, err error) {
	if err != nil {
		if code, ok := Code(err); ok {
			q.log.Warn().Str("op", op).Str("jobId", jobID).Int("code", code).Msg(err.Error())
			return
		}
		q.log.Error().Str("op", op).Str("jobId", jobID).Err(err).Msg("transition failed")
		return
	}
	q.log.Debug().Str("op", op).Str("jobId", jobID).Msg(op)
}

func nowMs() int64 { return time.Now().UnixMilli() }
