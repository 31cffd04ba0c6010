package queue

import (
	"strconv"

	"github.com/go-foundations/jobqueue/store"
)

// addTx implements §4.7 add, running inside an Atomic call. now is the
// caller's wall-clock time in unix milliseconds.
func addTx(tx store.Tx, k store.Keys, opts Options, now int64) (string, error) {
	if opts.JobID != "" && IsMarker(opts.JobID) {
		return "", ErrReservedJobID
	}

	if opts.JobID != "" {
		exists, err := tx.Exists(k.Job(opts.JobID))
		if err != nil {
			return "", err
		}
		if exists {
			if opts.Parent != nil {
				fields, err := tx.HGetAll(k.Job(opts.JobID))
				if err != nil {
					return "", err
				}
				existing := JobFromFields(opts.JobID, fields)
				_, inCompleted, err := tx.ZScore(k.Completed(), opts.JobID)
				if err != nil {
					return "", err
				}
				if inCompleted {
					if err := onChildCompleted(tx, emitEvent, k.Prefix, Job{
						ID: opts.JobID, ReturnValue: existing.ReturnValue,
						ParentKey: opts.ParentKey, Parent: opts.Parent,
					}, now); err != nil {
						return "", err
					}
				} else if opts.ParentDependenciesKey != "" {
					if err := tx.SAdd(opts.ParentDependenciesKey, childKey(k.Prefix, opts.JobID)); err != nil {
						return "", err
					}
				}
			}
			if err := emitEvent(tx, k, event{Name: "duplicated", JobID: opts.JobID}); err != nil {
				return "", err
			}
			return opts.JobID, nil
		}
	}

	if opts.ParentKey != "" {
		exists, err := tx.Exists(opts.ParentKey)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", ErrMissingParent
		}
	}

	jobID := opts.JobID
	idCounter, err := tx.Incr(k.IDCounter())
	if err != nil {
		return "", err
	}
	if jobID == "" {
		jobID = strconv.FormatInt(idCounter, 10)
	}

	job := Job{
		ID:        jobID,
		Name:      opts.Name,
		Data:      opts.Data,
		Timestamp: now,
		Delay:     opts.Delay,
		Priority:  opts.Priority,
		Attempts:  opts.Attempts,
		ParentKey: opts.ParentKey,
		Parent:    opts.Parent,
		RJK:       opts.ParentDependenciesKey,
	}
	if opts.Parent != nil {
		pk := store.NewKeys(opts.Parent.QueueKey)
		if fpof, _, err := tx.HGet(pk.Job(opts.Parent.ID), "fpof"); err == nil && fpof == "1" {
			job.FPOF = true
		}
		if rdof, _, err := tx.HGet(pk.Job(opts.Parent.ID), "rdof"); err == nil && rdof == "1" {
			job.RDOF = true
		}
	}
	if err := tx.HSet(k.Job(jobID), job.ToFields()); err != nil {
		return "", err
	}
	if err := emitEvent(tx, k, event{Name: "added", JobID: jobID, JobName: opts.Name}); err != nil {
		return "", err
	}

	switch {
	case opts.WaitChildrenKey != "":
		if err := tx.ZAdd(k.WaitingChildren(), float64(now), jobID); err != nil {
			return "", err
		}
		if err := emitEvent(tx, k, event{Name: "waiting-children", JobID: jobID}); err != nil {
			return "", err
		}
	case opts.Delay > 0:
		fireTime := now + opts.Delay
		if err := tx.ZAdd(k.Delayed(), packDelayScore(fireTime, idCounter), jobID); err != nil {
			return "", err
		}
		if err := emitEvent(tx, k, event{Name: "delayed", JobID: jobID, HasDelay: true, Delay: fireTime}); err != nil {
			return "", err
		}
		if err := refreshDelayMarker(tx, k); err != nil {
			return "", err
		}
	case opts.Priority > 0:
		if err := addJobWithPriority(tx, k, jobID, opts.Priority); err != nil {
			return "", err
		}
		if err := emitEvent(tx, k, event{Name: "waiting", JobID: jobID}); err != nil {
			return "", err
		}
	default:
		target, _, err := targetList(tx, k)
		if err != nil {
			return "", err
		}
		if err := stripLeadingMarker(tx, target); err != nil {
			return "", err
		}
		if opts.LIFO {
			if err := tx.RPush(target, jobID); err != nil {
				return "", err
			}
		} else {
			if err := tx.LPush(target, jobID); err != nil {
				return "", err
			}
		}
		if err := emitEvent(tx, k, event{Name: "waiting", JobID: jobID}); err != nil {
			return "", err
		}
	}

	if opts.ParentDependenciesKey != "" {
		if err := tx.SAdd(opts.ParentDependenciesKey, childKey(k.Prefix, jobID)); err != nil {
			return "", err
		}
	}

	return jobID, nil
}

// ActiveResult is the tuple returned by moveToActive and by
// moveToFinished(fetchNext=true) (§6).
type ActiveResult struct {
	Job             *Job
	RateLimitMs     int64
	NextDelayFireMs int64
}

// moveToActiveTx implements §4.7 moveToActive.
func moveToActiveTx(tx store.Tx, k store.Keys, limiter Limiter, now int64, lockToken string, lockDurationMs int64, preselected string) (ActiveResult, error) {
	if err := promoteDelayedJobs(tx, k, emitEvent, now); err != nil {
		return ActiveResult{}, err
	}

	if preselected != "" && IsMarker(preselected) {
		if _, err := tx.LRem(k.Active(), preselected); err != nil {
			return ActiveResult{}, err
		}
	}

	expireMs, err := checkRateLimit(tx, k, limiter)
	if err != nil {
		return ActiveResult{}, err
	}
	if expireMs > 0 {
		return ActiveResult{RateLimitMs: expireMs}, nil
	}

	paused, err := isPaused(tx, k)
	if err != nil {
		return ActiveResult{}, err
	}
	if paused {
		return ActiveResult{}, nil
	}

	target, _, err := targetList(tx, k)
	if err != nil {
		return ActiveResult{}, err
	}

	jobID, err := popRealJobFromTarget(tx, target)
	if err != nil {
		return ActiveResult{}, err
	}

	if jobID == "" {
		var ok bool
		jobID, ok, err = moveJobFromPriorityToActive(tx, k)
		if err != nil {
			return ActiveResult{}, err
		}
		if !ok {
			nextFire, hasDelay, err := nextDelayedTimestamp(tx, k)
			if err != nil {
				return ActiveResult{}, err
			}
			if hasDelay {
				return ActiveResult{NextDelayFireMs: nextFire}, nil
			}
			return ActiveResult{}, nil
		}
	} else if err := tx.LPush(k.Active(), jobID); err != nil {
		return ActiveResult{}, err
	}

	fields, err := tx.HGetAll(k.Job(jobID))
	if err != nil {
		return ActiveResult{}, err
	}
	job := JobFromFields(jobID, fields)

	// A job re-acquired here may have been marked stale by an external
	// heartbeat detector (§5 Cancellation/timeouts); clear that marking now
	// that a worker holds it again.
	if _, err := tx.SRem(k.Stalled(), jobID); err != nil {
		return ActiveResult{}, err
	}

	if err := recordRateLimitedStart(tx, k, limiter); err != nil {
		return ActiveResult{}, err
	}
	if lockToken != "0" && lockToken != "" {
		if err := tx.SetPX(k.Lock(jobID), lockToken, lockDurationMs); err != nil {
			return ActiveResult{}, err
		}
	}
	if err := emitEvent(tx, k, event{Name: "active", JobID: jobID}); err != nil {
		return ActiveResult{}, err
	}
	job.ProcessedOn = now
	job.AttemptsMade++
	if err := tx.HSet(k.Job(jobID), map[string]string{
		"processedOn":  strconv.FormatInt(now, 10),
		"attemptsMade": strconv.FormatInt(job.AttemptsMade, 10),
	}); err != nil {
		return ActiveResult{}, err
	}

	return ActiveResult{Job: &job}, nil
}

// popRealJobFromTarget pops from target's tail, discarding (and retrying past)
// any marker encountered, per §4.7 step 5: "If the popped element is a '0:'
// marker, remove it from active and try once more." jobID is "" if target has
// no real job left.
func popRealJobFromTarget(tx store.Tx, target string) (string, error) {
	for {
		v, ok, err := tx.RPop(target)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		if !IsMarker(v) {
			return v, nil
		}
		// A popped marker was never pushed into active by this call path
		// (moveToActive pushes only the chosen real job), so there is
		// nothing to remove from active — discard and retry.
	}
}

// FinishTarget is completed or failed, the two terminal states §4.7
// moveToFinished may route a job to.
type FinishTarget string

const (
	TargetCompleted FinishTarget = "completed"
	TargetFailed    FinishTarget = "failed"
)

// FinishOptions configures moveToFinished.
type FinishOptions struct {
	Target      FinishTarget
	FieldName   string // "returnvalue" or "failedReason"
	FieldValue  string
	Token       string // "0" to skip lock validation
	FetchNext   bool
	KeepJobs    KeepJobs
	Limiter     Limiter
	LockMs      int64
	MaxMetrics  int64 // 0 disables metrics collection
}

// FinishResult mirrors moveToFinished's possible success payload when
// fetchNext is requested.
type FinishResult struct {
	Next    ActiveResult
	Drained bool
}

// moveToFinishedTx implements §4.7 moveToFinished.
func moveToFinishedTx(tx store.Tx, k store.Keys, jobID string, opts FinishOptions, now int64) (FinishResult, error) {
	fields, err := tx.HGetAll(k.Job(jobID))
	if err != nil {
		return FinishResult{}, err
	}
	if len(fields) == 0 {
		return FinishResult{}, ErrMissingJob
	}
	job := JobFromFields(jobID, fields)

	if opts.Token != "0" && opts.Token != "" {
		lockVal, hasLock, err := tx.Get(k.Lock(jobID))
		if err != nil {
			return FinishResult{}, err
		}
		if !hasLock {
			return FinishResult{}, ErrMissingLock
		}
		if lockVal != opts.Token {
			return FinishResult{}, ErrLockMismatch
		}
		if err := tx.Del(k.Lock(jobID)); err != nil {
			return FinishResult{}, err
		}
		if _, err := tx.SRem(k.Stalled(), jobID); err != nil {
			return FinishResult{}, err
		}
	}

	depCount, err := tx.SCard(k.Dependencies(jobID))
	if err != nil {
		return FinishResult{}, err
	}
	if depCount > 0 {
		return FinishResult{}, ErrPendingDependencies
	}

	removedActive, err := tx.LRem(k.Active(), jobID)
	if err != nil {
		return FinishResult{}, err
	}
	if !removedActive {
		return FinishResult{}, ErrNotActive
	}

	if err := trimEvents(tx, k); err != nil {
		return FinishResult{}, err
	}

	if opts.Target == TargetCompleted {
		job.ReturnValue = opts.FieldValue
		if err := onChildCompleted(tx, emitEvent, k.Prefix, job, now); err != nil {
			return FinishResult{}, err
		}
	} else {
		if job.FPOF || job.RDOF {
			if err := onChildFailed(tx, emitEvent, k.Prefix, job, now); err != nil {
				return FinishResult{}, err
			}
		}
	}

	keep := opts.KeepJobs
	setKey := k.Completed()
	if opts.Target == TargetFailed {
		setKey = k.Failed()
	}

	if keep.Count == 0 {
		if err := deleteJobAndAux(tx, k, jobID); err != nil {
			return FinishResult{}, err
		}
		if err := releaseParentDependencyOnDelete(tx, emitEvent, k.Prefix, job, now); err != nil {
			return FinishResult{}, err
		}
	} else {
		job.FinishedOn = now
		updateFields := map[string]string{
			opts.FieldName:  opts.FieldValue,
			"finishedOn":    strconv.FormatInt(now, 10),
		}
		if err := tx.HSet(k.Job(jobID), updateFields); err != nil {
			return FinishResult{}, err
		}
		if err := tx.ZAdd(setKey, float64(now), jobID); err != nil {
			return FinishResult{}, err
		}
		if keep.Age > 0 {
			if err := removeJobsByMaxAge(tx, k, setKey, now-keep.Age*1000, now); err != nil {
				return FinishResult{}, err
			}
		}
		if keep.Count > 0 {
			if err := removeJobsByMaxCount(tx, k, setKey, keep.Count, now); err != nil {
				return FinishResult{}, err
			}
		}
	}

	ev := event{Name: string(opts.Target), JobID: jobID}
	if opts.Target == TargetCompleted {
		ev.ReturnValue = opts.FieldValue
	} else {
		ev.FailedReason = opts.FieldValue
	}
	if err := emitEvent(tx, k, ev); err != nil {
		return FinishResult{}, err
	}
	if opts.Target == TargetFailed && job.Attempts > 0 && job.AttemptsMade >= job.Attempts {
		if err := emitEvent(tx, k, event{Name: "retries-exhausted", JobID: jobID, HasAttempts: true, AttemptsMade: job.AttemptsMade}); err != nil {
			return FinishResult{}, err
		}
	}

	if opts.MaxMetrics > 0 {
		if err := recordMetric(tx, k, string(opts.Target), opts.MaxMetrics, now); err != nil {
			return FinishResult{}, err
		}
	}

	result := FinishResult{}
	if opts.FetchNext {
		next, err := moveToActiveTx(tx, k, opts.Limiter, now, "0", opts.LockMs, "")
		if err != nil {
			return FinishResult{}, err
		}
		result.Next = next
		if next.Job == nil && next.RateLimitMs == 0 {
			empty, err := isQueueDrained(tx, k)
			if err != nil {
				return FinishResult{}, err
			}
			if empty {
				if err := emitEvent(tx, k, event{Name: "drained", JobID: ""}); err != nil {
					return FinishResult{}, err
				}
				result.Drained = true
			}
		}
	}

	return result, nil
}

func isQueueDrained(tx store.Tx, k store.Keys) (bool, error) {
	waitLen, err := tx.LLen(k.Wait())
	if err != nil {
		return false, err
	}
	activeLen, err := tx.LLen(k.Active())
	if err != nil {
		return false, err
	}
	prioritizedLen, err := tx.ZCard(k.Prioritized())
	if err != nil {
		return false, err
	}
	return waitLen == 0 && activeLen == 0 && prioritizedLen == 0, nil
}

// moveToDelayedTx implements §4.7 moveToDelayed.
func moveToDelayedTx(tx store.Tx, k store.Keys, jobID string, token string, fireTimeMs int64, now int64) error {
	fields, err := tx.HGetAll(k.Job(jobID))
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrMissingJob
	}
	if token != "0" && token != "" {
		lockVal, hasLock, err := tx.Get(k.Lock(jobID))
		if err != nil {
			return err
		}
		if !hasLock {
			return ErrMissingLock
		}
		if lockVal != token {
			return ErrLockMismatch
		}
	}
	removed, err := tx.LRem(k.Active(), jobID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotActive
	}
	counter, err := tx.Incr(k.IDCounter())
	if err != nil {
		return err
	}
	if err := tx.ZAdd(k.Delayed(), packDelayScore(fireTimeMs, counter), jobID); err != nil {
		return err
	}
	if err := emitEvent(tx, k, event{Name: "delayed", JobID: jobID, HasDelay: true, Delay: fireTimeMs}); err != nil {
		return err
	}
	return refreshDelayMarker(tx, k)
}

// promoteTx implements §4.7 promote.
func promoteTx(tx store.Tx, k store.Keys, jobID string) error {
	removed, err := tx.ZRem(k.Delayed(), jobID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotActive
	}
	fields, err := tx.HGetAll(k.Job(jobID))
	if err != nil {
		return err
	}
	job := JobFromFields(jobID, fields)

	if err := enqueueByPriority(tx, k, jobID, job.Priority, false); err != nil {
		return err
	}
	if err := tx.HSet(k.Job(jobID), map[string]string{"delay": "0"}); err != nil {
		return err
	}
	return emitEvent(tx, k, event{Name: "waiting", JobID: jobID, Prev: "delayed"})
}

// PushMode selects LPUSH/RPUSH for priority-0 retries, per §4.7 retry.
type PushMode int

const (
	PushLIFO PushMode = iota // RPUSH (tail, popped next)
	PushFIFO                 // LPUSH (head, popped last)
)

// retryTx implements §4.7 retry.
func retryTx(tx store.Tx, k store.Keys, jobID, token string, mode PushMode, now int64) error {
	if err := promoteDelayedJobs(tx, k, emitEvent, now); err != nil {
		return err
	}
	fields, err := tx.HGetAll(k.Job(jobID))
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrMissingJob
	}
	if token != "0" && token != "" {
		lockVal, hasLock, err := tx.Get(k.Lock(jobID))
		if err != nil {
			return err
		}
		if !hasLock {
			return ErrMissingLock
		}
		if lockVal != token {
			return ErrLockMismatch
		}
	}
	removed, err := tx.LRem(k.Active(), jobID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotActive
	}
	job := JobFromFields(jobID, fields)
	if err := enqueueByPriority(tx, k, jobID, job.Priority, mode == PushLIFO); err != nil {
		return err
	}
	return emitEvent(tx, k, event{Name: "waiting", JobID: jobID, Prev: "failed"})
}

// changePriorityTx implements §4.7 changePriority.
func changePriorityTx(tx store.Tx, k store.Keys, jobID string, newPriority int64, lifo bool) error {
	exists, err := tx.Exists(k.Job(jobID))
	if err != nil {
		return err
	}
	if !exists {
		return ErrMissingJob
	}

	if _, inPrioritized, err := tx.ZScore(k.Prioritized(), jobID); err != nil {
		return err
	} else if inPrioritized {
		if _, err := tx.ZRem(k.Prioritized(), jobID); err != nil {
			return err
		}
		if newPriority > 0 {
			if err := addJobWithPriority(tx, k, jobID, newPriority); err != nil {
				return err
			}
		} else {
			target, _, err := targetList(tx, k)
			if err != nil {
				return err
			}
			if err := stripLeadingMarker(tx, target); err != nil {
				return err
			}
			if lifo {
				if err := tx.RPush(target, jobID); err != nil {
					return err
				}
			} else if err := tx.LPush(target, jobID); err != nil {
				return err
			}
		}
	} else {
		target, _, err := targetList(tx, k)
		if err != nil {
			return err
		}
		removed, err := tx.LRem(target, jobID)
		if err != nil {
			return err
		}
		if removed && newPriority > 0 {
			if err := addJobWithPriority(tx, k, jobID, newPriority); err != nil {
				return err
			}
		} else if removed {
			if lifo {
				if err := tx.RPush(target, jobID); err != nil {
					return err
				}
			} else if err := tx.LPush(target, jobID); err != nil {
				return err
			}
		}
	}

	return tx.HSet(k.Job(jobID), map[string]string{"priority": strconv.FormatInt(newPriority, 10)})
}

