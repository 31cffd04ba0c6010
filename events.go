package queue

import (
	"strconv"

	"github.com/go-foundations/jobqueue/store"
)

const defaultMaxLenEvents = 10000

// event is one entry appended to the events stream (§4.8, §6 schema).
type event struct {
	Name         string
	JobID        string
	Prev         string
	Delay        int64
	HasDelay     bool
	FailedReason string
	ReturnValue  string
	AttemptsMade int64
	HasAttempts  bool
	JobName      string
}

func (e event) fields() map[string]string {
	f := map[string]string{"event": e.Name, "jobId": e.JobID}
	if e.Prev != "" {
		f["prev"] = e.Prev
	}
	if e.HasDelay {
		f["delay"] = strconv.FormatInt(e.Delay, 10)
	}
	if e.FailedReason != "" {
		f["failedReason"] = e.FailedReason
	}
	if e.ReturnValue != "" {
		f["returnvalue"] = e.ReturnValue
	}
	if e.HasAttempts {
		f["attemptsMade"] = strconv.FormatInt(e.AttemptsMade, 10)
	}
	if e.JobName != "" {
		f["name"] = e.JobName
	}
	return f
}

// eventEmitter appends ev to the queue's event stream. It does not trim the
// stream; moveToFinished calls trimEvents once before its first emit, and
// emit may be called multiple times after.
type eventEmitter func(tx store.Tx, k store.Keys, ev event) error

// emitEvent is the concrete eventEmitter used by the transition procedures.
func emitEvent(tx store.Tx, k store.Keys, ev event) error {
	_, err := tx.XAdd(k.Events(), ev.fields())
	return err
}

// trimEvents bounds the events stream to maxLenEvents entries (read from
// meta.opts.maxLenEvents, defaulting to 10000). It is invoked once near the
// start of moveToFinished, "before emitting new events" per §4.7.
func trimEvents(tx store.Tx, k store.Keys) error {
	maxLen, err := maxLenEvents(tx, k)
	if err != nil {
		return err
	}
	return tx.XTrimApprox(k.Events(), maxLen)
}

func maxLenEvents(tx store.Tx, k store.Keys) (int64, error) {
	raw, ok, err := tx.HGet(k.Meta(), "opts.maxLenEvents")
	if err != nil {
		return 0, err
	}
	if !ok || raw == "" {
		return defaultMaxLenEvents, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return defaultMaxLenEvents, nil
	}
	return v, nil
}

// retentionBatchCap bounds a single removeJobsByMaxAge/removeJobsByMaxCount
// call to 7000 jobs (§5 Cancellation/timeouts: "batch size 7000 for bulk
// removal"), so a terminal set holding an unusually large backlog is pruned
// across several finish calls instead of in one unbounded pass.
const retentionBatchCap = 7000

// removeJobsByMaxAge implements the age half of §4.8 retention: drop entries
// from the terminal set scored at or before cutoffMs, deleting each job's
// hash and auxiliary keys along the way and cascading parent-dependency
// cleanup (§4.8: "job removal must also cascade parent-dependency updates").
func removeJobsByMaxAge(tx store.Tx, k store.Keys, setKey string, cutoffMs int64, now int64) error {
	members, err := tx.ZRangeByScore(setKey, float64(cutoffMs), retentionBatchCap)
	if err != nil {
		return err
	}
	for _, m := range members {
		if _, err := tx.ZRem(setKey, m.Member); err != nil {
			return err
		}
		if err := deleteJobAndCascade(tx, k, m.Member, now); err != nil {
			return err
		}
	}
	return nil
}

// removeJobsByMaxCount implements the count half of §4.8 retention: keep only
// the most recently finished maxCount jobs in setKey, removing at most
// retentionBatchCap of the oldest entries per call.
func removeJobsByMaxCount(tx store.Tx, k store.Keys, setKey string, maxCount int64, now int64) error {
	if maxCount < 0 {
		return nil
	}
	card, err := tx.ZCard(setKey)
	if err != nil {
		return err
	}
	keep := maxCount
	if card-keep > retentionBatchCap {
		keep = card - retentionBatchCap
	}
	removed, err := tx.ZRemRangeByRank(setKey, keep)
	if err != nil {
		return err
	}
	for _, jobID := range removed {
		if err := deleteJobAndCascade(tx, k, jobID, now); err != nil {
			return err
		}
	}
	return nil
}

func deleteJobAndAux(tx store.Tx, k store.Keys, jobID string) error {
	return tx.Del(k.Job(jobID), k.Lock(jobID), k.Dependencies(jobID), k.Processed(jobID))
}

// deleteJobAndCascade reads jobID's hash before deleting it so a pruned job's
// reference in its parent's dependency set can still be resolved and
// cleared, then releases the parent out of waiting-children if that was its
// last pending dependency.
func deleteJobAndCascade(tx store.Tx, k store.Keys, jobID string, now int64) error {
	fields, err := tx.HGetAll(k.Job(jobID))
	if err != nil {
		return err
	}
	job := JobFromFields(jobID, fields)
	if err := deleteJobAndAux(tx, k, jobID); err != nil {
		return err
	}
	return releaseParentDependencyOnDelete(tx, emitEvent, k.Prefix, job, now)
}
