package queue

import "github.com/go-foundations/jobqueue/store"

// maxStalledPerCall bounds moveStalledToWait to a single bounded batch per
// call, the same "bounded number of operations" discipline §5 requires of
// promoteDelayedJobs (1000 per call).
const maxStalledPerCall = 1000

// moveStalledToWaitTx implements §2/§5 moveStalledToWait: the external
// heartbeat detector's only contract with the core is populating stalled
// with stale active-job IDs (§9 Design Notes); this procedure is the core's
// half of that contract, requeuing each such ID back onto wait/prioritized
// and clearing its stale active/lock state so a worker can pick it up again.
func moveStalledToWaitTx(tx store.Tx, k store.Keys, now int64) ([]string, error) {
	ids, err := tx.SMembers(k.Stalled())
	if err != nil {
		return nil, err
	}
	if len(ids) > maxStalledPerCall {
		ids = ids[:maxStalledPerCall]
	}

	var moved []string
	for _, jobID := range ids {
		if _, err := tx.SRem(k.Stalled(), jobID); err != nil {
			return nil, err
		}
		if _, err := tx.LRem(k.Active(), jobID); err != nil {
			return nil, err
		}
		if err := tx.Del(k.Lock(jobID)); err != nil {
			return nil, err
		}

		fields, err := tx.HGetAll(k.Job(jobID))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			// job was deleted (e.g. retention pruning) out from under the
			// stalled entry; nothing left to requeue.
			continue
		}
		job := JobFromFields(jobID, fields)

		if err := enqueueByPriority(tx, k, jobID, job.Priority, false); err != nil {
			return nil, err
		}
		if err := emitEvent(tx, k, event{Name: "waiting", JobID: jobID, Prev: "active"}); err != nil {
			return nil, err
		}
		moved = append(moved, jobID)
	}
	return moved, nil
}
