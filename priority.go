package queue

import "github.com/go-foundations/jobqueue/store"

// Bit widths from Design Notes §9: the priority tiebreak counter is masked to
// 48 bits and the priority is shifted left by 32 bits, so the two overlap once
// the counter exceeds 2^32.
const (
	priorityCounterMask  = (uint64(1) << 48) - 1
	priorityScoreShift   = 32
	delayCounterMask     = (uint64(1) << 12) - 1
	delayScoreShift      = 12
)

// packPriorityScore computes priority·2^32 + (counter & 0xFFFFFFFFFFFF).
func packPriorityScore(priority, counter int64) float64 {
	return float64(uint64(priority)<<priorityScoreShift + (uint64(counter) & priorityCounterMask))
}

// addJobWithPriority implements §4.2 addJobWithPriority: bump pc, insert into
// prioritized at the packed score, and refresh the priority marker unless the
// queue is paused.
func addJobWithPriority(tx store.Tx, k store.Keys, jobID string, priority int64) error {
	counter, err := tx.Incr(k.PCCounter())
	if err != nil {
		return err
	}
	if err := tx.ZAdd(k.Prioritized(), packPriorityScore(priority, counter), jobID); err != nil {
		return err
	}
	return refreshPriorityMarker(tx, k)
}

// pushBackJobWithPriority implements §4.2 pushBackJobWithPriority: reinsert
// ahead of same-priority peers (counter=0) after a rate-limited optimistic
// dequeue is rolled back.
func pushBackJobWithPriority(tx store.Tx, k store.Keys, jobID string, priority int64) error {
	if err := tx.ZAdd(k.Prioritized(), packPriorityScore(priority, 0), jobID); err != nil {
		return err
	}
	return refreshPriorityMarker(tx, k)
}

// moveJobFromPriorityToActive implements §4.2 moveJobFromPriorityToActive:
// pop the minimum-score entry into active; if the set is now empty, delete pc
// so the next insertion restarts numbering from 1.
func moveJobFromPriorityToActive(tx store.Tx, k store.Keys) (string, bool, error) {
	jobID, _, ok, err := tx.ZPopMin(k.Prioritized())
	if err != nil || !ok {
		return "", false, err
	}
	if err := tx.LPush(k.Active(), jobID); err != nil {
		return "", false, err
	}
	card, err := tx.ZCard(k.Prioritized())
	if err != nil {
		return "", false, err
	}
	if card == 0 {
		if err := tx.Del(k.PCCounter()); err != nil {
			return "", false, err
		}
	}
	return jobID, true, nil
}

// enqueueByPriority routes a job through the prioritized path if priority > 0,
// otherwise onto the target list head (or tail when lifo is requested),
// shared by add, promote, retry, and changePriority.
func enqueueByPriority(tx store.Tx, k store.Keys, jobID string, priority int64, lifo bool) error {
	if priority > 0 {
		return addJobWithPriority(tx, k, jobID, priority)
	}
	target, _, err := targetList(tx, k)
	if err != nil {
		return err
	}
	if err := stripLeadingMarker(tx, target); err != nil {
		return err
	}
	if lifo {
		return tx.RPush(target, jobID)
	}
	return tx.LPush(target, jobID)
}
