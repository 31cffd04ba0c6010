package queue

import "github.com/go-foundations/jobqueue/store"

const maxPromotePerCall = 1000

// packDelayScore computes fireTimeMs·2^12 + (counter & 0xFFF) (§4.3, Design
// Notes §9).
func packDelayScore(fireTimeMs, counter int64) float64 {
	return float64(uint64(fireTimeMs)<<delayScoreShift + (uint64(counter) & delayCounterMask))
}

// decodeDelayScore recovers the fire time encoded in a packed delayed score.
func decodeDelayScore(score float64) int64 {
	return int64(score) >> delayScoreShift
}

// nextDelayedTimestamp implements §4.3 getNextDelayedTimestamp: the minimum
// score in delayed, decoded to milliseconds. ok is false when delayed is
// empty.
func nextDelayedTimestamp(tx store.Tx, k store.Keys) (int64, bool, error) {
	members, err := tx.ZRangeByScore(k.Delayed(), float64(^uint64(0)>>1), 1)
	if err != nil {
		return 0, false, err
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	return decodeDelayScore(members[0].Score), true, nil
}

// promoteDelayedJobs implements §4.3 promoteDelayedJobs: pop up to 1000
// entries with fire time <= now+1ms, route each by priority, clear its delay,
// and emit a waiting event with prev="delayed".
func promoteDelayedJobs(tx store.Tx, k store.Keys, emit eventEmitter, now int64) error {
	maxScore := packDelayScore(now+1, delayCounterMask)
	members, err := tx.ZRangeByScore(k.Delayed(), maxScore, maxPromotePerCall)
	if err != nil {
		return err
	}
	for _, m := range members {
		if _, err := tx.ZRem(k.Delayed(), m.Member); err != nil {
			return err
		}
		fields, err := tx.HGetAll(k.Job(m.Member))
		if err != nil {
			return err
		}
		var priority int64
		if len(fields) > 0 {
			job := JobFromFields(m.Member, fields)
			priority = job.Priority
			if err := tx.HSet(k.Job(m.Member), map[string]string{"delay": "0"}); err != nil {
				return err
			}
		}
		if priority > 0 {
			if err := addJobWithPriority(tx, k, m.Member, priority); err != nil {
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
			if err := tx.LPush(target, m.Member); err != nil {
				return err
			}
		}
		if err := emit(tx, k, event{Name: "waiting", JobID: m.Member, Prev: "delayed"}); err != nil {
			return err
		}
	}
	return refreshDelayMarker(tx, k)
}
