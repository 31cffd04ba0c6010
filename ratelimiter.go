package queue

import (
	"strconv"

	"github.com/go-foundations/jobqueue/store"
)

// checkRateLimit implements §4.5 "on attempt to move to active": if the
// counter has reached max, return the remaining TTL so the caller can defer;
// an expired-but-present counter is cleared and treated as available.
func checkRateLimit(tx store.Tx, k store.Keys, limiter Limiter) (expireMs int64, err error) {
	if !limiter.Enabled() {
		return 0, nil
	}
	raw, ok, err := tx.Get(k.RateLimiter())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	count, _ := strconv.ParseInt(raw, 10, 64)
	if count < limiter.Max {
		return 0, nil
	}
	ttl, err := tx.PTTL(k.RateLimiter())
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		if err := tx.Del(k.RateLimiter()); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return ttl, nil
}

// recordRateLimitedStart implements §4.5 "on successful start": increment the
// counter, arming its expiry to |duration| ms on the first increment.
func recordRateLimitedStart(tx store.Tx, k store.Keys, limiter Limiter) error {
	if !limiter.Enabled() {
		return nil
	}
	count, err := tx.Incr(k.RateLimiter())
	if err != nil {
		return err
	}
	if count == 1 {
		d := limiter.Duration
		if d < 0 {
			d = -d
		}
		return tx.Expire(k.RateLimiter(), d)
	}
	return nil
}

// rollbackRateLimitedJob implements §4.5 "when expireTime > 0 and a job was
// already optimistically moved to active": undo the speculative move and
// requeue it as the next candidate once the limiter clears.
func rollbackRateLimitedJob(tx store.Tx, k store.Keys, jobID string, priority int64) error {
	if _, err := tx.LRem(k.Active(), jobID); err != nil {
		return err
	}
	if priority > 0 {
		return pushBackJobWithPriority(tx, k, jobID, priority)
	}
	target, _, err := targetList(tx, k)
	if err != nil {
		return err
	}
	return tx.RPush(target, jobID)
}
