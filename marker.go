package queue

import "github.com/go-foundations/jobqueue/store"

// refreshPriorityMarker pushes the priority marker "0:0" at the head of the
// target list when prioritized is nonempty, the queue is not paused, and the
// target list holds no real job (§4.1). It is idempotent: it never pushes a
// second marker in front of an existing one.
func refreshPriorityMarker(tx store.Tx, k store.Keys) error {
	paused, err := isPaused(tx, k)
	if err != nil {
		return err
	}
	if paused {
		return nil
	}
	card, err := tx.ZCard(k.Prioritized())
	if err != nil {
		return err
	}
	if card == 0 {
		return nil
	}
	target, _, err := targetList(tx, k)
	if err != nil {
		return err
	}
	hasReal, err := targetHasRealJob(tx, target)
	if err != nil {
		return err
	}
	if hasReal {
		return nil
	}
	return pushMarkerIfAbsent(tx, target, priorityMarker)
}

// refreshDelayMarker ensures the delay marker "0:<nextFireTimeMs>" sits at the
// head of the target list iff the target list has no real jobs and the
// delayed set is nonempty (§4.1).
func refreshDelayMarker(tx store.Tx, k store.Keys) error {
	nextFire, ok, err := nextDelayedTimestamp(tx, k)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	target, _, err := targetList(tx, k)
	if err != nil {
		return err
	}
	hasReal, err := targetHasRealJob(tx, target)
	if err != nil {
		return err
	}
	if hasReal {
		return nil
	}
	return pushMarkerIfAbsent(tx, target, delayMarker(nextFire))
}

// targetHasRealJob reports whether target's head (after skipping any leading
// marker) still contains a non-marker entry.
func targetHasRealJob(tx store.Tx, target string) (bool, error) {
	length, err := tx.LLen(target)
	if err != nil {
		return false, err
	}
	if length == 0 {
		return false, nil
	}
	head, ok, err := tx.LIndex(target, 0)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if IsMarker(head) {
		return length > 1, nil
	}
	return true, nil
}

// pushMarkerIfAbsent pushes marker at target's head unless the head already
// holds a marker (of any kind) — a reader only ever needs one sentinel to
// wake up and re-evaluate.
func pushMarkerIfAbsent(tx store.Tx, target, marker string) error {
	head, ok, err := tx.LIndex(target, 0)
	if err != nil {
		return err
	}
	if ok && IsMarker(head) {
		return nil
	}
	return tx.LPush(target, marker)
}

// stripLeadingMarker removes a marker sitting at target's head, if any. Called
// before pushing a real, promoted job so the marker never shadows live work.
func stripLeadingMarker(tx store.Tx, target string) error {
	head, ok, err := tx.LIndex(target, 0)
	if err != nil {
		return err
	}
	if !ok || !IsMarker(head) {
		return nil
	}
	_, err = tx.LPop(target)
	return err
}
