package queue

import "github.com/go-foundations/jobqueue/store"

// pausedField is the meta hash field whose mere presence (any value) means
// the queue is paused; its absence means running. Never normalize this to a
// bool on write — that loses the distinction Design Notes §9 calls out.
const pausedField = "paused"

// targetList resolves the current target: wait, or paused while meta.paused
// is present. The second return value reports whether the queue is paused.
func targetList(tx store.Tx, k store.Keys) (string, bool, error) {
	_, paused, err := tx.HGet(k.Meta(), pausedField)
	if err != nil {
		return "", false, err
	}
	if paused {
		return k.Paused(), true, nil
	}
	return k.Wait(), false, nil
}

// isPaused reports the current pause flag without resolving the target key.
func isPaused(tx store.Tx, k store.Keys) (bool, error) {
	_, paused, err := tx.HGet(k.Meta(), pausedField)
	return paused, err
}

// setPaused sets or clears the paused flag, used by the Queue.Pause/Resume
// API surface (not one of the enumerated transitions, but needed to
// drive the target selector from outside a transition procedure). Entries of
// the list that stops being the target are moved, in order, to the head of
// the new target so wait and paused are never both populated.
func setPaused(tx store.Tx, k store.Keys, paused bool) error {
	from, to := k.Paused(), k.Wait()
	if paused {
		from, to = k.Wait(), k.Paused()
	}
	for {
		v, ok, err := tx.RPop(from)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := tx.LPush(to, v); err != nil {
			return err
		}
	}
	if paused {
		return tx.HSet(k.Meta(), map[string]string{pausedField: "1"})
	}
	return tx.HDel(k.Meta(), pausedField)
}
