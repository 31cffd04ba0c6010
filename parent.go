package queue

import (
	"strconv"
	"strings"

	"github.com/go-foundations/jobqueue/store"
)

// resolveParentPrefix returns the parent queue's key prefix, preferring
// job.Parent.QueueKey (set directly by the caller) and falling back to
// trimming the ":<parentId>" suffix off job.ParentKey only when Parent is
// absent — the Design Notes §9 Open Question resolution: derive from
// parent.queueKey, treat the slice path as fallback only.
func resolveParentPrefix(j Job) (prefix, parentID string, ok bool) {
	if j.Parent != nil && j.Parent.QueueKey != "" {
		return j.Parent.QueueKey, j.Parent.ID, true
	}
	if j.ParentKey == "" {
		return "", "", false
	}
	idx := strings.LastIndex(j.ParentKey, ":")
	if idx < 0 {
		return "", "", false
	}
	return j.ParentKey[:idx], j.ParentKey[idx+1:], true
}

// childKey is the dependency-set member / processed-map key identifying a
// child job from its own queue prefix and ID.
func childKey(childPrefix, childID string) string { return childPrefix + ":" + childID }

// onChildCompleted implements the completion half of §4.6: remove the child
// from the parent's dependency set, record its return value, and if that
// empties the set while the parent sits in waiting-children, route the
// parent into its own queue.
func onChildCompleted(tx store.Tx, emit eventEmitter, childPrefix string, child Job, now int64) error {
	parentPrefix, parentID, ok := resolveParentPrefix(child)
	if !ok {
		return nil
	}
	pk := store.NewKeys(parentPrefix)
	ck := childKey(childPrefix, child.ID)

	if _, err := tx.SRem(pk.Dependencies(parentID), ck); err != nil {
		return err
	}
	if err := tx.HSet(pk.Processed(parentID), map[string]string{ck: child.ReturnValue}); err != nil {
		return err
	}
	remaining, err := tx.SCard(pk.Dependencies(parentID))
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return releaseParentFromWaitingChildren(tx, emit, pk, parentID, now)
}

// releaseParentFromWaitingChildren moves a parent whose dependencies just
// emptied out of waiting-children into delayed/prioritized/wait according to
// its own delay and priority, re-running the delay marker for its queue.
func releaseParentFromWaitingChildren(tx store.Tx, emit eventEmitter, pk store.Keys, parentID string, now int64) error {
	removed, err := tx.ZRem(pk.WaitingChildren(), parentID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	fields, err := tx.HGetAll(pk.Job(parentID))
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	parent := JobFromFields(parentID, fields)

	if parent.Delay > 0 {
		fireTime := now + parent.Delay
		counter, err := tx.Incr(pk.IDCounter())
		if err != nil {
			return err
		}
		if err := tx.ZAdd(pk.Delayed(), packDelayScore(fireTime, counter), parentID); err != nil {
			return err
		}
		if err := emit(tx, pk, event{Name: "delayed", JobID: parentID, HasDelay: true, Delay: fireTime}); err != nil {
			return err
		}
		return refreshDelayMarker(tx, pk)
	}

	if err := enqueueByPriority(tx, pk, parentID, parent.Priority, false); err != nil {
		return err
	}
	return emit(tx, pk, event{Name: "waiting", JobID: parentID, Prev: "waiting-children"})
}

// onChildFailed implements the failure half of §4.6: fpof moves the parent to
// its failed set (recursively up the ancestor chain via an explicit stack,
// Design Notes §9); rdof removes the dependency and, if that empties it,
// releases the parent exactly like completion. fpof wins if both are set.
func onChildFailed(tx store.Tx, emit eventEmitter, childPrefix string, child Job, now int64) error {
	parentPrefix, parentID, ok := resolveParentPrefix(child)
	if !ok {
		return nil
	}

	if child.FPOF {
		type pending struct {
			prefix, id, childKey string
		}
		stack := []pending{{parentPrefix, parentID, childKey(childPrefix, child.ID)}}

		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			pk := store.NewKeys(cur.prefix)
			removed, err := tx.ZRem(pk.WaitingChildren(), cur.id)
			if err != nil {
				return err
			}
			if !removed {
				continue
			}
			reason := "child " + cur.childKey + " failed"
			if err := tx.HSet(pk.Job(cur.id), map[string]string{
				"failedReason": reason,
				"finishedOn":   itoa64(now),
			}); err != nil {
				return err
			}
			if err := tx.ZAdd(pk.Failed(), float64(now), cur.id); err != nil {
				return err
			}
			if err := emit(tx, pk, event{Name: "failed", JobID: cur.id, Prev: "waiting-children", FailedReason: reason}); err != nil {
				return err
			}

			fields, err := tx.HGetAll(pk.Job(cur.id))
			if err != nil {
				return err
			}
			grandparentPrefix, grandparentID, ok := resolveParentPrefix(JobFromFields(cur.id, fields))
			if ok {
				stack = append(stack, pending{grandparentPrefix, grandparentID, childKey(cur.prefix, cur.id)})
			}
		}
		return nil
	}

	if child.RDOF {
		pk := store.NewKeys(parentPrefix)
		ck := childKey(childPrefix, child.ID)
		if _, err := tx.SRem(pk.Dependencies(parentID), ck); err != nil {
			return err
		}
		remaining, err := tx.SCard(pk.Dependencies(parentID))
		if err != nil {
			return err
		}
		if remaining == 0 {
			return releaseParentFromWaitingChildren(tx, emit, pk, parentID, now)
		}
	}
	return nil
}

// releaseParentDependencyOnDelete implements the deletion half of §4.6/§4.8:
// whenever a job with a parent is removed from the store for good (immediate
// delete on finish, or later age/count retention pruning), the parent's
// dependency set must stop referencing it — otherwise a parent can be left
// permanently stuck in waiting-children with no dependency left that will
// ever resolve. childPrefix is the deleted job's own queue prefix.
func releaseParentDependencyOnDelete(tx store.Tx, emit eventEmitter, childPrefix string, job Job, now int64) error {
	if job.ParentKey == "" && job.Parent == nil {
		return nil
	}
	parentPrefix, parentID, ok := resolveParentPrefix(job)
	if !ok {
		return nil
	}
	pk := store.NewKeys(parentPrefix)
	if _, err := tx.SRem(pk.Dependencies(parentID), childKey(childPrefix, job.ID)); err != nil {
		return err
	}
	remaining, err := tx.SCard(pk.Dependencies(parentID))
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return releaseParentFromWaitingChildren(tx, emit, pk, parentID, now)
}

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
