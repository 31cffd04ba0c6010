// Package queue implements the atomic state machine at the core of a
// distributed job queue: the transitions that move jobs between waiting,
// paused, prioritized, delayed, active, waiting-children, completed, and
// failed, against an external transactional KV store (see package store).
package queue

import (
	"strconv"
	"strings"
)

// MarkerPrefix reserves job IDs beginning with "0:" for marker sentinels; a
// caller-supplied job ID with this prefix is rejected by Add.
const MarkerPrefix = "0:"

// State names the logical state a job occupies. Markers are not jobs and
// never have a State.
type State string

const (
	StateWaiting        State = "waiting"
	StatePaused         State = "paused"
	StatePrioritized    State = "prioritized"
	StateDelayed        State = "delayed"
	StateActive         State = "active"
	StateWaitingChild   State = "waiting-children"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

// ParentRef identifies a parent job, possibly living in a different queue
// namespace. QueueKey is the parent queue's key prefix (store.Keys.Prefix),
// resolved directly rather than derived from ParentKey by string surgery
// whenever it is present (Design Notes §9 Open Question).
type ParentRef struct {
	ID       string
	QueueKey string
}

// KeepJobs controls terminal-set retention by age and/or count. A zero value
// for a field means "no bound" except Count, where 0 means "keep nothing"
// (jobs are deleted immediately) per §4.7 moveToFinished.
type KeepJobs struct {
	// Age is the retention window in seconds; 0 means unbounded.
	Age int64
	// Count is the maximum number of retained jobs; -1 means unbounded, 0
	// means delete immediately on finish.
	Count int64
}

// UnboundedKeepJobs retains jobs forever (used when a caller never set
// keepJobs explicitly).
var UnboundedKeepJobs = KeepJobs{Age: 0, Count: -1}

// Limiter configures the per-queue rate limiter (§4.5). A zero value disables
// limiting.
type Limiter struct {
	Max      int64
	Duration int64 // milliseconds
}

// Enabled reports whether the limiter is configured.
func (l Limiter) Enabled() bool { return l.Max > 0 && l.Duration > 0 }

// Options configures Add (§4.7 add).
type Options struct {
	// JobID, if set, is used verbatim instead of allocating one from the id
	// counter. Must not begin with MarkerPrefix.
	JobID string

	Name string
	Data string

	Delay    int64 // milliseconds from now
	Priority int64 // 0 = unprioritized (routed through the target list)
	LIFO     bool  // push to tail of target list instead of head

	Attempts int64 // max attempts before retries-exhausted is emitted

	ParentKey             string // full key prefix of the parent job's hash
	Parent                *ParentRef
	ParentDependenciesKey string // parent's <parent>:dependencies set key
	WaitChildrenKey       string // non-empty routes the new job to waiting-children

	KeepJobs KeepJobs
}

// Job is the materialized view of a <job> hash (DATA MODEL §3).
type Job struct {
	ID            string
	Name          string
	Data          string
	Timestamp     int64
	Delay         int64
	Priority      int64
	ProcessedOn   int64
	FinishedOn    int64
	AttemptsMade  int64
	Attempts      int64
	ReturnValue   string
	FailedReason  string
	ParentKey     string
	Parent        *ParentRef
	RJK           string // parentDependenciesKey, mirrors bullmq's internal field name
	FPOF          bool   // fail-parent-on-fail
	RDOF          bool   // remove-dependency-on-fail
}

// ToFields serializes a Job into the flat string map stored in its hash.
func (j Job) ToFields() map[string]string {
	f := map[string]string{
		"name":         j.Name,
		"data":         j.Data,
		"timestamp":    strconv.FormatInt(j.Timestamp, 10),
		"delay":        strconv.FormatInt(j.Delay, 10),
		"priority":     strconv.FormatInt(j.Priority, 10),
		"attemptsMade": strconv.FormatInt(j.AttemptsMade, 10),
		"attempts":     strconv.FormatInt(j.Attempts, 10),
	}
	if j.ProcessedOn != 0 {
		f["processedOn"] = strconv.FormatInt(j.ProcessedOn, 10)
	}
	if j.FinishedOn != 0 {
		f["finishedOn"] = strconv.FormatInt(j.FinishedOn, 10)
	}
	if j.ReturnValue != "" {
		f["returnvalue"] = j.ReturnValue
	}
	if j.FailedReason != "" {
		f["failedReason"] = j.FailedReason
	}
	if j.ParentKey != "" {
		f["parentKey"] = j.ParentKey
	}
	if j.Parent != nil {
		f["parent.id"] = j.Parent.ID
		f["parent.queueKey"] = j.Parent.QueueKey
	}
	if j.RJK != "" {
		f["rjk"] = j.RJK
	}
	if j.FPOF {
		f["fpof"] = "1"
	}
	if j.RDOF {
		f["rdof"] = "1"
	}
	return f
}

// JobFromFields reconstructs a Job from its stored hash fields.
func JobFromFields(id string, f map[string]string) Job {
	j := Job{ID: id}
	j.Name = f["name"]
	j.Data = f["data"]
	j.Timestamp, _ = strconv.ParseInt(f["timestamp"], 10, 64)
	j.Delay, _ = strconv.ParseInt(f["delay"], 10, 64)
	j.Priority, _ = strconv.ParseInt(f["priority"], 10, 64)
	j.ProcessedOn, _ = strconv.ParseInt(f["processedOn"], 10, 64)
	j.FinishedOn, _ = strconv.ParseInt(f["finishedOn"], 10, 64)
	j.AttemptsMade, _ = strconv.ParseInt(f["attemptsMade"], 10, 64)
	j.Attempts, _ = strconv.ParseInt(f["attempts"], 10, 64)
	j.ReturnValue = f["returnvalue"]
	j.FailedReason = f["failedReason"]
	j.ParentKey = f["parentKey"]
	if pid, ok := f["parent.id"]; ok && pid != "" {
		j.Parent = &ParentRef{ID: pid, QueueKey: f["parent.queueKey"]}
	}
	j.RJK = f["rjk"]
	j.FPOF = f["fpof"] == "1"
	j.RDOF = f["rdof"] == "1"
	return j
}

// IsMarker reports whether id is a reserved sentinel ("0:..."), not a real job.
func IsMarker(id string) bool { return strings.HasPrefix(id, MarkerPrefix) }

// priorityMarker is the sentinel pushed at the head of the target list when
// the prioritized set becomes non-empty.
const priorityMarker = "0:0"

// delayMarker builds the sentinel announcing the next delayed fire time.
func delayMarker(fireTimeMs int64) string {
	return "0:" + strconv.FormatInt(fireTimeMs, 10)
}

// delayMarkerFireTime parses the fire time encoded in a delay marker. ok is
// false if id is not a delay marker (including the priority marker "0:0").
func delayMarkerFireTime(id string) (int64, bool) {
	if !IsMarker(id) || id == priorityMarker {
		return 0, false
	}
	ms, err := strconv.ParseInt(id[len(MarkerPrefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
