package store

// Keys derives the fixed entity keys for a queue namespace (DATA MODEL §3).
// Every queue owns exactly one Keys value, built from its prefix.
type Keys struct {
	Prefix string
}

// NewKeys builds the key set for a queue namespace prefix, e.g. "myqueue".
func NewKeys(prefix string) Keys { return Keys{Prefix: prefix} }

func (k Keys) Wait() string            { return k.Prefix + ":wait" }
func (k Keys) Paused() string          { return k.Prefix + ":paused" }
func (k Keys) Prioritized() string     { return k.Prefix + ":prioritized" }
func (k Keys) Delayed() string         { return k.Prefix + ":delayed" }
func (k Keys) Active() string          { return k.Prefix + ":active" }
func (k Keys) WaitingChildren() string { return k.Prefix + ":waiting-children" }
func (k Keys) Completed() string       { return k.Prefix + ":completed" }
func (k Keys) Failed() string          { return k.Prefix + ":failed" }
func (k Keys) Meta() string            { return k.Prefix + ":meta" }
func (k Keys) IDCounter() string       { return k.Prefix + ":id" }
func (k Keys) PCCounter() string       { return k.Prefix + ":pc" }
func (k Keys) Events() string          { return k.Prefix + ":events" }
func (k Keys) Stalled() string         { return k.Prefix + ":stalled" }
func (k Keys) RateLimiter() string     { return k.Prefix + ":limiter" }
func (k Keys) MetricsData(target string) string {
	return k.Prefix + ":metrics:" + target + ":data"
}

// Job returns the per-job hash key.
func (k Keys) Job(jobID string) string { return k.Prefix + ":" + jobID }

// Lock returns the per-job lock key.
func (k Keys) Lock(jobID string) string { return k.Prefix + ":" + jobID + ":lock" }

// Dependencies returns the per-job unresolved-children set key.
func (k Keys) Dependencies(jobID string) string { return k.Prefix + ":" + jobID + ":dependencies" }

// Processed returns the per-job resolved-children hash key.
func (k Keys) Processed(jobID string) string { return k.Prefix + ":" + jobID + ":processed" }
