package queue

import (
	"strconv"

	"github.com/go-foundations/jobqueue/store"
	"github.com/prometheus/client_golang/prometheus"
)

const minuteMs = 60_000

// recordMetric implements §4.9: on each finish, read the delta since the last
// snapshot, push one entry per whole minute elapsed (zero-filling any gap),
// trim to maxDataPoints, and advance prevTS/prevCount.
func recordMetric(tx store.Tx, k store.Keys, target string, maxDataPoints int64, now int64) error {
	metaKey := k.Meta()
	prevTSField := "metrics." + target + ".prevTS"
	prevCountField := "metrics." + target + ".prevCount"
	countField := "metrics." + target + ".count"

	prevTS, count, err := readMetricState(tx, metaKey, prevTSField, prevCountField, countField)
	if err != nil {
		return err
	}
	// Each call observes exactly one finish, so the delta for the bucket it
	// lands in is always 1; elapsed whole minutes since prevTS are zero-filled
	// so the per-minute series has no gaps.
	count++

	dataKey := k.MetricsData(target)
	elapsedMinutes := int64(1)
	if prevTS > 0 {
		elapsedMinutes = (now - prevTS) / minuteMs
		if elapsedMinutes < 1 {
			elapsedMinutes = 1
		}
	}
	if err := tx.LPush(dataKey, "1"); err != nil {
		return err
	}
	for i := int64(1); i < elapsedMinutes; i++ {
		if err := tx.LPush(dataKey, "0"); err != nil {
			return err
		}
	}
	if err := trimMetricsData(tx, dataKey, maxDataPoints); err != nil {
		return err
	}

	return tx.HSet(metaKey, map[string]string{
		prevTSField:    strconv.FormatInt(now, 10),
		prevCountField: strconv.FormatInt(count, 10),
		countField:     strconv.FormatInt(count, 10),
	})
}

func readMetricState(tx store.Tx, metaKey, prevTSField, prevCountField, countField string) (prevTS, count int64, err error) {
	raw, _, err := tx.HGet(metaKey, prevTSField)
	if err != nil {
		return 0, 0, err
	}
	if raw != "" {
		prevTS, _ = strconv.ParseInt(raw, 10, 64)
	}
	raw, _, err = tx.HGet(metaKey, countField)
	if err != nil {
		return 0, 0, err
	}
	if raw != "" {
		count, _ = strconv.ParseInt(raw, 10, 64)
	}
	return prevTS, count, nil
}

func trimMetricsData(tx store.Tx, dataKey string, maxDataPoints int64) error {
	length, err := tx.LLen(dataKey)
	if err != nil {
		return err
	}
	if length <= maxDataPoints {
		return nil
	}
	for length > maxDataPoints {
		if _, _, err := tx.RPop(dataKey); err != nil {
			return err
		}
		length--
	}
	return nil
}

// Collector mirrors the native per-minute bucket list into Prometheus
// counters, the way kotahorii-merchant-tails' MetricsCollector exposes game
// counters on an injectable registry. It is optional: a Queue with a nil
// Collector simply skips the mirroring step.
type Collector struct {
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	active    *prometheus.GaugeVec
}

// NewCollector registers the job-queue metrics on reg (caller-owned, so tests
// can use prometheus.NewRegistry() instead of the global default registry).
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobqueue_jobs_completed_total",
			Help: "Total number of jobs that reached the completed state, by queue.",
		}, []string{"queue"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobqueue_jobs_failed_total",
			Help: "Total number of jobs that reached the failed state, by queue.",
		}, []string{"queue"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobqueue_jobs_active",
			Help: "Current number of jobs leased to workers, by queue.",
		}, []string{"queue"}),
	}
	reg.MustRegister(c.completed, c.failed, c.active)
	return c
}

func (c *Collector) observeFinish(queue string, target FinishTarget) {
	if c == nil {
		return
	}
	switch target {
	case TargetCompleted:
		c.completed.WithLabelValues(queue).Inc()
	case TargetFailed:
		c.failed.WithLabelValues(queue).Inc()
	}
}

func (c *Collector) setActive(queue string, n float64) {
	if c == nil {
		return
	}
	c.active.WithLabelValues(queue).Set(n)
}
