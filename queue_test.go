package queue

import (
	"context"
	"testing"
	"time"

	"github.com/go-foundations/jobqueue/store"
	"github.com/stretchr/testify/suite"
)

type QueueTestSuite struct {
	suite.Suite
	backend *store.MemoryStore
	q       *Queue
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}

func (ts *QueueTestSuite) SetupTest() {
	ts.backend = store.NewMemoryStore(func() int64 { return time.Now().UnixMilli() })
	ts.q = New("jobs", ts.backend, DefaultConfig())
}

func (ts *QueueTestSuite) TestAddMoveToActiveMoveToFinishedRoundTrip() {
	jobID, err := ts.q.Add(context.Background(), Options{Name: "welcome-email"})
	ts.Require().NoError(err)
	ts.NotEmpty(jobID)

	active, err := ts.q.MoveToActive(context.Background(), "worker-1", "")
	ts.Require().NoError(err)
	ts.Require().NotNil(active.Job)
	ts.Equal(jobID, active.Job.ID)

	finish, err := ts.q.MoveToFinished(context.Background(), jobID, TargetCompleted, "returnvalue", "sent", "worker-1", false)
	ts.Require().NoError(err)
	ts.False(finish.Drained)

	err = ts.backend.Atomic(context.Background(), "jobs", func(tx store.Tx) error {
		_, inCompleted, err := tx.ZScore(ts.q.Keys().Completed(), jobID)
		ts.Require().NoError(err)
		ts.True(inCompleted)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *QueueTestSuite) TestMoveToFinishedWithFetchNextReturnsFollowingJob() {
	first, err := ts.q.Add(context.Background(), Options{Name: "first"})
	ts.Require().NoError(err)
	second, err := ts.q.Add(context.Background(), Options{Name: "second"})
	ts.Require().NoError(err)

	active, err := ts.q.MoveToActive(context.Background(), "worker-1", "")
	ts.Require().NoError(err)
	ts.Equal(first, active.Job.ID)

	finish, err := ts.q.MoveToFinished(context.Background(), first, TargetCompleted, "returnvalue", "ok", "worker-1", true)
	ts.Require().NoError(err)
	ts.Require().NotNil(finish.Next.Job)
	ts.Equal(second, finish.Next.Job.ID)
}

func (ts *QueueTestSuite) TestPauseRoutesNewJobsToPausedList() {
	err := ts.q.Pause(context.Background())
	ts.Require().NoError(err)

	jobID, err := ts.q.Add(context.Background(), Options{Name: "queued-while-paused"})
	ts.Require().NoError(err)

	err = ts.backend.Atomic(context.Background(), "jobs", func(tx store.Tx) error {
		head, ok, err := tx.LIndex(ts.q.Keys().Paused(), 0)
		ts.Require().NoError(err)
		ts.True(ok)
		ts.Equal(jobID, head)
		return nil
	})
	ts.Require().NoError(err)

	active, err := ts.q.MoveToActive(context.Background(), "worker-1", "")
	ts.Require().NoError(err)
	ts.Nil(active.Job)

	err = ts.q.Resume(context.Background())
	ts.Require().NoError(err)

	active, err = ts.q.MoveToActive(context.Background(), "worker-1", "")
	ts.Require().NoError(err)
	ts.Require().NotNil(active.Job)
	ts.Equal(jobID, active.Job.ID)
}

func (ts *QueueTestSuite) TestNextDelayedTimestampReflectsEarliestDelayedJob() {
	_, ok, err := ts.q.NextDelayedTimestamp(context.Background())
	ts.Require().NoError(err)
	ts.False(ok)

	_, err = ts.q.Add(context.Background(), Options{Name: "later", Delay: 60_000})
	ts.Require().NoError(err)

	fire, ok, err := ts.q.NextDelayedTimestamp(context.Background())
	ts.Require().NoError(err)
	ts.True(ok)
	ts.Greater(fire, int64(0))
}

func (ts *QueueTestSuite) TestMoveToFinishedPropagatesLockMismatchAsCodedError() {
	jobID, err := ts.q.Add(context.Background(), Options{Name: "locked"})
	ts.Require().NoError(err)

	_, err = ts.q.MoveToActive(context.Background(), "owner-token", "")
	ts.Require().NoError(err)

	_, err = ts.q.MoveToFinished(context.Background(), jobID, TargetCompleted, "returnvalue", "ok", "wrong-token", false)
	ts.ErrorIs(err, ErrLockMismatch)
	code, ok := Code(err)
	ts.True(ok)
	ts.Equal(-6, code)
}

func (ts *QueueTestSuite) TestMoveToFinishedPropagatesMissingJobAsCodedError() {
	_, err := ts.q.MoveToFinished(context.Background(), "never-added", TargetCompleted, "returnvalue", "ok", "", false)
	ts.ErrorIs(err, ErrMissingJob)
	code, ok := Code(err)
	ts.True(ok)
	ts.Equal(-1, code)
}

func (ts *QueueTestSuite) TestChangePriorityUpdatesJobHash() {
	jobID, err := ts.q.Add(context.Background(), Options{Name: "reprioritize", Priority: 2})
	ts.Require().NoError(err)

	err = ts.q.ChangePriority(context.Background(), jobID, 9, false)
	ts.Require().NoError(err)

	err = ts.backend.Atomic(context.Background(), "jobs", func(tx store.Tx) error {
		priority, _, err := tx.HGet(ts.q.Keys().Job(jobID), "priority")
		ts.Require().NoError(err)
		ts.Equal("9", priority)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *QueueTestSuite) TestNewAppliesMaxLenEventsIntoMeta() {
	err := ts.backend.Atomic(context.Background(), "jobs", func(tx store.Tx) error {
		raw, ok, err := tx.HGet(ts.q.Keys().Meta(), "opts.maxLenEvents")
		ts.Require().NoError(err)
		ts.True(ok)
		ts.Equal("10000", raw)
		return nil
	})
	ts.Require().NoError(err)
}
