package queue

import (
	"context"
	"testing"

	"github.com/go-foundations/jobqueue/store"
	"github.com/stretchr/testify/suite"
)

type StalledTestSuite struct {
	suite.Suite
	backend *store.MemoryStore
	k       store.Keys
	now     int64
}

func TestStalledTestSuite(t *testing.T) {
	suite.Run(t, new(StalledTestSuite))
}

func (ts *StalledTestSuite) SetupTest() {
	ts.now = 1_700_000_000_000
	ts.backend = store.NewMemoryStore(func() int64 { return ts.now })
	ts.k = store.NewKeys("q")
}

func (ts *StalledTestSuite) atomic(fn func(tx store.Tx) error) error {
	return ts.backend.Atomic(context.Background(), "q", fn)
}

func (ts *StalledTestSuite) TestMoveStalledToWaitRequeuesAndClearsActiveState() {
	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.HSet(ts.k.Job("A"), Job{ID: "A", Name: "job-a"}.ToFields()))
		ts.Require().NoError(tx.LPush(ts.k.Active(), "A"))
		ts.Require().NoError(tx.SetPX(ts.k.Lock("A"), "worker-1", 30_000))
		return tx.SAdd(ts.k.Stalled(), "A")
	})
	ts.Require().NoError(err)

	var moved []string
	err = ts.atomic(func(tx store.Tx) error {
		m, err := moveStalledToWaitTx(tx, ts.k, ts.now)
		moved = m
		return err
	})
	ts.Require().NoError(err)
	ts.Equal([]string{"A"}, moved)

	err = ts.atomic(func(tx store.Tx) error {
		stalled, err := tx.SMembers(ts.k.Stalled())
		ts.Require().NoError(err)
		ts.Empty(stalled)

		activeLen, err := tx.LLen(ts.k.Active())
		ts.Require().NoError(err)
		ts.Equal(int64(0), activeLen)

		_, hasLock, err := tx.Get(ts.k.Lock("A"))
		ts.Require().NoError(err)
		ts.False(hasLock)

		wait, err := tx.LRange(ts.k.Wait(), 0, -1)
		ts.Require().NoError(err)
		ts.Equal([]string{"A"}, wait)
		return nil
	})
	ts.Require().NoError(err)
	ts.Contains(ts.streamNames(), "waiting")
}

func (ts *StalledTestSuite) TestMoveStalledToWaitRoutesByPriority() {
	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.HSet(ts.k.Job("P"), Job{ID: "P", Priority: 5}.ToFields()))
		return tx.SAdd(ts.k.Stalled(), "P")
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		_, err := moveStalledToWaitTx(tx, ts.k, ts.now)
		return err
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		members, err := tx.ZRangeByScore(ts.k.Prioritized(), 1e18, 0)
		ts.Require().NoError(err)
		ts.Require().Len(members, 1)
		ts.Equal("P", members[0].Member)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *StalledTestSuite) TestMoveStalledToWaitSkipsIDsWhoseJobWasDeleted() {
	err := ts.atomic(func(tx store.Tx) error {
		return tx.SAdd(ts.k.Stalled(), "gone")
	})
	ts.Require().NoError(err)

	var moved []string
	err = ts.atomic(func(tx store.Tx) error {
		m, err := moveStalledToWaitTx(tx, ts.k, ts.now)
		moved = m
		return err
	})
	ts.Require().NoError(err)
	ts.Empty(moved)

	err = ts.atomic(func(tx store.Tx) error {
		stalled, err := tx.SMembers(ts.k.Stalled())
		ts.Require().NoError(err)
		ts.Empty(stalled)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *StalledTestSuite) TestMoveStalledToWaitEmptySetIsNoOp() {
	var moved []string
	err := ts.atomic(func(tx store.Tx) error {
		m, err := moveStalledToWaitTx(tx, ts.k, ts.now)
		moved = m
		return err
	})
	ts.Require().NoError(err)
	ts.Empty(moved)
}

func (ts *StalledTestSuite) streamNames() []string {
	var names []string
	for _, e := range ts.backend.Entries(ts.k.Events()) {
		names = append(names, e["event"])
	}
	return names
}
