package queue

import (
	"context"
	"testing"

	"github.com/go-foundations/jobqueue/store"
	"github.com/stretchr/testify/suite"
)

type ParentTestSuite struct {
	suite.Suite
	backend *store.MemoryStore
	now     int64
}

func TestParentTestSuite(t *testing.T) {
	suite.Run(t, new(ParentTestSuite))
}

func (ts *ParentTestSuite) SetupTest() {
	ts.now = 1_700_000_000_000
	ts.backend = store.NewMemoryStore(func() int64 { return ts.now })
}

func (ts *ParentTestSuite) atomic(fn func(tx store.Tx) error) error {
	return ts.backend.Atomic(context.Background(), "q", fn)
}

func (ts *ParentTestSuite) TestResolveParentPrefixPrefersParentRef() {
	j := Job{ParentKey: "otherq:9", Parent: &ParentRef{ID: "5", QueueKey: "parentq"}}
	prefix, id, ok := resolveParentPrefix(j)
	ts.True(ok)
	ts.Equal("parentq", prefix)
	ts.Equal("5", id)
}

func (ts *ParentTestSuite) TestResolveParentPrefixFallsBackToParentKey() {
	j := Job{ParentKey: "parentq:5"}
	prefix, id, ok := resolveParentPrefix(j)
	ts.True(ok)
	ts.Equal("parentq", prefix)
	ts.Equal("5", id)
}

func (ts *ParentTestSuite) TestResolveParentPrefixFalseWhenAbsent() {
	_, _, ok := resolveParentPrefix(Job{})
	ts.False(ok)
}

func (ts *ParentTestSuite) TestOnChildCompletedReleasesParentWhenLastDependencyResolves() {
	pk := store.NewKeys("parentq")
	ck := store.NewKeys("childq")

	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.HSet(pk.Job("p1"), Job{ID: "p1", Name: "parent"}.ToFields()))
		ts.Require().NoError(tx.ZAdd(pk.WaitingChildren(), float64(ts.now), "p1"))
		return tx.SAdd(pk.Dependencies("p1"), childKey("childq", "c1"))
	})
	ts.Require().NoError(err)

	child := Job{ID: "c1", ReturnValue: "ok", Parent: &ParentRef{ID: "p1", QueueKey: "parentq"}}

	err = ts.atomic(func(tx store.Tx) error {
		return onChildCompleted(tx, emitEvent, "childq", child, ts.now)
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		remaining, err := tx.SCard(pk.Dependencies("p1"))
		ts.Require().NoError(err)
		ts.Equal(int64(0), remaining)

		_, stillWaiting, err := tx.ZScore(pk.WaitingChildren(), "p1")
		ts.Require().NoError(err)
		ts.False(stillWaiting)

		head, ok, err := tx.LIndex(pk.Wait(), 0)
		ts.Require().NoError(err)
		ts.True(ok)
		ts.Equal("p1", head)

		processed, _, err := tx.HGet(pk.Processed("p1"), ck.Job("c1"))
		ts.Require().NoError(err)
		ts.Equal("ok", processed)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *ParentTestSuite) TestOnChildCompletedKeepsParentWaitingWhenDependenciesRemain() {
	pk := store.NewKeys("parentq")

	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.HSet(pk.Job("p1"), Job{ID: "p1"}.ToFields()))
		ts.Require().NoError(tx.ZAdd(pk.WaitingChildren(), float64(ts.now), "p1"))
		ts.Require().NoError(tx.SAdd(pk.Dependencies("p1"), childKey("childq", "c1")))
		return tx.SAdd(pk.Dependencies("p1"), childKey("childq", "c2"))
	})
	ts.Require().NoError(err)

	child := Job{ID: "c1", Parent: &ParentRef{ID: "p1", QueueKey: "parentq"}}

	err = ts.atomic(func(tx store.Tx) error {
		return onChildCompleted(tx, emitEvent, "childq", child, ts.now)
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		remaining, err := tx.SCard(pk.Dependencies("p1"))
		ts.Require().NoError(err)
		ts.Equal(int64(1), remaining)

		_, stillWaiting, err := tx.ZScore(pk.WaitingChildren(), "p1")
		ts.Require().NoError(err)
		ts.True(stillWaiting)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *ParentTestSuite) TestOnChildFailedFailsParentOnFPOF() {
	pk := store.NewKeys("parentq")

	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.HSet(pk.Job("p1"), Job{ID: "p1"}.ToFields()))
		return tx.ZAdd(pk.WaitingChildren(), float64(ts.now), "p1")
	})
	ts.Require().NoError(err)

	child := Job{ID: "c1", FPOF: true, Parent: &ParentRef{ID: "p1", QueueKey: "parentq"}}

	err = ts.atomic(func(tx store.Tx) error {
		return onChildFailed(tx, emitEvent, "childq", child, ts.now)
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		_, inFailed, err := tx.ZScore(pk.Failed(), "p1")
		ts.Require().NoError(err)
		ts.True(inFailed)

		_, stillWaiting, err := tx.ZScore(pk.WaitingChildren(), "p1")
		ts.Require().NoError(err)
		ts.False(stillWaiting)

		reason, _, err := tx.HGet(pk.Job("p1"), "failedReason")
		ts.Require().NoError(err)
		ts.Contains(reason, "childq:c1")
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *ParentTestSuite) TestOnChildFailedCascadesUpGrandparentChain() {
	gpk := store.NewKeys("grandparentq")
	pk := store.NewKeys("parentq")

	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.HSet(gpk.Job("gp1"), Job{ID: "gp1"}.ToFields()))
		ts.Require().NoError(tx.ZAdd(gpk.WaitingChildren(), float64(ts.now), "gp1"))

		parentFields := Job{ID: "p1", Parent: &ParentRef{ID: "gp1", QueueKey: "grandparentq"}}.ToFields()
		ts.Require().NoError(tx.HSet(pk.Job("p1"), parentFields))
		return tx.ZAdd(pk.WaitingChildren(), float64(ts.now), "p1")
	})
	ts.Require().NoError(err)

	child := Job{ID: "c1", FPOF: true, Parent: &ParentRef{ID: "p1", QueueKey: "parentq"}}

	err = ts.atomic(func(tx store.Tx) error {
		return onChildFailed(tx, emitEvent, "childq", child, ts.now)
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		_, parentFailed, err := tx.ZScore(pk.Failed(), "p1")
		ts.Require().NoError(err)
		ts.True(parentFailed)

		_, grandparentFailed, err := tx.ZScore(gpk.Failed(), "gp1")
		ts.Require().NoError(err)
		ts.True(grandparentFailed)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *ParentTestSuite) TestOnChildFailedReleasesParentOnRDOF() {
	pk := store.NewKeys("parentq")

	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.HSet(pk.Job("p1"), Job{ID: "p1"}.ToFields()))
		ts.Require().NoError(tx.ZAdd(pk.WaitingChildren(), float64(ts.now), "p1"))
		return tx.SAdd(pk.Dependencies("p1"), childKey("childq", "c1"))
	})
	ts.Require().NoError(err)

	child := Job{ID: "c1", RDOF: true, Parent: &ParentRef{ID: "p1", QueueKey: "parentq"}}

	err = ts.atomic(func(tx store.Tx) error {
		return onChildFailed(tx, emitEvent, "childq", child, ts.now)
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		_, inFailed, err := tx.ZScore(pk.Failed(), "p1")
		ts.Require().NoError(err)
		ts.False(inFailed)

		head, ok, err := tx.LIndex(pk.Wait(), 0)
		ts.Require().NoError(err)
		ts.True(ok)
		ts.Equal("p1", head)
		return nil
	})
	ts.Require().NoError(err)
}
