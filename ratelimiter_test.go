package queue

import (
	"context"
	"testing"

	"github.com/go-foundations/jobqueue/store"
	"github.com/stretchr/testify/suite"
)

type RateLimiterTestSuite struct {
	suite.Suite
	backend *store.MemoryStore
	k       store.Keys
	now     int64
}

func TestRateLimiterTestSuite(t *testing.T) {
	suite.Run(t, new(RateLimiterTestSuite))
}

func (ts *RateLimiterTestSuite) SetupTest() {
	ts.now = 1_700_000_000_000
	ts.backend = store.NewMemoryStore(func() int64 { return ts.now })
	ts.k = store.NewKeys("q")
}

func (ts *RateLimiterTestSuite) atomic(fn func(tx store.Tx) error) error {
	return ts.backend.Atomic(context.Background(), "q", fn)
}

func (ts *RateLimiterTestSuite) TestDisabledLimiterNeverBlocks() {
	err := ts.atomic(func(tx store.Tx) error {
		expire, err := checkRateLimit(tx, ts.k, Limiter{})
		ts.Require().NoError(err)
		ts.Equal(int64(0), expire)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *RateLimiterTestSuite) TestLimiterBlocksOnceMaxReached() {
	limiter := Limiter{Max: 2, Duration: 1000}

	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(recordRateLimitedStart(tx, ts.k, limiter))
		return recordRateLimitedStart(tx, ts.k, limiter)
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		expire, err := checkRateLimit(tx, ts.k, limiter)
		ts.Require().NoError(err)
		ts.Greater(expire, int64(0))
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *RateLimiterTestSuite) TestLimiterClearsAfterTTLExpires() {
	limiter := Limiter{Max: 1, Duration: 1000}

	err := ts.atomic(func(tx store.Tx) error {
		return recordRateLimitedStart(tx, ts.k, limiter)
	})
	ts.Require().NoError(err)

	ts.now += 1500

	err = ts.atomic(func(tx store.Tx) error {
		expire, err := checkRateLimit(tx, ts.k, limiter)
		ts.Require().NoError(err)
		ts.Equal(int64(0), expire)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *RateLimiterTestSuite) TestRollbackRateLimitedJobRequeuesByPriority() {
	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.LPush(ts.k.Active(), "job-1"))
		return rollbackRateLimitedJob(tx, ts.k, "job-1", 5)
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		activeLen, err := tx.LLen(ts.k.Active())
		ts.Require().NoError(err)
		ts.Equal(int64(0), activeLen)

		card, err := tx.ZCard(ts.k.Prioritized())
		ts.Require().NoError(err)
		ts.Equal(int64(1), card)
		return nil
	})
	ts.Require().NoError(err)
}

func (ts *RateLimiterTestSuite) TestRollbackRateLimitedJobRequeuesToTargetWhenUnprioritized() {
	err := ts.atomic(func(tx store.Tx) error {
		ts.Require().NoError(tx.LPush(ts.k.Active(), "job-1"))
		return rollbackRateLimitedJob(tx, ts.k, "job-1", 0)
	})
	ts.Require().NoError(err)

	err = ts.atomic(func(tx store.Tx) error {
		tail, err := tx.LRange(ts.k.Wait(), 0, -1)
		ts.Require().NoError(err)
		ts.Equal([]string{"job-1"}, tail)
		return nil
	})
	ts.Require().NoError(err)
}
