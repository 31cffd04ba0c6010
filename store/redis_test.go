package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisStoreTestSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	store *RedisStore
}

func TestRedisStoreTestSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreTestSuite))
}

func (ts *RedisStoreTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	ts.Require().NoError(err)
	ts.mr = mr

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ts.store = NewRedisStore(client, WithLockTTL(200*time.Millisecond), WithLockRetryInterval(2*time.Millisecond))
}

func (ts *RedisStoreTestSuite) TearDownTest() {
	ts.mr.Close()
}

func (ts *RedisStoreTestSuite) TestAtomicSerializesConcurrentCallers() {
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := ts.store.Atomic(context.Background(), "q", func(tx Tx) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				return nil
			})
			ts.Require().NoError(err)
		}(i)
	}
	wg.Wait()

	ts.Len(order, 5)
}

func (ts *RedisStoreTestSuite) TestAtomicReleasesLockOnCompletion() {
	err := ts.store.Atomic(context.Background(), "q", func(tx Tx) error {
		return tx.HSet("h", map[string]string{"a": "1"})
	})
	ts.Require().NoError(err)

	exists := ts.mr.Exists("jobqueue:lock:q")
	ts.False(exists)
}

func (ts *RedisStoreTestSuite) TestAtomicPropagatesCallbackError() {
	sentinel := errTest("boom")
	err := ts.store.Atomic(context.Background(), "q", func(tx Tx) error {
		return sentinel
	})
	ts.ErrorIs(err, sentinel)
}

type errTest string

func (e errTest) Error() string { return string(e) }
