package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorsTestSuite struct {
	suite.Suite
}

func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}

func (ts *ErrorsTestSuite) TestCodeExtractsKnownSentinels() {
	cases := []struct {
		err  error
		code int
	}{
		{ErrMissingJob, -1},
		{ErrMissingLock, -2},
		{ErrNotActive, -3},
		{ErrPendingDependencies, -4},
		{ErrMissingParent, -5},
		{ErrLockMismatch, -6},
	}
	for _, c := range cases {
		code, ok := Code(c.err)
		ts.True(ok)
		ts.Equal(c.code, code)
	}
}

func (ts *ErrorsTestSuite) TestCodeReturnsFalseForUncodedErrors() {
	_, ok := Code(ErrReservedJobID)
	ts.False(ok)

	_, ok = Code(errors.New("some other error"))
	ts.False(ok)
}

func (ts *ErrorsTestSuite) TestErrorsIsMatchesSameSentinel() {
	ts.True(errors.Is(ErrMissingJob, ErrMissingJob))
	ts.False(errors.Is(ErrMissingJob, ErrMissingLock))
}
