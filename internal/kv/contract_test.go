package kv_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"soulid/internal/kv"
	dErrors "soulid/pkg/domain-errors"
	"soulid/pkg/platform/sentinel"
)

// contractSuite holds the behaviour every substrate must share. Backend
// suites embed it and set newStore in SetupTest.
type contractSuite struct {
	suite.Suite
	store kv.Store
}

var errAbort = errors.New("abort")

func (s *contractSuite) put(key, value string) {
	err := s.store.Update(context.Background(), func(txn kv.Txn) error {
		return txn.Put(key, []byte(value))
	})
	s.Require().NoError(err)
}

func (s *contractSuite) get(key string) (string, error) {
	var out string
	err := s.store.View(context.Background(), func(txn kv.Txn) error {
		v, err := txn.Get(key)
		if err != nil {
			return err
		}
		out = string(v)
		return nil
	})
	return out, err
}

func (s *contractSuite) TestGetMissingKey() {
	_, err := s.get("missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestCommitIsVisible() {
	s.put("a", "1")

	v, err := s.get("a")
	s.Require().NoError(err)
	s.Equal("1", v)
}

func (s *contractSuite) TestReadYourWrites() {
	err := s.store.Update(context.Background(), func(txn kv.Txn) error {
		s.Require().NoError(txn.Put("a", []byte("1")))
		v, err := txn.Get("a")
		s.Require().NoError(err)
		s.Equal("1", string(v))

		s.Require().NoError(txn.Delete("a"))
		_, err = txn.Get("a")
		s.ErrorIs(err, sentinel.ErrNotFound)

		s.Require().NoError(txn.Put("a", []byte("2")))
		return nil
	})
	s.Require().NoError(err)

	v, err := s.get("a")
	s.Require().NoError(err)
	s.Equal("2", v)
}

func (s *contractSuite) TestFailedUpdateRollsBack() {
	s.put("a", "1")

	err := s.store.Update(context.Background(), func(txn kv.Txn) error {
		s.Require().NoError(txn.Put("a", []byte("changed")))
		s.Require().NoError(txn.Put("b", []byte("new")))
		s.Require().NoError(txn.Delete("a"))
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	v, err := s.get("a")
	s.Require().NoError(err)
	s.Equal("1", v)
	_, err = s.get("b")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestDeleteCommits() {
	s.put("a", "1")
	err := s.store.Update(context.Background(), func(txn kv.Txn) error {
		return txn.Delete("a")
	})
	s.Require().NoError(err)

	_, err = s.get("a")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestViewIsReadOnly() {
	err := s.store.View(context.Background(), func(txn kv.Txn) error {
		return txn.Put("a", []byte("1"))
	})
	s.ErrorIs(err, sentinel.ErrReadOnly)

	err = s.store.View(context.Background(), func(txn kv.Txn) error {
		return txn.Delete("a")
	})
	s.ErrorIs(err, sentinel.ErrReadOnly)
}

func (s *contractSuite) TestEmptyKeyRejected() {
	err := s.store.Update(context.Background(), func(txn kv.Txn) error {
		return txn.Put("", []byte("1"))
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *contractSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.store.Update(ctx, func(txn kv.Txn) error {
		called = true
		return nil
	})
	s.Error(err)
	s.False(called)
}

func (s *contractSuite) TestJSONAndCounterHelpers() {
	type record struct {
		Name string `json:"name"`
	}
	err := s.store.Update(context.Background(), func(txn kv.Txn) error {
		n, err := kv.GetUint(txn, "counter")
		s.Require().NoError(err)
		s.Zero(n)
		s.Require().NoError(kv.PutUint(txn, "counter", n+41))
		return kv.PutJSON(txn, "record", record{Name: "alice"})
	})
	s.Require().NoError(err)

	err = s.store.View(context.Background(), func(txn kv.Txn) error {
		n, err := kv.GetUint(txn, "counter")
		s.Require().NoError(err)
		s.Equal(uint64(41), n)

		var r record
		s.Require().NoError(kv.GetJSON(txn, "record", &r))
		s.Equal("alice", r.Name)

		ok, err := kv.Exists(txn, "record")
		s.Require().NoError(err)
		s.True(ok)
		ok, err = kv.Exists(txn, "nope")
		s.Require().NoError(err)
		s.False(ok)
		return nil
	})
	s.Require().NoError(err)
}

// TestUpdatesAreSerialized runs read-modify-write increments concurrently.
// Lost updates would leave the counter short.
func (s *contractSuite) TestUpdatesAreSerialized() {
	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	var failures atomic.Int32
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				err := s.store.Update(ctx, func(txn kv.Txn) error {
					n, err := kv.GetUint(txn, "counter")
					if err != nil {
						return err
					}
					return kv.PutUint(txn, "counter", n+1)
				})
				cancel()
				if err != nil {
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	s.Require().Zero(failures.Load())

	err := s.store.View(context.Background(), func(txn kv.Txn) error {
		n, err := kv.GetUint(txn, "counter")
		if err != nil {
			return err
		}
		if n != workers*perWorker {
			return fmt.Errorf("counter = %d, want %d", n, workers*perWorker)
		}
		return nil
	})
	s.NoError(err)
}

// TestViewSeesWholeTransactions checks that a reader never observes one half
// of a two-key write.
func (s *contractSuite) TestViewSeesWholeTransactions() {
	s.put("left", "0")
	s.put("right", "0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 20; i++ {
			v := []byte(fmt.Sprint(i))
			_ = s.store.Update(ctx, func(txn kv.Txn) error {
				if err := txn.Put("left", v); err != nil {
					return err
				}
				return txn.Put("right", v)
			})
		}
	}()

	for i := 0; i < 50; i++ {
		err := s.store.View(ctx, func(txn kv.Txn) error {
			l, err := txn.Get("left")
			if err != nil {
				return err
			}
			r, err := txn.Get("right")
			if err != nil {
				return err
			}
			if string(l) != string(r) {
				return fmt.Errorf("torn read: left=%s right=%s", l, r)
			}
			return nil
		})
		if err != nil && !dErrors.HasCode(err, dErrors.CodeUnavailable) {
			s.Require().NoError(err)
		}
	}
	wg.Wait()
}
