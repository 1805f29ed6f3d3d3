package events

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"soulid/internal/identity/models"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
	"soulid/pkg/platform/sentinel"
)

type LogSuite struct {
	suite.Suite
	kv  *kv.InMemory
	log *Log
	ctx context.Context
}

func TestLogSuite(t *testing.T) {
	suite.Run(t, new(LogSuite))
}

func (s *LogSuite) SetupTest() {
	s.kv = kv.NewInMemory()
	s.log = New()
	s.ctx = context.Background()
}

func (s *LogSuite) appendN(n int) {
	err := s.kv.Update(s.ctx, func(txn kv.Txn) error {
		for i := 0; i < n; i++ {
			identityID := id.IdentityID(i)
			e := &models.Event{
				Type:       models.EventIdentityMinted,
				IdentityID: &identityID,
				OccurredAt: time.Unix(int64(i), 0).UTC(),
			}
			if err := s.log.Append(txn, e); err != nil {
				return err
			}
		}
		return nil
	})
	s.Require().NoError(err)
}

func (s *LogSuite) list(after uint64, limit int) []*models.Event {
	var out []*models.Event
	s.Require().NoError(s.kv.View(s.ctx, func(txn kv.Txn) error {
		var err error
		out, err = s.log.List(txn, after, limit)
		return err
	}))
	return out
}

func (s *LogSuite) TestAppendAssignsSeqAndID() {
	s.appendN(3)

	events := s.list(0, 10)
	s.Require().Len(events, 3)
	for i, e := range events {
		s.Equal(uint64(i+1), e.Seq)
		s.False(e.ID.IsNil())
		s.Equal(id.IdentityID(i), *e.IdentityID)
	}
	s.NotEqual(events[0].ID, events[1].ID)
}

func (s *LogSuite) TestListPaging() {
	s.appendN(5)

	s.Len(s.list(0, 2), 2)
	page := s.list(2, 2)
	s.Require().Len(page, 2)
	s.Equal(uint64(3), page[0].Seq)
	s.Empty(s.list(5, 10))
	s.Empty(s.list(50, 10))
	s.Len(s.list(0, 0), 5)
}

func (s *LogSuite) TestListPastTheEnd() {
	s.appendN(1)

	for _, after := range []uint64{1, 2, math.MaxUint64 - 1, math.MaxUint64} {
		events := s.list(after, 10)
		s.NotNil(events)
		s.Empty(events, "after=%d", after)
	}
}

func (s *LogSuite) TestEmptyLog() {
	s.Empty(s.list(0, 10))
	s.Require().NoError(s.kv.View(s.ctx, func(txn kv.Txn) error {
		last, err := s.log.Last(txn)
		s.Require().NoError(err)
		s.Zero(last)
		_, err = s.log.Get(txn, 1)
		s.ErrorIs(err, sentinel.ErrNotFound)
		return nil
	}))
}

func (s *LogSuite) TestRolledBackAppendLeavesNoGap() {
	s.appendN(1)
	err := s.kv.Update(s.ctx, func(txn kv.Txn) error {
		if err := s.log.Append(txn, &models.Event{Type: models.EventIdentityBurned}); err != nil {
			return err
		}
		return sentinel.ErrConflict
	})
	s.ErrorIs(err, sentinel.ErrConflict)

	s.appendN(1)
	events := s.list(0, 10)
	s.Require().Len(events, 2)
	s.Equal(uint64(2), events[1].Seq)
	s.Equal(models.EventIdentityMinted, events[1].Type)
}

func (s *LogSuite) TestCursorOnlyMovesForward() {
	cursor := func() uint64 {
		var c uint64
		s.Require().NoError(s.kv.View(s.ctx, func(txn kv.Txn) error {
			var err error
			c, err = s.log.Cursor(txn)
			return err
		}))
		return c
	}
	set := func(seq uint64) {
		s.Require().NoError(s.kv.Update(s.ctx, func(txn kv.Txn) error {
			return s.log.SetCursor(txn, seq)
		}))
	}

	s.Zero(cursor())
	set(4)
	s.Equal(uint64(4), cursor())
	set(2)
	s.Equal(uint64(4), cursor())
}
