// Package events is the registry's append-only event log.
//
// Events are written inside the same transaction as the mutation they
// describe, so the log and the registry state never disagree. A relay reads
// the log after commit and forwards it to Kafka; its progress is the cursor
// key, also kept in the substrate.
package events

import (
	"errors"
	"fmt"

	"soulid/internal/identity/models"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
	"soulid/pkg/platform/sentinel"
)

const (
	seqKey    = "event/seq"
	eventPfx  = "event/"
	cursorKey = "relay/cursor"
)

// MaxListLimit caps one List page.
const MaxListLimit = 500

// Log reads and appends events.
type Log struct{}

// New constructs a Log.
func New() *Log {
	return &Log{}
}

func eventKey(seq uint64) string {
	// Zero padding keeps keys lexically ordered for range-capable backends.
	return fmt.Sprintf("%s%020d", eventPfx, seq)
}

// Append assigns the next sequence number and a fresh id to e and stores it.
func (l *Log) Append(txn kv.Txn, e *models.Event) error {
	last, err := kv.GetUint(txn, seqKey)
	if err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	e.Seq = last + 1
	if e.ID.IsNil() {
		e.ID = id.NewEventID()
	}
	if err := kv.PutJSON(txn, eventKey(e.Seq), e); err != nil {
		return err
	}
	return kv.PutUint(txn, seqKey, e.Seq)
}

// Last returns the sequence number of the newest event, 0 for an empty log.
func (l *Log) Last(r kv.Reader) (uint64, error) {
	return kv.GetUint(r, seqKey)
}

// Get returns the event with sequence number seq or sentinel.ErrNotFound.
func (l *Log) Get(r kv.Reader, seq uint64) (*models.Event, error) {
	var e models.Event
	if err := kv.GetJSON(r, eventKey(seq), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns up to limit events with Seq > after, oldest first.
func (l *Log) List(r kv.Reader, after uint64, limit int) ([]*models.Event, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	last, err := l.Last(r)
	if err != nil {
		return nil, err
	}
	if after >= last {
		return []*models.Event{}, nil
	}
	out := make([]*models.Event, 0, min(uint64(limit), last-after))
	for seq := after + 1; seq <= last && len(out) < limit; seq++ {
		e, err := l.Get(r, seq)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("event %d missing below seq %d: %w", seq, last, sentinel.ErrInvalidState)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Cursor returns the sequence number of the last relayed event.
func (l *Log) Cursor(r kv.Reader) (uint64, error) {
	return kv.GetUint(r, cursorKey)
}

// SetCursor records relay progress. The cursor never moves backwards.
func (l *Log) SetCursor(txn kv.Txn, seq uint64) error {
	current, err := l.Cursor(txn)
	if err != nil {
		return err
	}
	if seq <= current {
		return nil
	}
	return kv.PutUint(txn, cursorKey, seq)
}
