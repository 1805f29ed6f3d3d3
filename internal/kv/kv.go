// Package kv is the durable key-value substrate the registry runs on.
//
// Every registry mutation is a single Update call: the callback sees its own
// writes, and either all of them commit or none do. Update calls are
// serialized behind one writer per store, so uniqueness checks and the writes
// that depend on them can never interleave with another mutation. View
// callbacks observe the state as of the last committed Update.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	dErrors "soulid/pkg/domain-errors"
	"soulid/pkg/platform/sentinel"
)

// Reader is the read half of a transaction.
type Reader interface {
	// Get returns the value stored at key or sentinel.ErrNotFound.
	Get(key string) ([]byte, error)
}

// Txn is a read-write transaction. Writes are visible to later Gets in the
// same transaction and to nobody else until commit.
type Txn interface {
	Reader
	Put(key string, value []byte) error
	Delete(key string) error
}

// Store runs transactions against the substrate.
type Store interface {
	// View runs fn against a consistent snapshot. Writes fail with
	// sentinel.ErrReadOnly. Implementations may invoke fn more than once.
	View(ctx context.Context, fn func(txn Txn) error) error
	// Update runs fn as one atomic, serialized transaction. A non-nil error
	// from fn discards every write fn made.
	Update(ctx context.Context, fn func(txn Txn) error) error
}

// defaultTxTimeout bounds a transaction when the caller set no deadline.
const defaultTxTimeout = 5 * time.Second

// withTxTimeout applies the default transaction timeout unless ctx already
// carries a deadline, and rejects contexts that are already done.
func withTxTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

// GetJSON decodes the JSON value at key into v.
func GetJSON(r Reader, key string, v any) error {
	raw, err := r.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON stores v at key as JSON.
func PutJSON(txn Txn, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Put(key, raw)
}

// GetUint reads a decimal counter. A missing key reads as zero.
func GetUint(r Reader, key string) (uint64, error) {
	raw, err := r.Get(key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return n, nil
}

// PutUint stores a decimal counter.
func PutUint(txn Txn, key string, n uint64) error {
	return txn.Put(key, []byte(strconv.FormatUint(n, 10)))
}

// GetString reads a plain string value.
func GetString(r Reader, key string) (string, error) {
	raw, err := r.Get(key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Exists reports whether key holds a value.
func Exists(r Reader, key string) (bool, error) {
	_, err := r.Get(key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// writeSet buffers a transaction's writes until commit. A nil value marks a
// delete.
type writeSet struct {
	order  []string
	values map[string][]byte
}

func newWriteSet() *writeSet {
	return &writeSet{values: make(map[string][]byte)}
}

func (w *writeSet) put(key string, value []byte) {
	if _, ok := w.values[key]; !ok {
		w.order = append(w.order, key)
	}
	w.values[key] = append([]byte{}, value...)
}

func (w *writeSet) del(key string) {
	if _, ok := w.values[key]; !ok {
		w.order = append(w.order, key)
	}
	w.values[key] = nil
}

// lookup returns the buffered value for key. found is false when the
// transaction has not touched key.
func (w *writeSet) lookup(key string) (value []byte, found bool, err error) {
	v, ok := w.values[key]
	if !ok {
		return nil, false, nil
	}
	if v == nil {
		return nil, true, sentinel.ErrNotFound
	}
	return append([]byte{}, v...), true, nil
}

func validateKey(key string) error {
	if key == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "kv key cannot be empty")
	}
	return nil
}
